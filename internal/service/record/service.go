package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/cache"
	"github.com/calderaware/refinery/internal/config"
	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
	"github.com/calderaware/refinery/internal/messaging"
	"github.com/calderaware/refinery/internal/photo"
	repo "github.com/calderaware/refinery/internal/repository/record"
	"github.com/calderaware/refinery/pkg/errorbank"
	"github.com/calderaware/refinery/pkg/keymutex"
)

var serviceTracer = otel.Tracer("github.com/calderaware/refinery/service/record")

// ErrMutationInFlight signals a duplicate status-mutation submit while one
// is already pending for the record. Transport treats it as a silent no-op,
// not an error surfaced to the operator.
var ErrMutationInFlight = errors.New("status mutation already in flight")

// Repository is the persistence surface the service depends on.
type Repository interface {
	GetByID(ctx context.Context, id string) (*entity.RestorationRecord, error)
	List(ctx context.Context, from, to time.Time) ([]entity.RestorationRecord, error)
	UpdatePartial(ctx context.Context, id string, expectedStatus *lifecycle.Status, patch repo.Patch) error
}

// PhotoIngester is the slice of the photo pipeline the service uses.
type PhotoIngester interface {
	IngestBatch(ctx context.Context, recordID string, files []photo.File, slots int) ([]string, error)
	Cancel(recordID string)
	Cleanup(ctx context.Context, ref string)
	Trusted(ref string) bool
}

// FieldPatch carries direct field edits that bypass the state machine.
// Nil fields are untouched.
type FieldPatch struct {
	Notes       *string
	TagNumbers  *[]string
	LocalPickup *bool
}

// Service owns restoration record state: every status mutation goes through
// its transition checks and the per-record mutation mutex.
type Service struct {
	repo      Repository
	photos    PhotoIngester
	cache     cache.Store
	cacheTTL  time.Duration
	mutex     *keymutex.KeyMutex
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository Repository
	Photos     PhotoIngester
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		photos:    p.Photos,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		mutex:     keymutex.New(),
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
	}
}

// Get retrieves a record by id, consulting cache when available.
func (s *Service) Get(ctx context.Context, id string) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.Get", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if rec, err := s.getFromCache(ctx, id); err == nil {
		return rec, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		if s.logger != nil {
			s.logger.Warn("records cache read failed", zap.String("id", id), zap.Error(err))
		}
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("restoration record not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load record", errorbank.WithCause(err))
	}

	if err := s.storeInCache(ctx, rec); err != nil {
		if s.logger != nil {
			s.logger.Warn("records cache write failed", zap.String("id", id), zap.Error(err))
		}
	}

	return rec, nil
}

// List returns records created inside the supplied window.
func (s *Service) List(ctx context.Context, from, to time.Time) ([]entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.List")
	defer span.End()

	records, err := s.repo.List(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list records", errorbank.WithCause(err))
	}
	return records, nil
}

// UpdateFields writes notes, tag numbers, or the local-pickup flag. These
// edits stay outside the state machine and do not take the mutation mutex,
// so a field save and an in-flight status mutation merge independently.
func (s *Service) UpdateFields(ctx context.Context, id string, patch FieldPatch) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.UpdateFields", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if patch.TagNumbers != nil {
		if err := entity.ValidateTagNumbers(*patch.TagNumbers); err != nil {
			return nil, errorbank.BadRequest(err.Error())
		}
	}

	update := repo.Patch{
		Notes:       patch.Notes,
		TagNumbers:  patch.TagNumbers,
		LocalPickup: patch.LocalPickup,
	}
	if update.Empty() {
		return s.Get(ctx, id)
	}

	if err := s.repo.UpdatePartial(ctx, id, nil, update); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("restoration record not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to update record", errorbank.WithCause(err))
	}

	s.invalidateCache(ctx, id)
	return s.Get(ctx, id)
}

func (s *Service) cacheKey(id string) string {
	return fmt.Sprintf("records:%s", id)
}

func (s *Service) getFromCache(ctx context.Context, id string) (*entity.RestorationRecord, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var rec entity.RestorationRecord
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) storeInCache(ctx context.Context, rec *entity.RestorationRecord) error {
	if s.cache == nil || rec == nil {
		return nil
	}
	bytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(rec.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil && s.logger != nil {
		s.logger.Warn("records cache invalidation failed", zap.String("id", id), zap.Error(err))
	}
}

// StatusChangedEvent is emitted after a persisted status mutation.
type StatusChangedEvent struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	DamageReason string    `json:"damage_reason,omitempty"`
	AuditReason  string    `json:"audit_reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (s *Service) publishStatusChanged(ctx context.Context, event StatusChangedEvent) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("marshal status changed", zap.Error(err))
		}
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("record-%s", event.ID)), payload); err != nil {
		if s.logger != nil {
			s.logger.Error("publish status changed", zap.Error(err))
		}
	}
}
