package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/calderaware/refinery/internal/database"
	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
)

var repoTracer = otel.Tracer("github.com/calderaware/refinery/repository/record")

// ErrNotFound is returned when a restoration record is missing.
var ErrNotFound = errors.New("restoration record not found")

// ErrStatusConflict is returned when a guarded update matched no row because
// the record's status moved underneath the caller. The database is the final
// arbiter for cross-client races; callers surface this as an ordinary error
// and never retry automatically.
var ErrStatusConflict = errors.New("record status changed concurrently")

// Patch carries the subset of mutable fields to write. Nil fields are left
// untouched, so a field-only save and a status mutation merge independently.
type Patch struct {
	Status       *lifecycle.Status
	DamageReason *lifecycle.DamageReason
	Notes        *string
	TagNumbers   *[]string
	Photos       *[]string
	LocalPickup  *bool
	ResolvedAt   *time.Time

	// SetTimestamps stamps or clears stage timestamps; a nil value clears.
	SetTimestamps map[lifecycle.StageTimestamp]*time.Time
}

// Empty reports whether the patch would write nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.DamageReason == nil && p.Notes == nil &&
		p.TagNumbers == nil && p.Photos == nil && p.LocalPickup == nil &&
		p.ResolvedAt == nil && len(p.SetTimestamps) == 0
}

// Repository encapsulates read/write access for restoration records.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create persists a new record using the write connection.
func (r *Repository) Create(ctx context.Context, rec *entity.RestorationRecord) error {
	if rec == nil {
		return errors.New("nil record")
	}
	ctx, span := repoTracer.Start(ctx, "RecordRepository.Create", trace.WithAttributes(attribute.String("record.id", rec.ID)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches a record by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id string) (*entity.RestorationRecord, error) {
	ctx, span := repoTracer.Start(ctx, "RecordRepository.GetByID", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec := new(entity.RestorationRecord)
	err := r.reader.NewSelect().Model(rec).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return rec, nil
}

// List returns records created inside the supplied time window. A zero bound
// leaves that side open.
func (r *Repository) List(ctx context.Context, from, to time.Time) ([]entity.RestorationRecord, error) {
	ctx, span := repoTracer.Start(ctx, "RecordRepository.List")
	defer span.End()

	var records []entity.RestorationRecord
	q := r.reader.NewSelect().Model(&records).Order("created_at DESC")
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return records, nil
}

// UpdatePartial writes only the fields present in patch. When expectedStatus
// is non-nil the update is guarded by it, which rejects a status mutation
// that raced against another client.
func (r *Repository) UpdatePartial(ctx context.Context, id string, expectedStatus *lifecycle.Status, patch Patch) error {
	ctx, span := repoTracer.Start(ctx, "RecordRepository.UpdatePartial", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if patch.Empty() {
		return nil
	}

	q := r.writer.NewUpdate().
		Model((*entity.RestorationRecord)(nil)).
		Where("id = ?", id).
		Set("updated_at = ?", time.Now().UTC())

	if patch.Status != nil {
		q = q.Set("status = ?", *patch.Status)
	}
	if patch.DamageReason != nil {
		q = q.Set("damage_reason = ?", string(*patch.DamageReason))
	}
	if patch.Notes != nil {
		q = q.Set("notes = ?", *patch.Notes)
	}
	if patch.TagNumbers != nil {
		encoded, err := json.Marshal(*patch.TagNumbers)
		if err != nil {
			return err
		}
		q = q.Set("tag_numbers = ?", string(encoded))
	}
	if patch.Photos != nil {
		encoded, err := json.Marshal(*patch.Photos)
		if err != nil {
			return err
		}
		q = q.Set("photos = ?", string(encoded))
	}
	if patch.LocalPickup != nil {
		q = q.Set("local_pickup = ?", *patch.LocalPickup)
	}
	if patch.ResolvedAt != nil {
		q = q.Set("resolved_at = ?", *patch.ResolvedAt)
	}
	for ts, value := range patch.SetTimestamps {
		q = q.Set(string(ts)+" = ?", value)
	}
	if expectedStatus != nil {
		q = q.Where("status = ?", *expectedStatus)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if expectedStatus != nil {
			span.SetStatus(codes.Error, "status conflict")
			return ErrStatusConflict
		}
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	return nil
}
