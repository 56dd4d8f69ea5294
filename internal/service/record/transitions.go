package record

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
	repo "github.com/calderaware/refinery/internal/repository/record"
	"github.com/calderaware/refinery/pkg/errorbank"
)

// Advance moves a record forward one stage, or onto the cancelled branch.
// Legality is checked before any I/O, so an illegal target never reaches the
// database. The accompanying field patch is applied atomically with the
// status change. Damage requires a reason and goes through MarkDamaged.
func (s *Service) Advance(ctx context.Context, id string, target lifecycle.Status, patch FieldPatch) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.Advance", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.String("record.target", string(target)),
	))
	defer span.End()

	if target == lifecycle.StatusDamaged {
		return nil, errorbank.BadRequest("damage requires a reason; use the damage operation")
	}
	if patch.TagNumbers != nil {
		if err := entity.ValidateTagNumbers(*patch.TagNumbers); err != nil {
			return nil, errorbank.BadRequest(err.Error())
		}
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tagCount := len(rec.TagNumbers)
	if patch.TagNumbers != nil {
		tagCount = len(*patch.TagNumbers)
	}
	if err := lifecycle.CanAdvance(rec.Status, target, tagCount); err != nil {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, transitionError(rec.Status, target, err)
	}

	update := repo.Patch{
		Status:      &target,
		Notes:       patch.Notes,
		TagNumbers:  patch.TagNumbers,
		LocalPickup: patch.LocalPickup,
	}
	now := time.Now().UTC()
	if ts, ok := lifecycle.EnteredTimestamp(target); ok {
		if slot := rec.StageTimestamp(ts); slot != nil && *slot == nil {
			stamp := now
			update.SetTimestamps = map[lifecycle.StageTimestamp]*time.Time{ts: &stamp}
		}
	}

	if err := s.commitStatus(ctx, rec, update); err != nil {
		return nil, err
	}

	s.publishStatusChanged(ctx, StatusChangedEvent{
		ID:         id,
		From:       string(rec.Status),
		To:         string(target),
		OccurredAt: now,
	})
	return s.Get(ctx, id)
}

// Revert steps a record back exactly one stage. The operation clears every
// stage timestamp strictly later than the target stage, which is destructive
// and audit-relevant, so it demands an explicit audit reason instead of a UI
// confirmation.
func (s *Service) Revert(ctx context.Context, id, auditReason string) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.Revert", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	if auditReason == "" {
		return nil, errorbank.BadRequest("an audit reason is required to revert a stage")
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev, err := lifecycle.CanRevert(rec.Status)
	if err != nil {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, transitionError(rec.Status, prev, err)
	}

	cleared := make(map[lifecycle.StageTimestamp]*time.Time)
	for _, ts := range lifecycle.TimestampsAfter(prev) {
		cleared[ts] = nil
	}
	update := repo.Patch{
		Status:        &prev,
		SetTimestamps: cleared,
	}

	if err := s.commitStatus(ctx, rec, update); err != nil {
		return nil, err
	}

	s.logger.Info("record stage reverted",
		zap.String("id", id),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(prev)),
		zap.String("audit_reason", auditReason),
	)
	s.publishStatusChanged(ctx, StatusChangedEvent{
		ID:          id,
		From:        string(rec.Status),
		To:          string(prev),
		AuditReason: auditReason,
		OccurredAt:  time.Now().UTC(),
	})
	return s.Get(ctx, id)
}

// MarkDamaged moves a record onto the damaged terminal branch. Legal from
// any non-terminal state; the check-in gate does not apply.
func (s *Service) MarkDamaged(ctx context.Context, id string, reason lifecycle.DamageReason, patch FieldPatch) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.MarkDamaged", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.String("record.damage_reason", string(reason)),
	))
	defer span.End()

	if !reason.Valid() {
		return nil, errorbank.BadRequest(lifecycle.ErrDamageReasonRequired.Error())
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.CanAdvance(rec.Status, lifecycle.StatusDamaged, len(rec.TagNumbers)); err != nil {
		span.SetStatus(codes.Error, "illegal transition")
		return nil, transitionError(rec.Status, lifecycle.StatusDamaged, err)
	}

	damaged := lifecycle.StatusDamaged
	update := repo.Patch{
		Status:       &damaged,
		DamageReason: &reason,
		Notes:        patch.Notes,
	}

	if err := s.commitStatus(ctx, rec, update); err != nil {
		return nil, err
	}

	// Abandon any photo batch still in flight for the closed-out record.
	s.photos.Cancel(id)

	s.publishStatusChanged(ctx, StatusChangedEvent{
		ID:           id,
		From:         string(rec.Status),
		To:           string(lifecycle.StatusDamaged),
		DamageReason: string(reason),
		OccurredAt:   time.Now().UTC(),
	})
	return s.Get(ctx, id)
}

// ResolveDamaged closes out a damaged record. The record keeps its damaged
// status for reporting; resolved_at flags it as handled. Legal exactly once.
func (s *Service) ResolveDamaged(ctx context.Context, id string) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.ResolveDamaged", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status != lifecycle.StatusDamaged {
		return nil, errorbank.Unprocessable(lifecycle.ErrNotDamaged.Error())
	}
	if rec.ResolvedAt != nil {
		return nil, errorbank.Conflict(lifecycle.ErrAlreadyResolved.Error())
	}

	now := time.Now().UTC()
	update := repo.Patch{ResolvedAt: &now}

	if err := s.commitStatus(ctx, rec, update); err != nil {
		return nil, err
	}

	s.publishStatusChanged(ctx, StatusChangedEvent{
		ID:         id,
		From:       string(lifecycle.StatusDamaged),
		To:         string(lifecycle.StatusDamaged),
		OccurredAt: now,
	})
	return s.Get(ctx, id)
}

// commitStatus serializes the write behind the record's mutation mutex and
// guards the update with the status the caller validated against. A held
// mutex means a duplicate submit; the caller's request becomes a no-op.
func (s *Service) commitStatus(ctx context.Context, rec *entity.RestorationRecord, update repo.Patch) error {
	if !s.mutex.TryAcquire(rec.ID) {
		return ErrMutationInFlight
	}
	defer s.mutex.Release(rec.ID)

	expected := rec.Status
	if err := s.repo.UpdatePartial(ctx, rec.ID, &expected, update); err != nil {
		switch {
		case errors.Is(err, repo.ErrStatusConflict):
			return errorbank.Conflict("record changed concurrently; reload and retry", errorbank.WithCause(err))
		case errors.Is(err, repo.ErrNotFound):
			return errorbank.NotFound("restoration record not found")
		default:
			// Status unchanged on the server; the caller retries explicitly.
			return errorbank.Internal("failed to persist status change", errorbank.WithCause(err))
		}
	}

	s.invalidateCache(ctx, rec.ID)
	return nil
}

func transitionError(from, to lifecycle.Status, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrCheckInGate):
		return errorbank.Unprocessable(err.Error())
	default:
		return errorbank.Unprocessable(lifecycle.ErrInvalidTransition.Error(),
			errorbank.WithDetail("from", string(from)),
			errorbank.WithDetail("to", string(to)),
		)
	}
}
