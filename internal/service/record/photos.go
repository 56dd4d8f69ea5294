package record

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/photo"
	repo "github.com/calderaware/refinery/internal/repository/record"
	"github.com/calderaware/refinery/pkg/errorbank"
)

// AttachPhotos runs a batch through the ingest pipeline and appends the
// resulting references to the record. The batch is truncated to the slots
// remaining below the photo cap; extra files are silently dropped. Photo
// saves do not take the mutation mutex, so they can overlap a status change
// and merge through independent partial updates.
func (s *Service) AttachPhotos(ctx context.Context, id string, files []photo.File) ([]string, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.AttachPhotos", trace.WithAttributes(
		attribute.String("record.id", id),
		attribute.Int("photo.submitted", len(files)),
	))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	slots := entity.MaxPhotos - len(rec.Photos)
	if slots <= 0 {
		span.SetAttributes(attribute.Int("photo.uploaded", 0))
		return nil, nil
	}

	refs, err := s.photos.IngestBatch(ctx, id, files, slots)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded batch: nothing reaches the persisted photo list.
			span.SetStatus(codes.Error, "batch cancelled")
			return nil, nil
		}
		span.RecordError(err)
		return nil, errorbank.Internal("photo ingest failed", errorbank.WithCause(err))
	}

	trusted := refs[:0]
	for _, ref := range refs {
		if s.photos.Trusted(ref) {
			trusted = append(trusted, ref)
			continue
		}
		s.logger.Warn("dropping untrusted photo reference", zap.String("id", id), zap.String("ref", ref))
	}
	if len(trusted) == 0 {
		return nil, nil
	}

	merged := append(append([]string(nil), rec.Photos...), trusted...)
	if len(merged) > entity.MaxPhotos {
		merged = merged[:entity.MaxPhotos]
	}

	if err := s.repo.UpdatePartial(ctx, id, nil, repo.Patch{Photos: &merged}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to persist photos", errorbank.WithCause(err))
	}
	s.invalidateCache(ctx, id)

	span.SetAttributes(attribute.Int("photo.uploaded", len(trusted)))
	return trusted, nil
}

// RemovePhoto drops a reference from the record's photo list, then attempts
// storage cleanup. The list update is the authoritative part; a cleanup
// failure after its retries is logged and never surfaced.
func (s *Service) RemovePhoto(ctx context.Context, id, ref string) (*entity.RestorationRecord, error) {
	ctx, span := serviceTracer.Start(ctx, "RecordService.RemovePhoto", trace.WithAttributes(attribute.String("record.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	remaining := make([]string, 0, len(rec.Photos))
	found := false
	for _, p := range rec.Photos {
		if p == ref && !found {
			found = true
			continue
		}
		remaining = append(remaining, p)
	}
	if !found {
		return nil, errorbank.NotFound("photo not attached to record")
	}

	if err := s.repo.UpdatePartial(ctx, id, nil, repo.Patch{Photos: &remaining}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to remove photo", errorbank.WithCause(err))
	}
	s.invalidateCache(ctx, id)

	s.photos.Cleanup(ctx, ref)

	return s.Get(ctx, id)
}
