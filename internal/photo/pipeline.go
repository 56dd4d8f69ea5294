package photo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/config"
)

var pipelineTracer = otel.Tracer("github.com/calderaware/refinery/photo")

// File is one image submitted for ingest.
type File struct {
	Name        string
	Data        []byte
	ContentType string
}

// Pipeline resizes, re-encodes, and uploads photos for restoration records.
// Only one batch is in flight per record: starting a new batch cancels the
// previous one and its partial results are discarded.
type Pipeline struct {
	store  ObjectStore
	logger *zap.Logger
	cfg    config.Photo

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewPipeline constructs the ingest pipeline.
func NewPipeline(store ObjectStore, cfg config.Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		logger: logger,
		cfg:    cfg.Photo,
		active: make(map[string]context.CancelFunc),
	}
}

// IngestBatch processes up to slots files for recordID and returns the
// uploaded references in submission order. Files beyond the remaining photo
// slots are silently dropped. A batch cancelled mid-flight returns
// context.Canceled and no references; nothing half-written reaches storage.
func (p *Pipeline) IngestBatch(ctx context.Context, recordID string, files []File, slots int) ([]string, error) {
	ctx, span := pipelineTracer.Start(ctx, "PhotoPipeline.IngestBatch", trace.WithAttributes(
		attribute.String("record.id", recordID),
		attribute.Int("photo.files", len(files)),
	))
	defer span.End()

	batchCtx := p.begin(recordID, ctx)
	defer p.finish(recordID, batchCtx)

	if slots < 0 {
		slots = 0
	}
	if len(files) > slots {
		files = files[:slots]
	}

	refs := make([]string, 0, len(files))
	for _, f := range files {
		ref, err := p.process(batchCtx, recordID, f)
		if err != nil {
			if batchCtx.Err() != nil {
				// Superseded or abandoned; discard partial results.
				span.SetStatus(codes.Error, "batch cancelled")
				return nil, batchCtx.Err()
			}
			// One bad file must not block the rest of the batch.
			p.logger.Warn("photo ingest failed",
				zap.String("record_id", recordID),
				zap.String("file", f.Name),
				zap.Error(err),
			)
			span.RecordError(err)
			continue
		}
		refs = append(refs, ref)
	}
	span.SetAttributes(attribute.Int("photo.uploaded", len(refs)))
	return refs, nil
}

// Cancel aborts any in-flight batch for recordID, e.g. when the record's
// detail view closes.
func (p *Pipeline) Cancel(recordID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.active[recordID]; ok {
		cancel()
		delete(p.active, recordID)
	}
}

// Cleanup deletes a stored photo with bounded exponential backoff. Failures
// are logged and swallowed: the record's photo list, not storage occupancy,
// is the source of truth.
func (p *Pipeline) Cleanup(ctx context.Context, ref string) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.CleanupBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempts := uint64(p.cfg.CleanupAttempts)
	if attempts == 0 {
		attempts = 1
	}
	op := func() error {
		return p.store.Delete(ctx, ref)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx))
	if err != nil {
		p.logger.Warn("photo cleanup abandoned",
			zap.String("ref", ref),
			zap.Uint64("attempts", attempts),
			zap.Error(err),
		)
	}
}

// Trusted reports whether ref points into the configured store.
func (p *Pipeline) Trusted(ref string) bool {
	return p.store.Trusted(ref)
}

func (p *Pipeline) begin(recordID string, parent context.Context) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.active[recordID]; ok {
		cancel()
	}
	batchCtx, cancel := context.WithCancel(parent)
	p.active[recordID] = cancel
	return batchCtx
}

func (p *Pipeline) finish(recordID string, batchCtx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Only release the slot if it still belongs to this batch; a
	// superseding batch owns it now.
	if cancel, ok := p.active[recordID]; ok && batchCtx.Err() == nil {
		cancel()
		delete(p.active, recordID)
	}
}

// process runs one file through decode, resize/re-encode, and upload. The
// cancellation signal is checked before decode, after decode, and after
// encode but before upload, bounding wasted work without risking a
// half-written upload.
func (p *Pipeline) process(ctx context.Context, recordID string, f File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, decodeErr := image.Decode(bytes.NewReader(f.Data))

	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload := f.Data
	contentType := f.ContentType
	if decodeErr != nil {
		// Fall back to the original, uncompressed bytes.
		p.logger.Warn("photo decode failed; uploading original",
			zap.String("record_id", recordID),
			zap.String("file", f.Name),
			zap.Error(decodeErr),
		)
	} else {
		encoded, encodeErr := reencode(img, p.cfg.MaxEdge, p.cfg.JPEGQuality)
		if encodeErr != nil {
			p.logger.Warn("photo re-encode failed; uploading original",
				zap.String("record_id", recordID),
				zap.String("file", f.Name),
				zap.Error(encodeErr),
			)
		} else {
			payload = encoded
			contentType = "image/jpeg"
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s.jpg", recordID, uuid.NewString())
	ref, err := p.store.Put(ctx, key, bytes.NewReader(payload), contentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", f.Name, err)
	}
	return ref, nil
}
