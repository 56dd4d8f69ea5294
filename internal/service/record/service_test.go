package record_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/config"
	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
	"github.com/calderaware/refinery/internal/photo"
	repo "github.com/calderaware/refinery/internal/repository/record"
	record "github.com/calderaware/refinery/internal/service/record"
	"github.com/calderaware/refinery/pkg/errorbank"
)

// fakeRepo applies Patch semantics in memory, including the expected-status
// guard, so the service's concurrency behavior can be exercised without a
// database.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*entity.RestorationRecord
	updates int

	failNext error
	// gate, when set, parks UpdatePartial after validation until released.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeRepo(recs ...*entity.RestorationRecord) *fakeRepo {
	r := &fakeRepo{records: make(map[string]*entity.RestorationRecord)}
	for _, rec := range recs {
		clone := *rec
		r.records[rec.ID] = &clone
	}
	return r
}

func (r *fakeRepo) get(id string) *entity.RestorationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*entity.RestorationRecord, error) {
	if rec := r.get(id); rec != nil {
		return rec, nil
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, _, _ time.Time) ([]entity.RestorationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.RestorationRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (r *fakeRepo) UpdatePartial(_ context.Context, id string, expectedStatus *lifecycle.Status, patch repo.Patch) error {
	if r.gate != nil {
		r.entered <- struct{}{}
		<-r.gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}

	rec, ok := r.records[id]
	if !ok {
		return repo.ErrNotFound
	}
	if expectedStatus != nil && rec.Status != *expectedStatus {
		return repo.ErrStatusConflict
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.DamageReason != nil {
		rec.DamageReason = *patch.DamageReason
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	if patch.TagNumbers != nil {
		rec.TagNumbers = append([]string(nil), (*patch.TagNumbers)...)
	}
	if patch.Photos != nil {
		rec.Photos = append([]string(nil), (*patch.Photos)...)
	}
	if patch.LocalPickup != nil {
		rec.LocalPickup = *patch.LocalPickup
	}
	if patch.ResolvedAt != nil {
		rec.ResolvedAt = patch.ResolvedAt
	}
	for ts, value := range patch.SetTimestamps {
		if slot := rec.StageTimestamp(ts); slot != nil {
			*slot = value
		}
	}
	r.updates++
	return nil
}

// fakeIngester satisfies the pipeline surface the service needs.
type fakeIngester struct {
	mu        sync.Mutex
	refs      []string
	err       error
	cancelled []string
	cleaned   []string
	batches   int
}

func (f *fakeIngester) IngestBatch(_ context.Context, _ string, files []photo.File, slots int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	n := len(files)
	if n > slots {
		n = slots
	}
	if n > len(f.refs) {
		n = len(f.refs)
	}
	return append([]string(nil), f.refs[:n]...), nil
}

func (f *fakeIngester) Cancel(recordID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, recordID)
}

func (f *fakeIngester) Cleanup(_ context.Context, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, ref)
}

func (f *fakeIngester) Trusted(ref string) bool {
	return len(ref) < 8 || ref[:8] != "https://"
}

func newService(r *fakeRepo, p *fakeIngester) *record.Service {
	return record.NewService(record.Params{
		Repository: r,
		Photos:     p,
		Cache:      nil,
		Config:     config.Config{},
		Logger:     zap.NewNop(),
		Publisher:  nil,
	})
}

func kindOf(t *testing.T, err error) errorbank.Kind {
	t.Helper()
	var appErr *errorbank.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Kind()
}

func pendingRecord(id string) *entity.RestorationRecord {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &entity.RestorationRecord{
		ID:             id,
		Status:         lifecycle.StatusPendingLabel,
		OrderCreatedAt: &created,
		CreatedAt:      created,
	}
}

func recordAt(id string, status lifecycle.Status, tags ...string) *entity.RestorationRecord {
	rec := pendingRecord(id)
	rec.Status = status
	rec.TagNumbers = tags
	return rec
}

func TestAdvanceHappyPath(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	svc := newService(r, &fakeIngester{})

	got, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusLabelSent, got.Status)
}

func TestAdvanceStampsStageTimestampOnce(t *testing.T) {
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	r := newFakeRepo(rec)
	svc := newService(r, &fakeIngester{})

	got, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusReadyToShip, record.FieldPatch{})
	require.NoError(t, err)
	require.NotNil(t, got.BackFromRestorationAt)
	first := *got.BackFromRestorationAt

	// A stage re-entered with its timestamp still set keeps the original.
	stale := recordAt("rec-2", lifecycle.StatusAtRestoration, "T-1")
	stale.BackFromRestorationAt = &first
	r2 := newFakeRepo(stale)
	svc2 := newService(r2, &fakeIngester{})

	got, err = svc2.Advance(context.Background(), "rec-2", lifecycle.StatusReadyToShip, record.FieldPatch{})
	require.NoError(t, err)
	require.NotNil(t, got.BackFromRestorationAt)
	assert.True(t, got.BackFromRestorationAt.Equal(first))
}

func TestAdvanceRejectsDamagedTarget(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusDamaged, record.FieldPatch{})
	assert.Equal(t, errorbank.KindBadRequest, kindOf(t, err))
}

func TestAdvanceIllegalTransition(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusShipped, record.FieldPatch{})
	assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(t, err))
	assert.Equal(t, lifecycle.StatusPendingLabel, r.get("rec-1").Status)
}

func TestAdvanceCheckInGate(t *testing.T) {
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusDeliveredWarehouse))
	svc := newService(r, &fakeIngester{})

	_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusAtRestoration, record.FieldPatch{})
	assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(t, err))

	// Tagging the item in the same request satisfies the gate.
	tags := []string{"T-42"}
	got, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusAtRestoration, record.FieldPatch{TagNumbers: &tags})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusAtRestoration, got.Status)
	assert.Equal(t, tags, got.TagNumbers)
	require.NotNil(t, got.SentToRestorationAt)
}

func TestAdvanceOverlappingSubmitIsNoOp(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	svc := newService(r, &fakeIngester{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
		done <- err
	}()
	<-r.entered

	// Second submit while the first is still writing: rejected, no write.
	_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
	assert.ErrorIs(t, err, record.ErrMutationInFlight)

	close(r.gate)
	require.NoError(t, <-done)

	assert.Equal(t, lifecycle.StatusLabelSent, r.get("rec-1").Status)
	assert.Equal(t, 1, r.updates)
}

func TestAdvanceStatusConflictFromAnotherClient(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	svc := newService(r, &fakeIngester{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
		done <- err
	}()
	<-r.entered

	// Another client moves the record between this client's read and write.
	r.mu.Lock()
	r.records["rec-1"].Status = lifecycle.StatusCancelled
	r.mu.Unlock()
	close(r.gate)

	err := <-done
	assert.Equal(t, errorbank.KindConflict, kindOf(t, err))
	assert.Equal(t, lifecycle.StatusCancelled, r.get("rec-1").Status)
}

func TestRevertRequiresAuditReason(t *testing.T) {
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusShipped, "T-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.Revert(context.Background(), "rec-1", "")
	assert.Equal(t, errorbank.KindBadRequest, kindOf(t, err))
}

func TestRevertClearsLaterTimestampsOnly(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	rec.DeliveredToWarehouseAt = ptrTime(now.Add(-48 * time.Hour))
	rec.ReceivedAt = ptrTime(now.Add(-24 * time.Hour))
	rec.SentToRestorationAt = ptrTime(now)
	r := newFakeRepo(rec)
	svc := newService(r, &fakeIngester{})

	got, err := svc.Revert(context.Background(), "rec-1", "scanned the wrong tag")
	require.NoError(t, err)

	// Back one step, skipping the legacy received stage.
	assert.Equal(t, lifecycle.StatusDeliveredWarehouse, got.Status)
	assert.NotNil(t, got.DeliveredToWarehouseAt)
	assert.Nil(t, got.ReceivedAt)
	assert.Nil(t, got.SentToRestorationAt)
	assert.Nil(t, got.BackFromRestorationAt)
}

func TestRevertFromTerminalRejected(t *testing.T) {
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusDelivered, "T-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.Revert(context.Background(), "rec-1", "mis-scan")
	assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(t, err))
}

func TestMarkDamagedFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []lifecycle.Status{
		lifecycle.StatusPendingLabel,
		lifecycle.StatusLabelSent,
		lifecycle.StatusInTransitInbound,
		lifecycle.StatusDeliveredWarehouse,
		lifecycle.StatusReceived,
		lifecycle.StatusAtRestoration,
		lifecycle.StatusReadyToShip,
		lifecycle.StatusShipped,
	}
	for _, status := range nonTerminal {
		t.Run(string(status), func(t *testing.T) {
			r := newFakeRepo(recordAt("rec-1", status, "T-1"))
			svc := newService(r, &fakeIngester{})

			got, err := svc.MarkDamaged(context.Background(), "rec-1", lifecycle.DamageWarped, record.FieldPatch{})
			require.NoError(t, err)
			assert.Equal(t, lifecycle.StatusDamaged, got.Status)
			assert.Equal(t, lifecycle.DamageWarped, got.DamageReason)
		})
	}

	for _, status := range []lifecycle.Status{lifecycle.StatusDelivered, lifecycle.StatusCancelled, lifecycle.StatusDamaged} {
		t.Run("terminal "+string(status), func(t *testing.T) {
			r := newFakeRepo(recordAt("rec-1", status, "T-1"))
			svc := newService(r, &fakeIngester{})

			_, err := svc.MarkDamaged(context.Background(), "rec-1", lifecycle.DamageWarped, record.FieldPatch{})
			assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(t, err))
		})
	}
}

func TestMarkDamagedRequiresValidReason(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.MarkDamaged(context.Background(), "rec-1", lifecycle.DamageReason("scuffed"), record.FieldPatch{})
	assert.Equal(t, errorbank.KindBadRequest, kindOf(t, err))
}

func TestMarkDamagedAbandonsPhotoBatch(t *testing.T) {
	ingester := &fakeIngester{}
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1"))
	svc := newService(r, ingester)

	_, err := svc.MarkDamaged(context.Background(), "rec-1", lifecycle.DamageCracked, record.FieldPatch{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, ingester.cancelled)
}

func TestResolveDamagedExactlyOnce(t *testing.T) {
	rec := recordAt("rec-1", lifecycle.StatusDamaged, "T-1")
	rec.DamageReason = lifecycle.DamagePitted
	r := newFakeRepo(rec)
	svc := newService(r, &fakeIngester{})

	got, err := svc.ResolveDamaged(context.Background(), "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	// Status stays damaged for reporting.
	assert.Equal(t, lifecycle.StatusDamaged, got.Status)

	_, err = svc.ResolveDamaged(context.Background(), "rec-1")
	assert.Equal(t, errorbank.KindConflict, kindOf(t, err))
}

func TestResolveDamagedRequiresDamagedStatus(t *testing.T) {
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusShipped, "T-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.ResolveDamaged(context.Background(), "rec-1")
	assert.Equal(t, errorbank.KindUnprocessableEntity, kindOf(t, err))
}

func TestUpdateFieldsValidatesTags(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	svc := newService(r, &fakeIngester{})

	bad := []string{"has space"}
	_, err := svc.UpdateFields(context.Background(), "rec-1", record.FieldPatch{TagNumbers: &bad})
	assert.Equal(t, errorbank.KindBadRequest, kindOf(t, err))
}

func TestUpdateFieldsWritesOnlyPresentFields(t *testing.T) {
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	rec.Notes = "original"
	r := newFakeRepo(rec)
	svc := newService(r, &fakeIngester{})

	pickup := true
	got, err := svc.UpdateFields(context.Background(), "rec-1", record.FieldPatch{LocalPickup: &pickup})
	require.NoError(t, err)
	assert.True(t, got.LocalPickup)
	assert.Equal(t, "original", got.Notes)
	assert.Equal(t, lifecycle.StatusAtRestoration, got.Status)
}

func TestGetNotFound(t *testing.T) {
	svc := newService(newFakeRepo(), &fakeIngester{})

	_, err := svc.Get(context.Background(), "missing")
	assert.Equal(t, errorbank.KindNotFound, kindOf(t, err))
}

func TestAttachPhotosAppendsUpToCap(t *testing.T) {
	ingester := &fakeIngester{refs: []string{"memory://photos/rec-1/a.jpg", "memory://photos/rec-1/b.jpg"}}
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	rec.Photos = []string{"memory://photos/rec-1/existing.jpg"}
	r := newFakeRepo(rec)
	svc := newService(r, ingester)

	files := []photo.File{{Name: "a.jpg"}, {Name: "b.jpg"}}
	refs, err := svc.AttachPhotos(context.Background(), "rec-1", files)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Len(t, r.get("rec-1").Photos, 3)
}

func TestAttachPhotosFullRecordIsSilentNoOp(t *testing.T) {
	ingester := &fakeIngester{refs: []string{"memory://photos/rec-1/d.jpg"}}
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	rec.Photos = []string{"a", "b", "c"}
	r := newFakeRepo(rec)
	svc := newService(r, ingester)

	refs, err := svc.AttachPhotos(context.Background(), "rec-1", []photo.File{{Name: "d.jpg"}})
	require.NoError(t, err)
	assert.Nil(t, refs)
	// The pipeline is never invoked when no slots remain.
	assert.Equal(t, 0, ingester.batches)
}

func TestAttachPhotosSupersededBatchDiscarded(t *testing.T) {
	ingester := &fakeIngester{err: context.Canceled}
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1"))
	svc := newService(r, ingester)

	refs, err := svc.AttachPhotos(context.Background(), "rec-1", []photo.File{{Name: "a.jpg"}})
	require.NoError(t, err)
	assert.Nil(t, refs)
	assert.Empty(t, r.get("rec-1").Photos)
}

func TestAttachPhotosDropsUntrustedReferences(t *testing.T) {
	ingester := &fakeIngester{refs: []string{"https://evil.example.com/a.jpg"}}
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1"))
	svc := newService(r, ingester)

	refs, err := svc.AttachPhotos(context.Background(), "rec-1", []photo.File{{Name: "a.jpg"}})
	require.NoError(t, err)
	assert.Nil(t, refs)
	assert.Empty(t, r.get("rec-1").Photos)
}

func TestRemovePhoto(t *testing.T) {
	ingester := &fakeIngester{}
	rec := recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1")
	rec.Photos = []string{"memory://photos/rec-1/a.jpg", "memory://photos/rec-1/b.jpg"}
	r := newFakeRepo(rec)
	svc := newService(r, ingester)

	got, err := svc.RemovePhoto(context.Background(), "rec-1", "memory://photos/rec-1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"memory://photos/rec-1/b.jpg"}, got.Photos)
	assert.Equal(t, []string{"memory://photos/rec-1/a.jpg"}, ingester.cleaned)
}

func TestRemovePhotoUnknownReference(t *testing.T) {
	r := newFakeRepo(recordAt("rec-1", lifecycle.StatusAtRestoration, "T-1"))
	svc := newService(r, &fakeIngester{})

	_, err := svc.RemovePhoto(context.Background(), "rec-1", "memory://photos/rec-1/nope.jpg")
	assert.Equal(t, errorbank.KindNotFound, kindOf(t, err))
}

func TestCommitStatusRepoFailure(t *testing.T) {
	r := newFakeRepo(pendingRecord("rec-1"))
	r.failNext = errors.New("connection reset")
	svc := newService(r, &fakeIngester{})

	_, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
	assert.Equal(t, errorbank.KindInternal, kindOf(t, err))
	// Nothing was persisted; a later retry succeeds.
	assert.Equal(t, lifecycle.StatusPendingLabel, r.get("rec-1").Status)

	got, err := svc.Advance(context.Background(), "rec-1", lifecycle.StatusLabelSent, record.FieldPatch{})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusLabelSent, got.Status)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
