package deeplink_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/deeplink"
)

type mapResolver struct {
	records map[string]bool
	err     error
}

func (r *mapResolver) Exists(_ context.Context, id string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.records[id], nil
}

func newSync(ids ...string) *deeplink.Synchronizer {
	records := make(map[string]bool, len(ids))
	for _, id := range ids {
		records[id] = true
	}
	return deeplink.NewSynchronizer(&mapResolver{records: records}, zap.NewNop())
}

func TestSyncFromLinkAutoOpens(t *testing.T) {
	s := newSync("rec-a")

	open, err := s.SyncFromLink(context.Background(), "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "rec-a", open)
	assert.Equal(t, "rec-a", s.Open())
	assert.Equal(t, "rec-a", s.Link())
	assert.Equal(t, deeplink.StateOpenedByUser, s.State())
}

func TestSyncFromLinkStaleLinkClearedWithoutError(t *testing.T) {
	s := newSync("rec-a")
	s.OpenByUser("rec-a")

	open, err := s.SyncFromLink(context.Background(), "rec-gone")
	require.NoError(t, err)
	// The open view is untouched; only the stale identifier is cleared.
	assert.Equal(t, "rec-a", open)
	assert.Equal(t, "rec-a", s.Open())
	assert.Equal(t, "", s.Link())
}

func TestCloseSuppressesReopenFromStaleLink(t *testing.T) {
	s := newSync("rec-a")
	s.OpenByUser("rec-a")
	s.Close()

	assert.Equal(t, "", s.Open())
	assert.Equal(t, "", s.Link())
	assert.Equal(t, deeplink.StateClosed, s.State())

	// The identifier may still linger in history; it must not reopen.
	open, err := s.SyncFromLink(context.Background(), "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "", open)
	assert.Equal(t, deeplink.StateClosed, s.State())
}

func TestOpenThenOpenThenCloseNeverReopensFirst(t *testing.T) {
	// A stale copy of either identifier lingering right after the close must
	// stay suppressed. Each lingering id gets a fresh sequence, since a
	// sync with one identifier counts as moving away from the other.
	for _, stale := range []string{"rec-a", "rec-b"} {
		t.Run(stale, func(t *testing.T) {
			s := newSync("rec-a", "rec-b")

			s.OpenByUser("rec-a")
			s.OpenByUser("rec-b")
			s.Close()

			assert.Equal(t, "", s.Open())
			assert.Equal(t, "", s.Link())

			open, err := s.SyncFromLink(context.Background(), stale)
			require.NoError(t, err)
			assert.Equal(t, "", open)
		})
	}
}

func TestDismissMarkerResetsAfterMovingAway(t *testing.T) {
	s := newSync("rec-a", "rec-b")

	s.OpenByUser("rec-a")
	s.Close()

	// Suppressed while the identifier lingers.
	open, err := s.SyncFromLink(context.Background(), "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "", open)

	// Moving away resets the marker, so a fresh visit reopens.
	_, err = s.SyncFromLink(context.Background(), "")
	require.NoError(t, err)

	open, err = s.SyncFromLink(context.Background(), "rec-a")
	require.NoError(t, err)
	assert.Equal(t, "rec-a", open)
}

func TestSyncFromLinkSwitchesOpenRecord(t *testing.T) {
	s := newSync("rec-a", "rec-b")
	s.OpenByUser("rec-a")

	open, err := s.SyncFromLink(context.Background(), "rec-b")
	require.NoError(t, err)
	assert.Equal(t, "rec-b", open)
	assert.Equal(t, "rec-b", s.Link())
}

func TestSyncFromLinkResolverError(t *testing.T) {
	resolver := &mapResolver{err: context.DeadlineExceeded}
	s := deeplink.NewSynchronizer(resolver, zap.NewNop())

	_, err := s.SyncFromLink(context.Background(), "rec-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, deeplink.StateClosed, s.State())
}

func TestCloseWhileClosedIsNoOp(t *testing.T) {
	s := newSync()
	s.Close()
	assert.Equal(t, deeplink.StateClosed, s.State())
}
