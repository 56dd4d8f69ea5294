// Package deeplink keeps a shareable record identifier in sync with the
// record open in the detail view. The legal open/close sequencing is
// enforced by a small explicit state machine instead of ad-hoc flags, and a
// processed-id marker keeps a just-closed identifier from reopening its
// record while it still lingers in the shareable location or in history.
package deeplink

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// State is the synchronizer's position in the open/close sequence.
type State int

const (
	StateClosed State = iota
	StateOpeningFromLink
	StateOpenedByUser
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpeningFromLink:
		return "opening_from_link"
	case StateOpenedByUser:
		return "opened_by_user"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Resolver answers whether a record id exists. The synchronizer depends on
// record identity only, never on record internals.
type Resolver interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Synchronizer mirrors the open detail view into a shareable identifier.
type Synchronizer struct {
	resolver Resolver
	logger   *zap.Logger

	mu    sync.Mutex
	state State
	// link is the value currently published in the shareable location.
	link string
	// open is the record the detail view shows, empty when closed.
	open string
	// dismissed holds identifiers that were explicitly closed (or replaced
	// by opening another record). While the shareable location still
	// carries one of them, its auto-open stays suppressed; the marker for
	// an id resets once the location moves away from it.
	dismissed map[string]struct{}
}

// NewSynchronizer constructs a Synchronizer in the closed state.
func NewSynchronizer(resolver Resolver, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		resolver:  resolver,
		logger:    logger,
		state:     StateClosed,
		dismissed: make(map[string]struct{}),
	}
}

// SyncFromLink consumes the identifier found in the shareable location and
// auto-opens the record it names. A stale identifier (no such record)
// clears the location and logs a warning instead of erroring the view; an
// identifier carrying a dismissed marker is suppressed so closing a record
// never loops back into reopening it.
func (s *Synchronizer) SyncFromLink(ctx context.Context, linkID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Already showing this record; just keep the location aligned.
	if linkID != "" && linkID == s.open {
		s.link = linkID
		return s.open, nil
	}

	if _, suppressed := s.dismissed[linkID]; suppressed {
		s.pruneDismissed(linkID)
		return s.open, nil
	}
	// The location moved away from every marked identifier, so their
	// markers reset.
	s.pruneDismissed(linkID)

	if linkID == "" {
		return s.open, nil
	}

	prior := s.state
	s.state = StateOpeningFromLink

	exists, err := s.resolver.Exists(ctx, linkID)
	if err != nil {
		s.state = prior
		return s.open, err
	}
	if !exists {
		// Stale deep link: clear the identifier, keep the rest of the view.
		s.link = ""
		s.state = prior
		if s.logger != nil {
			s.logger.Warn("stale deep link cleared", zap.String("record_id", linkID))
		}
		return s.open, nil
	}

	if s.open != "" && s.open != linkID {
		s.dismissed[s.open] = struct{}{}
	}
	s.link = linkID
	s.open = linkID
	s.state = StateOpenedByUser
	return s.open, nil
}

// OpenByUser opens a record from the UI: the shareable identifier is set
// first, then the view state, so a watcher never sees an open view without
// its identifier. A record replaced this way is marked dismissed, keeping a
// stale copy of its identifier from reopening it later.
func (s *Synchronizer) OpenByUser(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != "" && s.open != id {
		s.dismissed[s.open] = struct{}{}
	}
	delete(s.dismissed, id)
	s.link = id
	s.open = id
	s.state = StateOpenedByUser
}

// Close tears the view down: the shareable identifier is cleared strictly
// before the open-record state, closing the window in which a watcher could
// reopen the record from stale state. The closed identifier is marked
// dismissed.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosing

	if s.open != "" {
		s.dismissed[s.open] = struct{}{}
	}
	s.link = ""
	s.open = ""
	s.state = StateClosed
}

// pruneDismissed drops the marker for every id the shareable location no
// longer carries.
func (s *Synchronizer) pruneDismissed(current string) {
	for id := range s.dismissed {
		if id != current {
			delete(s.dismissed, id)
		}
	}
}

// Link returns the identifier currently published in the shareable location.
func (s *Synchronizer) Link() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Open returns the record id the detail view currently shows.
func (s *Synchronizer) Open() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// State returns the synchronizer's current sequencing state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
