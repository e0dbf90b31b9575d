// Package flow runs the short multi-step dialogs: the explicit assignment
// wizard and the tracker-link detection wizard. Dialog state is in-memory
// only and expires after five minutes; it does not survive a restart.
package flow

import (
	"sync"
	"time"
)

// StateTTL is how long a pending wizard step waits for follow-up input.
const StateTTL = 5 * time.Minute

// State is one pending wizard step for an (actor, conversation) pair.
// Exactly one concrete type is stored at a time.
type State interface {
	isState()
}

// AssignmentState waits for a "<ticketId> [title]" line after the actor
// picked an assignee in the explicit assignment wizard.
type AssignmentState struct {
	AssigneeUserID   int64
	AssigneeUsername string
}

// AssignOtherState is the nested assign-to-other step of a link wizard.
type AssignOtherState struct {
	AssigneeUserID   int64
	AssigneeUsername string
}

// LinkState waits for the actor to finish a detected tracker link: either a
// title for self-assignment, or (when AssignOther is set) a title for the
// already-chosen other assignee.
type LinkState struct {
	TicketID    string
	SourceURL   string
	AssignOther *AssignOtherState
}

func (*AssignmentState) isState() {}
func (*LinkState) isState()       {}

type stateKey struct {
	actorID        int64
	conversationID int64
}

type stateEntry struct {
	state     State
	expiresAt time.Time
	timer     *time.Timer
}

// States holds pending wizard state keyed by (actor, conversation). Writes
// overwrite any pending entry for the same key (last intent wins). Entries
// expire by a scheduled removal, with a lazy check on read so an expired
// entry never matches even if the timer has not fired yet.
type States struct {
	mu      sync.Mutex
	entries map[stateKey]*stateEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewStates creates an empty state table with the default TTL.
func NewStates() *States {
	return &States{
		entries: make(map[stateKey]*stateEntry),
		ttl:     StateTTL,
		now:     time.Now,
	}
}

// Set stores a pending state, replacing any existing one for the same key.
func (s *States) Set(actorID, conversationID int64, st State) {
	k := stateKey{actorID, conversationID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[k]; ok {
		prev.timer.Stop()
	}
	e := &stateEntry{state: st, expiresAt: s.now().Add(s.ttl)}
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(k, e) })
	s.entries[k] = e
}

// expire removes an entry when its timer fires, unless it has been replaced.
func (s *States) expire(k stateKey, e *stateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[k] == e {
		delete(s.entries, k)
	}
}

// Get returns the pending state for the key, or nil if none is pending.
// An entry past its deadline is removed and reported as absent.
func (s *States) Get(actorID, conversationID int64) State {
	k := stateKey{actorID, conversationID}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expiresAt) {
		e.timer.Stop()
		delete(s.entries, k)
		return nil
	}
	return e.state
}

// Clear drops any pending state for the key.
func (s *States) Clear(actorID, conversationID int64) {
	k := stateKey{actorID, conversationID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok {
		e.timer.Stop()
		delete(s.entries, k)
	}
}
