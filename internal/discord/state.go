package discord

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// StateTTL bounds how long an authorization attempt may stay pending.
const StateTTL = 10 * time.Minute

var errStateUnknown = errors.New("discord: state unknown or expired")

type pendingState struct {
	userID    uint
	createdAt time.Time
}

// StateStore correlates OAuth state nonces with the user that started the flow.
// It is process-local; nonces do not survive a restart.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]pendingState
	ttl     time.Duration
	clock   func() time.Time
}

// NewStateStore constructs an empty store. A zero ttl selects StateTTL.
func NewStateStore(ttl time.Duration, clock func() time.Time) *StateStore {
	if ttl <= 0 {
		ttl = StateTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &StateStore{
		entries: make(map[string]pendingState),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue records a new 32-hex-character nonce for userID.
func (s *StateStore) Issue(userID uint) (string, error) {
	buffer := make([]byte, 16)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buffer)

	s.mu.Lock()
	s.entries[nonce] = pendingState{userID: userID, createdAt: s.clock()}
	s.mu.Unlock()
	return nonce, nil
}

// Consume removes the nonce and returns its user. Each nonce is usable once.
func (s *StateStore) Consume(nonce string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[nonce]
	if !ok {
		return 0, errStateUnknown
	}
	delete(s.entries, nonce)
	if s.clock().Sub(entry.createdAt) >= s.ttl {
		return 0, errStateUnknown
	}
	return entry.userID, nil
}

// Sweep drops expired nonces and reports how many were removed.
func (s *StateStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for nonce, entry := range s.entries {
		if now.Sub(entry.createdAt) >= s.ttl {
			delete(s.entries, nonce)
			removed++
		}
	}
	return removed
}

// Len reports the number of pending nonces.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
