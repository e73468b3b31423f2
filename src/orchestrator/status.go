package orchestrator

import (
	"sync"
	"time"
)

// AccountStatus is the operator-facing view of one account's automation,
// served by the ops API.
type AccountStatus struct {
	AccountID     uint       `json:"account_id"`
	Enabled       bool       `json:"enabled"`
	OpenPositions int64      `json:"open_positions"`
	LastPassAt    *time.Time `json:"last_pass_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// statusRegistry keeps the in-memory trail of pass outcomes. Only
// account-level alerts land in lastErr; per-signal rejections do not.
type statusRegistry struct {
	mu       sync.RWMutex
	lastPass map[uint]time.Time
	lastErr  map[uint]string
}

func newStatusRegistry() *statusRegistry {
	return &statusRegistry{
		lastPass: make(map[uint]time.Time),
		lastErr:  make(map[uint]string),
	}
}

func (s *statusRegistry) recordPass(accountID uint, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPass[accountID] = at
}

func (s *statusRegistry) recordError(accountID uint, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr[accountID] = err.Error()
}

func (s *statusRegistry) clearError(accountID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastErr, accountID)
}

func (s *statusRegistry) snapshot(accountID uint) (*time.Time, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastPass *time.Time
	if at, ok := s.lastPass[accountID]; ok {
		t := at
		lastPass = &t
	}
	return lastPass, s.lastErr[accountID]
}
