package orchestrator

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

type lease struct {
	token  uint64
	expiry time.Time
}

// Coordinator guarantees that at most one orchestration pass is active per
// account. Acquisition is skip-if-busy: a pass that cannot take the lock is
// dropped, never queued. Each lock is a lease; a pass that crashes without
// releasing frees its account once the lease expires.
//
// Every acquisition carries an ownership token. Release only frees the
// lock when the token still matches, so a pass whose lease expired and was
// reclaimed cannot evict the current holder on its way out.
type Coordinator struct {
	mu        sync.Mutex
	leases    map[uint]lease
	ttl       time.Duration
	nextToken uint64
	now       func() time.Time
}

func NewCoordinator(ttl time.Duration) *Coordinator {
	return &Coordinator{
		leases: make(map[uint]lease),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TryAcquire takes the per-account lock if it is free or its lease has
// expired, returning the ownership token for the paired Release. Returns
// false when a live pass already holds it.
func (c *Coordinator) TryAcquire(accountID uint) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	current, held := c.leases[accountID]
	if held && now.Before(current.expiry) {
		return 0, false
	}
	if held {
		logger.WithFields(map[string]interface{}{
			"component": "RunCoordinator",
			"accountID": accountID,
			"expiredAt": current.expiry,
		}).Warn("Reclaiming expired pass lease")
	}

	c.nextToken++
	c.leases[accountID] = lease{token: c.nextToken, expiry: now.Add(c.ttl)}
	return c.nextToken, true
}

// Release frees the account's lock if the caller still owns it. A release
// with a stale token is a no-op: the lease already expired and another pass
// holds the lock now.
func (c *Coordinator) Release(accountID uint, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, held := c.leases[accountID]
	if !held || current.token != token {
		return
	}
	delete(c.leases, accountID)
}
