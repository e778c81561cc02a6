// Package session implements a cooperative locking facility: a session
// groups locks over one or more KV records and serializes concurrent
// access to them.
package session

import (
	"context"
	"sync"

	"github.com/nasriyasoftware/cachify/kv"
)

func compositeKey(scope, key string) string { return scope + "\x00" + key }

// Controller issues and tracks Sessions against one kv.Manager.
type Controller struct {
	mgr *kv.Manager

	mu       sync.Mutex
	sessions map[string]*Session

	// pendingOwners serializes the resolve-and-lock attempt for a given
	// (scope,key) across concurrently acquiring sessions: for a record
	// already pending under another session, the caller awaits that
	// session's lock attempt on it. The channel is closed when the current
	// attempt finishes, letting the next waiter retry.
	pendingOwners map[string]chan struct{}
}

// NewController creates a Controller over mgr.
func NewController(mgr *kv.Manager) *Controller {
	return &Controller{
		mgr:           mgr,
		sessions:      make(map[string]*Session),
		pendingOwners: make(map[string]chan struct{}),
	}
}

// CreateSession issues a new Session under policy. If the policy is not
// Exclusive and carries a positive Timeout, the session's clock starts
// immediately: it auto-releases with ErrSessionTimeout if not explicitly
// released first.
func (c *Controller) CreateSession(policy Policy) *Session {
	if policy.Timeout <= 0 && !policy.Exclusive {
		policy.Timeout = DefaultTimeout
	}

	s := newSession(c, policy)

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()

	s.armTimeout()
	return s
}

// Sessions returns the count of currently tracked (non-released) sessions.
func (c *Controller) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Controller) drop(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Teardown force-releases every outstanding session, e.g. on cache
// teardown.
func (c *Controller) Teardown() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Release()
	}
}

// claimPending acquires the single-flight "pending" slot for key, blocking
// until it is free or ctx is done.
func (c *Controller) claimPending(ctx context.Context, key string) (release func(), err error) {
	for {
		c.mu.Lock()
		ch, busy := c.pendingOwners[key]
		if !busy {
			mine := make(chan struct{})
			c.pendingOwners[key] = mine
			c.mu.Unlock()
			return func() {
				c.mu.Lock()
				if c.pendingOwners[key] == mine {
					delete(c.pendingOwners, key)
				}
				c.mu.Unlock()
				close(mine)
			}, nil
		}
		c.mu.Unlock()

		select {
		case <-ch:
			// previous attempt finished (success, failure, or the holder's
			// own session timed out) — loop back and try to claim again.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
