package kv

import (
	"context"
	"sync"

	"github.com/nasriyasoftware/cachify/cerrors"
)

// lockState is the record-level half of the session locking facility. The
// session package (which issues Session handles spanning many records)
// drives this through Record's exported Lock/Unlock/Guard* methods so
// neither package imports the other.
type lockState struct {
	mu         sync.Mutex
	holderID   string
	exclusive  bool
	blockRead  bool
	released   chan struct{} // closed when the current holder releases
}

// Lock attaches sessionID as the record's holder. If the record is
// unlocked, it attaches immediately. If held non-exclusively, the caller
// waits for the current holder's release and then attaches. If held
// exclusively, it fails immediately with ErrSessionRecordIsExclusive.
func (r *Record) Lock(ctx context.Context, sessionID string, exclusive, blockRead bool) error {
	for {
		r.mu.Lock()
		if r.lock == nil {
			r.mu.Unlock()
			break
		}
		cur := r.lock
		r.mu.Unlock()

		cur.mu.Lock()
		if cur.exclusive {
			cur.mu.Unlock()
			return cerrors.ErrSessionRecordIsExclusive
		}
		waitCh := cur.released
		cur.mu.Unlock()

		select {
		case <-waitCh:
			// retry: the holder is gone, loop back and try to attach.
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.lock = &lockState{holderID: sessionID, exclusive: exclusive, blockRead: blockRead, released: make(chan struct{})}
	r.mu.Unlock()
	return nil
}

// Unlock releases sessionID's hold, if it is indeed the current holder.
// Returns ErrSessionAlreadyReleased if sessionID does not hold the record.
func (r *Record) Unlock(sessionID string) error {
	r.mu.Lock()
	cur := r.lock
	if cur == nil || cur.holderID != sessionID {
		r.mu.Unlock()
		return cerrors.ErrSessionAlreadyReleased
	}
	r.lock = nil
	r.mu.Unlock()

	close(cur.released)
	return nil
}

// IsLocked reports whether the record currently has a holder, and by whom.
func (r *Record) IsLocked() (sessionID string, exclusive bool, locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lock == nil {
		return "", false, false
	}
	return r.lock.holderID, r.lock.exclusive, true
}

// GuardRead blocks the caller until it is safe to read: if the record is
// unlocked, or locked by callerSessionID, or locked without blockRead, it
// returns immediately. Otherwise, if the record is locked by a different
// session with blockRead=true, it waits for the holder's release.
func (r *Record) GuardRead(ctx context.Context, callerSessionID string) error {
	for {
		r.mu.Lock()
		cur := r.lock
		r.mu.Unlock()

		if cur == nil || cur.holderID == callerSessionID || !cur.blockRead {
			return nil
		}

		select {
		case <-cur.released:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GuardWrite enforces update/remove access under a session. If
// callerSessionID is non-empty (the call is happening inside a
// session), the record must be held by exactly that session, or
// ErrSessionRecordNotAcquired is returned. If callerSessionID is empty (no
// session context), an update/remove of a locked record waits for release
// instead of erroring, then proceeds.
func (r *Record) GuardWrite(ctx context.Context, callerSessionID string) error {
	if callerSessionID != "" {
		r.mu.Lock()
		cur := r.lock
		r.mu.Unlock()
		if cur == nil || cur.holderID != callerSessionID {
			return cerrors.ErrSessionRecordNotAcquired
		}
		return nil
	}

	for {
		r.mu.Lock()
		cur := r.lock
		r.mu.Unlock()
		if cur == nil {
			return nil
		}
		select {
		case <-cur.released:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
