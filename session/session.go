package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/kv"
)

// DefaultTimeout is the default session timeout for non-exclusive
// sessions.
const DefaultTimeout = 10 * time.Second

// Policy controls how a Session acquires and holds its locks.
type Policy struct {
	// Exclusive denies any other session's concurrent lock on the same
	// record and disables the session timeout.
	Exclusive bool
	// BlockRead, when true, makes outside reads of this session's locked
	// records await release instead of proceeding immediately.
	BlockRead bool
	// Timeout is the session's lifetime; ignored when Exclusive. Defaults
	// to DefaultTimeout if zero.
	Timeout time.Duration
}

// State is a Session's lifecycle stage: Created → AcquiringPending →
// Holding → Released.
type State int

const (
	StateCreated State = iota
	StateAcquiringPending
	StateHolding
	StateReleased
)

// RecordMeta identifies a KV record a session wants to lock.
type RecordMeta struct {
	Scope string
	Key   string
}

// Session is a handle over a set of cooperatively locked KV records.
type Session struct {
	id         string
	controller *Controller
	policy     Policy

	mu     sync.Mutex
	state  State
	locked map[string]*kv.Record // compositeKey -> record

	timer      *time.Timer
	cancelCh   chan struct{}
	cancelOnce sync.Once

	releasedCh chan struct{}
	releaseErr error
}

func newSession(c *Controller, policy Policy) *Session {
	return &Session{
		id:         generateID(),
		controller: c,
		policy:     policy,
		state:      StateCreated,
		locked:     make(map[string]*kv.Record),
		cancelCh:   make(chan struct{}),
		releasedCh: make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) armTimeout() {
	if s.policy.Exclusive || s.policy.Timeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.policy.Timeout, func() {
		s.releaseWith(cerrors.ErrSessionTimeout)
	})
}

// Acquire resolves each record meta and locks it. Acquisition is
// all-or-nothing: on any failure, every record acquired so
// far in this call is rolled back before the error is returned.
func (s *Session) Acquire(ctx context.Context, metas []RecordMeta) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return errors.New("session: acquire already called")
	}
	s.state = StateAcquiringPending
	s.mu.Unlock()

	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	defer cancelAcquire()
	go func() {
		select {
		case <-s.cancelCh:
			cancelAcquire()
		case <-acquireCtx.Done():
		}
	}()

	var acquired []*kv.Record
	for _, meta := range metas {
		rec := s.controller.mgr.Resolve(meta.Scope, meta.Key)
		if rec == nil {
			s.rollback(acquired)
			s.fail()
			return cerrors.ErrSessionRecordNotFound
		}

		ck := compositeKey(meta.Scope, meta.Key)
		release, err := s.controller.claimPending(acquireCtx, ck)
		if err != nil {
			s.rollback(acquired)
			s.fail()
			return s.timeoutOr(err, cerrors.ErrSessionTimeout)
		}

		lockErr := rec.Lock(acquireCtx, s.id, s.policy.Exclusive, s.policy.BlockRead)
		release()
		if lockErr != nil {
			s.rollback(acquired)
			s.fail()
			return s.timeoutOr(lockErr, cerrors.ErrSessionTimeout)
		}

		s.mu.Lock()
		s.locked[ck] = rec
		s.mu.Unlock()
		acquired = append(acquired, rec)
	}

	s.mu.Lock()
	if s.state == StateAcquiringPending {
		s.state = StateHolding
	}
	s.mu.Unlock()
	return nil
}

// timeoutOr rewrites a context cancellation into repl if err is a context
// error, otherwise passes err through unchanged (e.g.
// ErrSessionRecordIsExclusive, which fails immediately without queuing).
func (s *Session) timeoutOr(err, repl error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return repl
	}
	return err
}

func (s *Session) rollback(_ []*kv.Record) {
	s.mu.Lock()
	locked := s.locked
	s.locked = make(map[string]*kv.Record)
	s.mu.Unlock()

	for _, rec := range locked {
		_ = rec.Unlock(s.id)
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = StateCreated
	s.mu.Unlock()
}

// Records returns the record-access surface for this session.
func (s *Session) Records() Records { return Records{s: s} }

func (s *Session) isLocked(ck string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locked[ck]
	return ok
}

// Release detaches the session from every locked record and retires it
// from the controller.
func (s *Session) Release() {
	s.releaseWith(nil)
}

func (s *Session) releaseWith(err error) {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return
	}
	s.state = StateReleased
	s.releaseErr = err
	locked := s.locked
	s.locked = make(map[string]*kv.Record)
	s.mu.Unlock()

	for _, rec := range locked {
		_ = rec.Unlock(s.id)
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancelOnce.Do(func() { close(s.cancelCh) })
	close(s.releasedCh)

	s.controller.drop(s.id)
}

// UntilReleased returns a channel closed once the session is released,
// whether explicitly, by timeout, or by controller teardown.
func (s *Session) UntilReleased() <-chan struct{} { return s.releasedCh }

// Err returns the reason the session was released, if any (e.g.
// ErrSessionTimeout); nil for an explicit Release.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseErr
}

// Records is the session-scoped read/update/remove surface.
type Records struct{ s *Session }

// Read reads a record's value. Unlocked records, and records locked by this
// session, are always readable; a record locked by another session with
// BlockRead=true makes the caller await its release (enforced inside
// kv.Record.GuardRead via the session id passed through).
func (r Records) Read(ctx context.Context, scope, key string) (any, bool, error) {
	return r.s.controller.mgr.Read(ctx, scope, key, r.s.id)
}

// Update writes a record's value. The record must be in this session's
// locked set, or ErrSessionRecordNotAcquired is returned.
func (r Records) Update(ctx context.Context, scope, key string, value any, opts kv.SetOptions) error {
	if !r.s.isLocked(compositeKey(scope, key)) {
		return cerrors.ErrSessionRecordNotAcquired
	}
	opts.SessionID = r.s.id
	return r.s.controller.mgr.Set(ctx, scope, key, value, opts)
}

// Remove deletes a record. The record must be in this session's locked set,
// or ErrSessionRecordNotAcquired is returned.
func (r Records) Remove(ctx context.Context, scope, key string) (bool, error) {
	if !r.s.isLocked(compositeKey(scope, key)) {
		return false, cerrors.ErrSessionRecordNotAcquired
	}
	return r.s.controller.mgr.Remove(ctx, scope, key, r.s.id)
}
