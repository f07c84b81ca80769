package core

import (
	"context"
	"sync"
	"time"
)

// Phase is the state of an import session.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseValidating  Phase = "validating"
	PhaseRejected    Phase = "rejected"
	PhaseStaged      Phase = "staged"
	PhaseReconciling Phase = "reconciling"
	PhaseReviewing   Phase = "reviewing"
	PhaseApplying    Phase = "applying"
	PhaseApplied     Phase = "applied"
	PhaseRolledBack  Phase = "rolled_back"
)

// transitions lists the legal next phases. Staging is kept after an apply,
// so Applied and RolledBack may re-reconcile or apply a remaining subset.
// Idle is reachable from every phase that is not doing work.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseValidating},
	PhaseValidating:  {PhaseRejected, PhaseStaged, PhaseIdle},
	PhaseRejected:    {PhaseValidating, PhaseIdle},
	PhaseStaged:      {PhaseReconciling, PhaseIdle},
	PhaseReconciling: {PhaseReviewing, PhaseIdle},
	PhaseReviewing:   {PhaseApplying, PhaseReconciling, PhaseIdle},
	PhaseApplying:    {PhaseApplied, PhaseRolledBack},
	PhaseApplied:     {PhaseReconciling, PhaseApplying, PhaseIdle},
	PhaseRolledBack:  {PhaseReconciling, PhaseApplying, PhaseIdle},
}

// CanTransition reports whether a session may move from one phase to another.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// working phases run against the store and cannot be reset.
func (p Phase) working() bool {
	return p == PhaseValidating || p == PhaseReconciling || p == PhaseApplying
}

// Session is one import moving through validate, stage, reconcile and apply.
// Progress and results live here instead of in package state, so sessions
// never observe each other's progress.
type Session struct {
	ID string

	mu        sync.Mutex
	phase     Phase
	fileName  string
	createdAt time.Time
	updatedAt time.Time
	report    *ValidationReport
	load      *LoadResult
	diff      []DiffEntry
	apply     *ApplyResult
	stageErr  error
	lastErr   string

	progress  Progress
	listeners []chan Progress
	done      chan struct{}
	cancel    context.CancelFunc
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		phase:     PhaseIdle,
		createdAt: now,
		updatedAt: now,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// transition moves the session to phase to, or returns a *TransitionError.
func (s *Session) transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to Phase) error {
	if !CanTransition(s.phase, to) {
		return &TransitionError{From: s.phase, To: to}
	}
	s.phase = to
	s.updatedAt = time.Now()
	return nil
}

// beginStage enters Validating and prepares a fresh progress stream.
func (s *Session) beginStage(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(PhaseValidating); err != nil {
		return err
	}
	s.fileName = fileName
	s.report = nil
	s.load = nil
	s.diff = nil
	s.apply = nil
	s.stageErr = nil
	s.lastErr = ""
	s.progress = Progress{}
	s.done = make(chan struct{})
	return nil
}

// finishStage records the load outcome, closes listeners and wakes waiters.
func (s *Session) finishStage(result LoadResult, err error) {
	s.mu.Lock()
	s.load = &result
	s.stageErr = err
	s.cancel = nil
	next := PhaseStaged
	if err != nil {
		s.lastErr = err.Error()
		next = PhaseIdle
	}
	_ = s.transitionLocked(next)
	done := s.done
	s.mu.Unlock()

	s.closeListeners()
	if done != nil {
		close(done)
	}
}

// rejectStage ends a stage that failed validation before any row was loaded.
func (s *Session) rejectStage(report *ValidationReport, err error) {
	s.mu.Lock()
	s.report = report
	s.stageErr = err
	s.lastErr = err.Error()
	next := PhaseRejected
	if report == nil {
		next = PhaseIdle
	}
	_ = s.transitionLocked(next)
	done := s.done
	s.mu.Unlock()

	s.closeListeners()
	if done != nil {
		close(done)
	}
}

// stageDone returns the channel closed when the current stage ends, or nil
// when no stage has started.
func (s *Session) stageDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return nil
	}
	return s.done
}

func (s *Session) stageOutcome() (*LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load, s.stageErr
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// cancelStage stops a running load after its current batch.
func (s *Session) cancelStage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// expired reports whether the session has been untouched for ttl and is
// not doing work.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.phase.working() && now.Sub(s.updatedAt) > ttl
}

func (s *Session) setReport(r *ValidationReport) {
	s.mu.Lock()
	s.report = r
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setDiff(diff []DiffEntry) {
	s.mu.Lock()
	s.diff = diff
	s.mu.Unlock()
}

func (s *Session) setApply(r ApplyResult) {
	s.mu.Lock()
	s.apply = &r
	s.mu.Unlock()
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
}

// reset returns the session to Idle and drops its results.
func (s *Session) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.working() {
		return ErrSessionBusy
	}
	if s.phase != PhaseIdle {
		if err := s.transitionLocked(PhaseIdle); err != nil {
			return err
		}
	}
	s.fileName = ""
	s.report = nil
	s.load = nil
	s.diff = nil
	s.apply = nil
	s.stageErr = nil
	s.lastErr = ""
	s.progress = Progress{}
	s.done = nil
	return nil
}

// notify records p and sends it to every listener without blocking.
func (s *Session) notify(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = p
	s.updatedAt = time.Now()
	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
			// Slow listener; it will see the next update.
		}
	}
}

// subscribe returns a channel of progress updates, primed with the latest
// value. The channel is closed when the current stage finishes, or at once
// when none is running.
func (s *Session) subscribe() <-chan Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Progress, 10)
	ch <- s.progress
	if s.phase != PhaseValidating {
		close(ch)
		return ch
	}
	s.listeners = append(s.listeners, ch)
	return ch
}

func (s *Session) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          string            `json:"id"`
	Phase       Phase             `json:"phase"`
	FileName    string            `json:"fileName,omitempty"`
	Progress    Progress          `json:"progress"`
	Report      *ValidationReport `json:"report,omitempty"`
	LoadResult  *LoadResult       `json:"loadResult,omitempty"`
	Diff        *DiffSummary      `json:"diff,omitempty"`
	ApplyResult *ApplyResult      `json:"applyResult,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		ID:          s.ID,
		Phase:       s.phase,
		FileName:    s.fileName,
		Progress:    s.progress,
		Report:      s.report,
		LoadResult:  s.load,
		ApplyResult: s.apply,
		Error:       s.lastErr,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.diff != nil {
		sum := Summarize(s.diff)
		info.Diff = &sum
	}
	return info
}
