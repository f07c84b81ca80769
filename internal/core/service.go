package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/itemstage/internal/logging"
	"github.com/google/uuid"
)

// Defaults for ServiceOptions fields left zero.
const (
	DefaultStageTimeout = 10 * time.Minute
	DefaultApplyTimeout = 2 * time.Minute
	DefaultSessionTTL   = time.Hour
)

// DefaultIdentifierLimit caps ListIdentifiers when no limit is given.
const DefaultIdentifierLimit = 1000

// ServiceOptions tunes a Service.
type ServiceOptions struct {
	BatchSize    int
	PreviewSize  int
	WriterWait   time.Duration
	StageTimeout time.Duration
	ApplyTimeout time.Duration
	SessionTTL   time.Duration
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PreviewSize == 0 {
		o.PreviewSize = DefaultPreviewSize
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = DefaultStageTimeout
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = DefaultApplyTimeout
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	return o
}

// Service runs the import pipeline against one Store and column map.
//
// The plain operations (ValidateSheet, LoadSheet, Diff, ApplyChanges) are
// what the CLI uses. The session operations wrap them in the import state
// machine and run staging in the background for the HTTP API. Every write to
// staging or production passes through the writer gate.
type Service struct {
	store Store
	cm    ColumnMap
	opts  ServiceOptions
	gate  *WriterGate

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewService creates a Service. The column map is validated up front.
func NewService(store Store, cm ColumnMap, opts ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: nil store")
	}
	if err := cm.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Service{
		store:    store,
		cm:       cm,
		opts:     opts,
		gate:     NewWriterGate(opts.WriterWait),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}, nil
}

// ColumnMap returns the map this service imports with.
func (s *Service) ColumnMap() ColumnMap { return s.cm }

// Gate exposes the writer gate for status reporting and shutdown.
func (s *Service) Gate() *WriterGate { return s.gate }

// ValidateSheet checks the header signature and every row. Data problems
// come back in the report; the error is for an unusable header or map.
func (s *Service) ValidateSheet(sheet Sheet) (*ValidationReport, error) {
	if sheet.Header != nil {
		if err := CheckHeader(sheet.Header, s.cm); err != nil {
			return nil, err
		}
	}
	return Validate(sheet, s.cm)
}

// LoadSheet validates the sheet and, if it is clean, loads it into staging.
// A rejected sheet returns a *ValidationRejectedError and writes nothing.
func (s *Service) LoadSheet(ctx context.Context, sheet Sheet, clearFirst bool, progress ProgressFunc) (LoadResult, error) {
	report, err := s.ValidateSheet(sheet)
	if err != nil {
		return LoadResult{}, err
	}
	if !report.Valid {
		return LoadResult{}, &ValidationRejectedError{Report: report}
	}

	if err := s.gate.Acquire(ctx, "stage"); err != nil {
		return LoadResult{}, err
	}
	defer s.gate.Release()

	return s.load(ctx, sheet, clearFirst, progress)
}

func (s *Service) load(ctx context.Context, sheet Sheet, clearFirst bool, progress ProgressFunc) (LoadResult, error) {
	rows := BuildStagingRows(sheet, s.cm)
	opts := LoadOptions{
		BatchSize:   s.opts.BatchSize,
		ClearFirst:  clearFirst,
		PreviewSize: s.opts.PreviewSize,
	}

	start := time.Now()
	result, err := Load(ctx, s.store, s.cm, rows, opts, progress)

	log := logging.WithFields(ctx,
		"rows", result.TotalRows,
		"loaded", result.SuccessfulRows,
		"failed", result.FailedRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		log.Warn("staging load stopped", "error", err)
	} else {
		log.Info("staging load finished")
	}
	return result, err
}

// Diff reconciles staging against production.
func (s *Service) Diff(ctx context.Context) ([]DiffEntry, error) {
	return Reconcile(ctx, s.store, s.cm)
}

// ApplyChanges commits the selected diff IDs in one transaction.
func (s *Service) ApplyChanges(ctx context.Context, ids []string) (ApplyResult, error) {
	if err := s.gate.Acquire(ctx, "apply"); err != nil {
		return ApplyResult{Message: fmt.Sprintf("Failed to apply changes: %v", err)}, err
	}
	defer s.gate.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ApplyTimeout)
	defer cancel()

	result, err := Apply(ctx, s.store, s.cm, ids)
	log := logging.FromContext(ctx)
	if err != nil {
		log.Warn("apply rolled back", "selected", len(ids), "error", err)
	} else {
		log.Info("apply committed", "applied", result.AppliedCount)
	}
	return result, err
}

// ClearStaging empties the staging table.
func (s *Service) ClearStaging(ctx context.Context) error {
	if err := s.gate.Acquire(ctx, "clear"); err != nil {
		return err
	}
	defer s.gate.Release()

	if err := s.store.TruncateStaging(ctx); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	logging.FromContext(ctx).Info("staging cleared")
	return nil
}

// StagingStatus reports how many rows staging holds.
func (s *Service) StagingStatus(ctx context.Context) (StagingStatus, error) {
	n, err := s.store.CountStaging(ctx)
	if err != nil {
		return StagingStatus{}, fmt.Errorf("count staging: %w", err)
	}
	return StagingStatus{RowCount: n, HasData: n > 0}, nil
}

// RefreshIdentifierIndex rebuilds the identifier index from production.
func (s *Service) RefreshIdentifierIndex(ctx context.Context) (int64, error) {
	if err := s.gate.Acquire(ctx, "refresh identifiers"); err != nil {
		return 0, err
	}
	defer s.gate.Release()

	n, err := s.store.RefreshIdentifiers(ctx, s.cm)
	if err != nil {
		return 0, fmt.Errorf("refresh identifiers: %w", err)
	}
	logging.FromContext(ctx).Info("identifier index refreshed", "identifiers", n)
	return n, nil
}

// ListIdentifiers returns up to limit rows of the identifier index.
func (s *Service) ListIdentifiers(ctx context.Context, limit int) ([]Identifier, error) {
	if limit <= 0 {
		limit = DefaultIdentifierLimit
	}
	ids, err := s.store.ListIdentifiers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	return ids, nil
}

// NewSession creates an idle import session.
func (s *Service) NewSession() SessionInfo {
	sess := newSession(uuid.New().String(), s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.Info()
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Session returns a snapshot of a session.
func (s *Service) Session(id string) (SessionInfo, error) {
	sess, err := s.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.Info(), nil
}

// ValidateForSession validates a sheet and records the report on the
// session without staging anything or changing its phase.
func (s *Service) ValidateForSession(id string, sheet Sheet) (*ValidationReport, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	report, err := s.ValidateSheet(sheet)
	if err != nil {
		sess.setError(err)
		return nil, err
	}
	sess.setReport(report)
	return report, nil
}

// StartStage validates the sheet and, if clean, loads it into staging in
// the background. It returns once the load has started; follow it with
// SubscribeProgress and StageResult. A rejected sheet moves the session to
// Rejected and returns a *ValidationRejectedError.
func (s *Service) StartStage(ctx context.Context, id, fileName string, sheet Sheet, clearFirst bool) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if err := sess.beginStage(fileName); err != nil {
		return err
	}

	report, err := s.ValidateSheet(sheet)
	if err != nil {
		sess.rejectStage(nil, err)
		return err
	}
	if !report.Valid {
		rejected := &ValidationRejectedError{Report: report}
		sess.rejectStage(report, rejected)
		return rejected
	}
	sess.setReport(report)

	if err := s.gate.Acquire(ctx, "stage"); err != nil {
		sess.finishStage(LoadResult{Errors: []BatchError{}, Preview: []Record{}}, err)
		return err
	}

	// The load outlives the request that started it.
	stageCtx := logging.WithSession(context.WithoutCancel(ctx), id)
	stageCtx, cancel := context.WithTimeout(stageCtx, s.opts.StageTimeout)
	sess.setCancel(cancel)

	go func() {
		defer s.gate.Release()
		defer cancel()

		result, err := s.load(stageCtx, sheet, clearFirst, sess.notify)
		sess.finishStage(result, err)
	}()

	return nil
}

// SubscribeProgress returns a channel of progress for the session's running
// stage. The channel is closed when the stage ends.
func (s *Service) SubscribeProgress(id string) (<-chan Progress, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.subscribe(), nil
}

// CancelStage stops the session's running load after the current batch.
func (s *Service) CancelStage(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if !sess.cancelStage() {
		return fmt.Errorf("%w: nothing to cancel", ErrNoStageRun)
	}
	return nil
}

// StageResult waits for the session's stage to finish and returns its
// result. A rejected stage returns its *ValidationRejectedError.
func (s *Service) StageResult(ctx context.Context, id string) (*LoadResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	done := sess.stageDone()
	if done == nil {
		return nil, ErrNoStageRun
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return sess.stageOutcome()
}

// ReconcileSession diffs staging against production for a staged session.
// A reconciliation failure ends the session.
func (s *Service) ReconcileSession(ctx context.Context, id string) ([]DiffEntry, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if err := sess.transition(PhaseReconciling); err != nil {
		return nil, err
	}

	diff, err := s.Diff(logging.WithSession(ctx, id))
	if err != nil {
		sess.setError(err)
		_ = sess.transition(PhaseIdle)
		return nil, err
	}

	sess.setDiff(diff)
	sess.setError(nil)
	if err := sess.transition(PhaseReviewing); err != nil {
		return nil, err
	}
	return diff, nil
}

// ApplySession applies the selected IDs for a reviewed session. A selection
// that cannot be decoded is refused before the session moves.
func (s *Service) ApplySession(ctx context.Context, id string, ids []string) (ApplyResult, error) {
	sess, err := s.session(id)
	if err != nil {
		return ApplyResult{}, err
	}
	if _, err := resolveSelection(s.cm, ids); err != nil {
		return ApplyResult{Message: fmt.Sprintf("Failed to apply changes: %v", err)}, err
	}
	if err := sess.transition(PhaseApplying); err != nil {
		return ApplyResult{}, err
	}

	result, err := s.ApplyChanges(logging.WithSession(ctx, id), ids)
	sess.setApply(result)
	sess.setError(err)

	next := PhaseApplied
	if err != nil {
		next = PhaseRolledBack
	}
	if terr := sess.transition(next); terr != nil && err == nil {
		err = terr
	}
	return result, err
}

// ResetSession returns a session to Idle. Staging is left as it is.
func (s *Service) ResetSession(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	return sess.reset()
}

// DeleteSession forgets a session that is not doing work.
func (s *Service) DeleteSession(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	if sess.Phase().working() {
		return ErrSessionBusy
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// SweepSessions drops sessions idle for longer than the session TTL and
// returns how many were removed.
func (s *Service) SweepSessions() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.expired(now, s.opts.SessionTTL) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.SweepSessions(); n > 0 {
				logging.FromContext(ctx).Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// Drain waits for the active writer, if any, to finish.
func (s *Service) Drain(ctx context.Context) error {
	return s.gate.WaitForDrain(ctx)
}
