package core_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/memstore"
)

func newService(t *testing.T, store *memstore.Store, opts core.ServiceOptions) *core.Service {
	t.Helper()
	svc, err := core.NewService(store, testMap(), opts)
	require.NoError(t, err)
	return svc
}

// stageSession runs a stage to completion and returns its result.
func stageSession(t *testing.T, svc *core.Service, id string, sh core.Sheet) *core.LoadResult {
	t.Helper()
	require.NoError(t, svc.StartStage(context.Background(), id, "items.csv", sh, false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.StageResult(ctx, id)
	require.NoError(t, err)
	return res
}

func phase(t *testing.T, svc *core.Service, id string) core.Phase {
	t.Helper()
	info, err := svc.Session(id)
	require.NoError(t, err)
	return info.Phase
}

func TestNewService(t *testing.T) {
	_, err := core.NewService(nil, testMap(), core.ServiceOptions{})
	assert.Error(t, err)

	bad := testMap()
	bad.NaturalKey = "sku"
	_, err = core.NewService(newStore(), bad, core.ServiceOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidColumnMap)
}

func TestSession_FullFlow(t *testing.T) {
	store := newStore()
	store.Seed(record("ACME", "B2", "Old"), record("ACME", "C3", "Gone"))
	svc := newService(t, store, core.ServiceOptions{})
	ctx := context.Background()

	info := svc.NewSession()
	assert.Equal(t, core.PhaseIdle, info.Phase)
	assert.NotEmpty(t, info.ID)

	res := stageSession(t, svc, info.ID, sheet(row("ACME", "A1", "Gauze"), row("ACME", "B2", "New")))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessfulRows)

	got, err := svc.Session(info.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseStaged, got.Phase)
	assert.Equal(t, "items.csv", got.FileName)
	require.NotNil(t, got.Report)
	assert.True(t, got.Report.Valid)
	assert.Equal(t, 2, got.Progress.Current)

	diff, err := svc.ReconcileSession(ctx, info.ID)
	require.NoError(t, err)
	require.Len(t, diff, 3)
	got, _ = svc.Session(info.ID)
	assert.Equal(t, core.PhaseReviewing, got.Phase)
	assert.Equal(t, &core.DiffSummary{New: 1, Modified: 1, Deleted: 1}, got.Diff)

	result, err := svc.ApplySession(ctx, info.ID, []string{diff[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	assert.Equal(t, core.PhaseApplied, phase(t, svc, info.ID))

	// Staging is kept, so the rest of the diff can be applied afterwards.
	result, err = svc.ApplySession(ctx, info.ID, []string{diff[1].ID, diff[2].ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.AppliedCount)
	assert.Equal(t, []string{"A1", "B2"}, store.ProductionKeys())

	diff, err = svc.ReconcileSession(ctx, info.ID)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestSession_RejectedThenResubmitted(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID

	err := svc.StartStage(context.Background(), id, "bad.csv", sheet(row("ACME", "A1", "One"), row("ACME", "A1", "Two")), false)
	var rejected *core.ValidationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Len(t, rejected.Report.DuplicateKeys, 1)

	info, _ := svc.Session(id)
	assert.Equal(t, core.PhaseRejected, info.Phase)
	assert.NotEmpty(t, info.Error)

	_, err = svc.StageResult(context.Background(), id)
	assert.ErrorAs(t, err, &rejected)

	res := stageSession(t, svc, id, sheet(row("ACME", "A1", "One")))
	assert.True(t, res.Success)
	assert.Equal(t, core.PhaseStaged, phase(t, svc, id))
}

func TestSession_HeaderMismatchReturnsToIdle(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID

	sh := sheet(row("ACME", "A1", "One"))
	sh.Header = []string{"Item", "Brand"}
	err := svc.StartStage(context.Background(), id, "shifted.csv", sh, false)
	assert.ErrorIs(t, err, core.ErrHeaderMismatch)
	assert.Equal(t, core.PhaseIdle, phase(t, svc, id))
}

func TestSession_InvalidTransition(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID

	_, err := svc.ReconcileSession(context.Background(), id)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	var terr *core.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, core.PhaseIdle, terr.From)
	assert.Equal(t, core.PhaseReconciling, terr.To)

	_, err = svc.ApplySession(context.Background(), id, []string{core.EncodeChangeID(core.ChangeNew, "A1", "")})
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, core.PhaseIdle, phase(t, svc, id))
}

func TestSession_BadSelectionKeepsReviewing(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID
	stageSession(t, svc, id, sheet(row("ACME", "A1", "One")))
	_, err := svc.ReconcileSession(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.ApplySession(context.Background(), id, nil)
	assert.ErrorIs(t, err, core.ErrEmptySelection)
	assert.Equal(t, core.PhaseReviewing, phase(t, svc, id))
}

func TestSession_RolledBack(t *testing.T) {
	store := newStore()
	svc := newService(t, store, core.ServiceOptions{})
	id := svc.NewSession().ID
	stageSession(t, svc, id, sheet(row("ACME", "A1", "One"), row("ACME", "B2", "Two")))

	diff, err := svc.ReconcileSession(context.Background(), id)
	require.NoError(t, err)

	store.FailChange = func(_ core.ChangeType, key string) error {
		if key == "B2" {
			return errors.New("deadlock detected")
		}
		return nil
	}
	res, err := svc.ApplySession(context.Background(), id, ids(diff))
	var aerr *core.ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.False(t, res.Success)
	assert.Empty(t, store.ProductionKeys())

	info, _ := svc.Session(id)
	assert.Equal(t, core.PhaseRolledBack, info.Phase)
	assert.Contains(t, info.Error, "deadlock")
	require.NotNil(t, info.ApplyResult)

	store.FailChange = nil
	_, err = svc.ApplySession(context.Background(), id, ids(diff))
	require.NoError(t, err)
	assert.Equal(t, core.PhaseApplied, phase(t, svc, id))
	assert.Equal(t, []string{"A1", "B2"}, store.ProductionKeys())
}

func TestSession_ProgressAfterCompletion(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{BatchSize: 2})
	id := svc.NewSession().ID
	stageSession(t, svc, id, sheet(numberedRows(5)...))

	ch, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	var got []core.Progress
	for p := range ch {
		got = append(got, p)
	}
	require.Len(t, got, 1, "a finished stage replays its last progress and closes")
	assert.Equal(t, 5, got[0].Current)
	assert.Equal(t, 100, got[0].Percent())
}

func TestSession_Cancel(t *testing.T) {
	store := newStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	store.FailInsert = func([]core.StagingRow) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}
	svc := newService(t, store, core.ServiceOptions{BatchSize: 10})
	id := svc.NewSession().ID

	require.NoError(t, svc.StartStage(context.Background(), id, "big.csv", sheet(numberedRows(30)...), false))
	<-entered
	require.NoError(t, svc.CancelStage(id))
	close(release)

	_, err := svc.StageResult(context.Background(), id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.PhaseIdle, phase(t, svc, id))

	n, _ := store.CountStaging(context.Background())
	assert.EqualValues(t, 10, n)

	assert.ErrorIs(t, svc.CancelStage(id), core.ErrNoStageRun)
}

func TestSession_WriterBusy(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{WriterWait: 50 * time.Millisecond})
	require.True(t, svc.Gate().TryAcquire("test"))

	_, err := svc.LoadSheet(context.Background(), sheet(row("ACME", "A1", "One")), false, nil)
	assert.ErrorIs(t, err, core.ErrWriterBusy)

	id := svc.NewSession().ID
	err = svc.StartStage(context.Background(), id, "items.csv", sheet(row("ACME", "A1", "One")), false)
	assert.ErrorIs(t, err, core.ErrWriterBusy)
	assert.Equal(t, core.PhaseIdle, phase(t, svc, id))

	assert.ErrorIs(t, svc.ClearStaging(context.Background()), core.ErrWriterBusy)

	svc.Gate().Release()
	_, err = svc.LoadSheet(context.Background(), sheet(row("ACME", "A1", "One")), false, nil)
	assert.NoError(t, err)
}

func TestSession_NotFound(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})

	_, err := svc.Session("nope")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.ErrorIs(t, svc.StartStage(context.Background(), "nope", "x.csv", sheet(), false), core.ErrSessionNotFound)
	assert.ErrorIs(t, svc.DeleteSession("nope"), core.ErrSessionNotFound)
}

func TestSession_NoStageRun(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID

	_, err := svc.StageResult(context.Background(), id)
	assert.ErrorIs(t, err, core.ErrNoStageRun)
}

func TestSession_ResetAndDelete(t *testing.T) {
	store := newStore()
	svc := newService(t, store, core.ServiceOptions{})
	id := svc.NewSession().ID
	stageSession(t, svc, id, sheet(row("ACME", "A1", "One")))

	require.NoError(t, svc.ResetSession(id))
	info, _ := svc.Session(id)
	assert.Equal(t, core.PhaseIdle, info.Phase)
	assert.Nil(t, info.LoadResult)

	n, _ := store.CountStaging(context.Background())
	assert.EqualValues(t, 1, n, "reset leaves staging alone")

	require.NoError(t, svc.DeleteSession(id))
	_, err := svc.Session(id)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestSession_ValidateDoesNotMove(t *testing.T) {
	svc := newService(t, newStore(), core.ServiceOptions{})
	id := svc.NewSession().ID

	report, err := svc.ValidateForSession(id, sheet(row("ACME", "", "Nameless")))
	require.NoError(t, err)
	assert.False(t, report.Valid)

	info, _ := svc.Session(id)
	assert.Equal(t, core.PhaseIdle, info.Phase)
	assert.Same(t, report, info.Report)
}

func TestService_StagingAndIdentifiers(t *testing.T) {
	store := newStore()
	prod := record("ACME", "A1", "One")
	prod["upc_inner"] = text("012345678905")
	prod["upc_sellable"] = text("123456789012")
	store.Seed(prod)
	svc := newService(t, store, core.ServiceOptions{})
	ctx := context.Background()

	_, err := svc.LoadSheet(ctx, sheet(numberedRows(4)...), false, nil)
	require.NoError(t, err)

	status, err := svc.StagingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StagingStatus{RowCount: 4, HasData: true}, status)

	require.NoError(t, svc.ClearStaging(ctx))
	status, _ = svc.StagingStatus(ctx)
	assert.False(t, status.HasData)

	n, err := svc.RefreshIdentifierIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := svc.ListIdentifiers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "upc_inner", list[0].Level)
	assert.False(t, list[0].IsSellable)
	assert.Equal(t, 2, list[1].LevelNumber)
	assert.True(t, list[1].IsSellable)
}

func TestService_LoadSheetRejects(t *testing.T) {
	store := newStore()
	svc := newService(t, store, core.ServiceOptions{})

	_, err := svc.LoadSheet(context.Background(), sheet(row("ACME", "A1", "One"), row("ACME", "A1", "Two")), false, nil)
	var rejected *core.ValidationRejectedError
	assert.ErrorAs(t, err, &rejected)

	n, _ := store.CountStaging(context.Background())
	assert.Zero(t, n, "a rejected sheet writes nothing")
}
