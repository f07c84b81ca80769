package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/itemstage/internal/logging"
)

// DefaultBatchSize is the number of rows per staging insert.
const DefaultBatchSize = 100

// DefaultPreviewSize is the number of staged rows returned after a load.
const DefaultPreviewSize = 5

// MaxBindParams is the most parameters Postgres accepts in one statement.
const MaxBindParams = 65535

// Load writes validated rows to staging in sequential batches.
//
// Each batch is its own unit of work: a failed batch is recorded in the
// result and the next batch still runs. Progress is reported after every
// batch. Cancelling ctx stops the loop between batches; a batch already
// sent to the store always completes. The returned error is non-nil only
// when the load could not start (clearing staging failed) or was cancelled.
func Load(ctx context.Context, store Store, cm ColumnMap, rows []StagingRow, opts LoadOptions, progress ProgressFunc) (LoadResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PreviewSize < 0 {
		opts.PreviewSize = 0
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	log := logging.FromContext(ctx)

	if limit := cm.MaxBatchSize(); opts.BatchSize > limit {
		log.Warn("batch size exceeds the bind parameter limit, clamping",
			"requested", opts.BatchSize, "clamped", limit, "columns", len(cm.Columns))
		opts.BatchSize = limit
	}

	result := LoadResult{
		TotalRows: len(rows),
		Errors:    []BatchError{},
		Preview:   []Record{},
	}

	if opts.ClearFirst {
		if err := store.TruncateStaging(ctx); err != nil {
			return result, fmt.Errorf("clear staging: %w", err)
		}
	}

	progress(Progress{Current: 0, Total: len(rows), Message: fmt.Sprintf("Starting to stage %d rows", len(rows))})

	for start := 0; start < len(rows); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return finishLoad(result), fmt.Errorf("staging stopped after %d of %d rows: %w", start, len(rows), err)
		}

		end := min(start+opts.BatchSize, len(rows))
		batch := rows[start:end]
		label := batchLabel(batch)

		// The in-flight batch is not cancellable; only the loop is.
		if _, err := store.InsertStagingBatch(context.WithoutCancel(ctx), cm, batch); err != nil {
			result.FailedRows += len(batch)
			result.Errors = append(result.Errors, BatchError{Batch: label, Error: err.Error()})
			log.Warn("staging batch failed", "batch", label, "error", err)
		} else {
			result.SuccessfulRows += len(batch)
		}

		progress(Progress{
			Current: end,
			Total:   len(rows),
			Message: fmt.Sprintf("Processed %d of %d rows", end, len(rows)),
		})
	}

	if opts.PreviewSize > 0 && result.SuccessfulRows > 0 {
		preview, err := store.PreviewStaging(ctx, cm, opts.PreviewSize)
		if err != nil {
			log.Warn("staging preview failed", "error", err)
		} else {
			result.Preview = preview
		}
	}

	return finishLoad(result), nil
}

func finishLoad(r LoadResult) LoadResult {
	r.Success = len(r.Errors) == 0 && r.SuccessfulRows == r.TotalRows
	return r
}

// batchLabel names a batch by its spreadsheet row range.
func batchLabel(batch []StagingRow) string {
	if len(batch) == 0 {
		return "rows -"
	}
	return fmt.Sprintf("rows %d-%d", batch[0].RowNumber, batch[len(batch)-1].RowNumber)
}
