package task

import (
	"context"
	"log/slog"
	"time"
)

const (
	maxStoreErrors = 100
	maxStoreLive   = 5600 * time.Second
)

// taskSeed staggers the six task slots by back-dating each slot's initial
// lastRunTime by its offset. Iter runs the slot with the oldest lastRunTime
// first, so on a fresh store process the last slot (largest offset) runs
// first and slot 0 runs last.
var taskSeed = []time.Duration{
	0, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second, 40 * time.Second,
}

type taskSlot struct {
	task        Task
	status      Status
	lastRunTime time.Time
}

// StoreProcess drives one store's six tasks to completion, picking the
// least-recently-run non-terminal task on every Iter call until all six
// report SUCCESS (or the process is abandoned on error count or wall-clock
// budget).
type StoreProcess struct {
	storeID    int64
	logger     *slog.Logger
	startedAt  time.Time
	errorCount int
	slots      []*taskSlot
}

// NewStoreProcess builds a StoreProcess for storeID from tasks in the fixed
// six-task order (cards list, nm report detail, fact stock, fact sales,
// advert info, advert stats); passing a different count or order is a
// programming error since the tasks are assumed to be exactly this set.
func NewStoreProcess(storeID int64, logger *slog.Logger, tasks []Task) *StoreProcess {
	now := time.Now()

	slots := make([]*taskSlot, len(tasks))
	for i, t := range tasks {
		seed := time.Duration(0)
		if i < len(taskSeed) {
			seed = taskSeed[i]
		}

		slots[i] = &taskSlot{
			task:        t,
			status:      StatusInProgress,
			lastRunTime: now.Add(-seed),
		}
	}

	return &StoreProcess{
		storeID:   storeID,
		logger:    logger,
		startedAt: now,
		slots:     slots,
	}
}

// Ready reports whether every task has reached a terminal state.
func (sp *StoreProcess) Ready() bool {
	for _, s := range sp.slots {
		if s.status == StatusInProgress {
			return false
		}
	}

	return true
}

func (sp *StoreProcess) earliestSlot() *taskSlot {
	var earliest *taskSlot

	for _, s := range sp.slots {
		if s.status != StatusInProgress {
			continue
		}

		if earliest == nil || s.lastRunTime.Before(earliest.lastRunTime) {
			earliest = s
		}
	}

	return earliest
}

// Iter runs one step of the least-recently-run pending task and reports the
// process's overall status.
//
// The error-count and wall-clock overrun checks below intentionally mirror
// a quirk in the engine this was ported from: both build the ERROR response
// that should short-circuit an abandoned store, but neither returns it —
// control always falls through to running (or trying to run) the next task
// and reporting IN_PROGRESS. A store that has blown its error budget or its
// time budget is logged here but kept in rotation rather than actually
// retired, exactly as before.
func (sp *StoreProcess) Iter(ctx context.Context) Response {
	if sp.Ready() {
		return Response{Status: StatusSuccess, StoreID: sp.storeID}
	}

	if sp.errorCount > maxStoreErrors {
		sp.logger.Error("store process error budget exceeded",
			slog.Int64("store_id", sp.storeID),
			slog.Int("error_count", sp.errorCount))
		// Not returned: see doc comment above.
	}

	if time.Since(sp.startedAt) > maxStoreLive {
		sp.logger.Error("store process exceeded its live time budget",
			slog.Int64("store_id", sp.storeID),
			slog.Duration("elapsed", time.Since(sp.startedAt)))
		// Not returned: see doc comment above.
	}

	slot := sp.earliestSlot()
	if slot == nil {
		return Response{Status: StatusInProgress, StoreID: sp.storeID}
	}

	slot.lastRunTime = time.Now()

	resp, err := slot.task.Process(ctx)
	if err != nil {
		sp.errorCount++

		sp.logger.Error("task failed",
			slog.Int64("store_id", sp.storeID),
			slog.String("task", slot.task.Identifier()),
			slog.String("error", err.Error()))

		return Response{Status: StatusInProgress, StoreID: sp.storeID}
	}

	slot.status = resp.Status
	if resp.Status == StatusError {
		sp.errorCount++
	}

	return Response{Status: StatusInProgress, StoreID: sp.storeID}
}
