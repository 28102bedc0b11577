package lsm

import (
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
)

// flushWorker wakes every tick and flushes the oldest immutable memtable
// once the in-memory table count builds up. It exits when the stop channel
// closes; a flush already in flight completes first.
func (e *Engine) flushWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(workerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.triggerFlush(); err != nil {
				e.logger.Error("background flush failed", logging.Error(err))
			}
		case <-e.flushStop:
			return
		}
	}
}

// triggerFlush flushes the oldest immutable memtable when the limit nears
func (e *Engine) triggerFlush() error {
	if len(e.readState().immMemtables) >= e.options.NumMemTableLimit-1 {
		return e.forceFlushNextImmMemtable()
	}
	return nil
}

// compactionWorker wakes every tick and runs at most one controller task.
// Errors are logged and the worker keeps going; the state is never mutated
// on an error path.
func (e *Engine) compactionWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(workerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.runScheduledCompaction(); err != nil {
				e.logger.Error("background compaction failed", logging.Error(err))
			}
		case <-e.compactionStop:
			return
		}
	}
}
