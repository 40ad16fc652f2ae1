package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"l3sim/infra/journal"
	"l3sim/snapshot"
)

// SaveSnapshots writes the current document of every broker to store and
// returns the lowest replay seq they all cover.
func (e *Exchange) SaveSnapshots(store *snapshot.Store) (int64, error) {
	var covered int64 = -1
	for _, code := range e.Brokers() {
		ts, doc, err := e.SnapshotDoc(code)
		if err != nil {
			return 0, err
		}
		if err := store.Put(code, ts, doc); err != nil {
			return 0, err
		}

		seq := e.latestSeq(code)
		if covered < 0 || seq < covered {
			covered = seq
		}
	}
	return max(covered, 0), nil
}

func (e *Exchange) latestSeq(code string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.brokers[code]; ok {
		return b.LatestSeq()
	}
	return 0
}

// StartSnapshotJob snapshots every broker each interval until ctx ends.
// Journal segments fully covered by the snapshots are removed when j is set.
func (e *Exchange) StartSnapshotJob(
	ctx context.Context,
	store *snapshot.Store,
	j *journal.Journal,
	interval time.Duration,
) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			seq, err := e.SaveSnapshots(store)
			if err != nil {
				e.log.Error("snapshot", zap.Error(err))
				continue
			}

			// replayed history up to seq now lives in the snapshots
			if j != nil {
				if err := j.TruncateBefore(uint64(seq)); err != nil {
					e.log.Warn("journal truncate", zap.Uint64("seq", uint64(seq)), zap.Error(err))
				}
			}
		}
	}()
}
