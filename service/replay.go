package service

import (
	"fmt"

	"go.uber.org/zap"

	"l3sim/infra/journal"
	"l3sim/replay"
)

/*
ImportHistory collates raw exchange messages into reconciled events and
appends them to the journal under cfg.Dir.

IMPORTANT:
- This MUST run before the journal is attached to a broker
- Events the journal already holds are skipped
*/

func ImportHistory(cfg journal.Config, c *replay.Collator, log *zap.Logger) (int, error) {
	events, err := c.Events()
	if err != nil {
		return 0, err
	}

	j, err := journal.Open(cfg)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ev := range events {
		if uint64(ev.Seq) <= j.LastSeq() {
			continue
		}
		if err := j.AppendEvent(ev); err != nil {
			_ = j.Close()
			return n, fmt.Errorf("append seq %d: %w", ev.Seq, err)
		}
		n++
	}
	if err := j.Close(); err != nil {
		return n, err
	}

	if log != nil {
		log.Info("history imported", zap.String("dir", cfg.Dir), zap.Int("events", n))
	}
	return n, nil
}

// OpenHistory returns a replay cursor over the journal in dir.
func OpenHistory(dir string) (*journal.Cursor, error) {
	return journal.OpenCursor(dir)
}
