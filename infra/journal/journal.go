// Package journal stores the historical event stream in segmented,
// CRC-framed files. Its Cursor feeds a broker.
package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"l3sim/replay"
)

type Config struct {
	Dir         string
	SegmentSize int64 // rotate once a segment reaches this many bytes
}

const defaultSegmentSize = 64 << 20

type Journal struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	lastSeq  uint64
}

// Open resumes after the newest segment, or starts segment 0.
func Open(cfg Config) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegmentSize
	}

	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	j := &Journal{dir: cfg.Dir, segSize: cfg.SegmentSize}
	for _, path := range files {
		seq, err := maxSeqInSegment(path)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
		}
		j.lastSeq = max(j.lastSeq, seq)
	}
	if n := len(files); n > 0 {
		if j.segIndex, err = segmentIndex(files[n-1]); err != nil {
			return nil, err
		}
	}

	if j.current, err = openSegment(cfg.Dir, j.segIndex); err != nil {
		return nil, err
	}
	return j, nil
}

// Append writes one frame. Seq must exceed every seq already written.
func (j *Journal) Append(r *Record) error {
	if r.Seq <= j.lastSeq {
		return fmt.Errorf("seq %d after %d: %w", r.Seq, j.lastSeq, ErrSeqOrder)
	}
	if err := j.current.append(frame(r)); err != nil {
		return err
	}
	j.lastSeq = r.Seq

	if j.current.offset >= j.segSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) AppendEvent(ev replay.Event) error {
	return j.Append(EventRecord(ev))
}

func (j *Journal) LastSeq() uint64 {
	return j.lastSeq
}

func (j *Journal) Sync() error {
	return j.current.sync()
}

func (j *Journal) Close() error {
	if err := j.current.sync(); err != nil {
		_ = j.current.close()
		return err
	}
	return j.current.close()
}

func (j *Journal) rotate() error {
	if err := j.current.sync(); err != nil {
		return err
	}
	_ = j.current.close()
	j.segIndex++

	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	return nil
}

// TruncateBefore removes closed segments whose records all have seq <= seq.
// The active segment is never removed.
func (j *Journal) TruncateBefore(seq uint64) error {
	files, err := segments(j.dir)
	if err != nil {
		return err
	}
	active := segmentPath(j.dir, j.segIndex)

	for _, path := range files {
		if path == active {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}
