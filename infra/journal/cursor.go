package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"l3sim/domain/orderbook"
	"l3sim/replay"
)

// Cursor reads every segment in order with one record of lookahead.
// It satisfies replay.Cursor.
type Cursor struct {
	files []string
	idx   int

	f *os.File
	r *bufio.Reader

	next    *Record
	err     error
	lastSeq uint64
}

var _ replay.Cursor = (*Cursor)(nil)

func OpenCursor(dir string) (*Cursor, error) {
	files, err := segments(dir)
	if err != nil {
		return nil, err
	}
	c := &Cursor{files: files, idx: -1}
	c.advance()
	return c, nil
}

func (c *Cursor) Next() (int64, replay.Event, error) {
	if c.err != nil {
		return 0, replay.Event{}, c.err
	}
	if c.next == nil {
		return 0, replay.Event{}, orderbook.ErrEndOfData
	}
	rec := c.next
	c.advance()

	ev, err := rec.Event()
	if err != nil {
		return 0, replay.Event{}, err
	}
	return ev.Seq, ev, nil
}

// IsLast reports exhaustion. A pending read error is not exhaustion.
func (c *Cursor) IsLast() bool {
	return c.next == nil && c.err == nil
}

func (c *Cursor) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

func (c *Cursor) advance() {
	c.next = nil
	for {
		if c.f == nil {
			c.idx++
			if c.idx >= len(c.files) {
				return
			}
			f, err := os.Open(c.files[c.idx])
			if err != nil {
				c.err = err
				return
			}
			c.f = f
			c.r = bufio.NewReader(f)
		}

		rec, err := readRecord(c.r)
		if err == io.EOF {
			_ = c.Close()
			continue
		}
		if err != nil {
			c.err = fmt.Errorf("%s: %w", filepath.Base(c.files[c.idx]), err)
			return
		}
		if rec.Seq <= c.lastSeq {
			c.err = fmt.Errorf("seq %d after %d: %w", rec.Seq, c.lastSeq, ErrSeqOrder)
			return
		}
		c.lastSeq = rec.Seq
		c.next = rec
		return
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[17:21])
	data := make([]byte, n+crcLen)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:n]
	sum := binary.BigEndian.Uint32(data[n:])
	if checksum(append(header, payload...)) != sum {
		return nil, ErrCRC
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
