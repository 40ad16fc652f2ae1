// Package outbox is a pebble-backed queue of events awaiting publication.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"l3sim/infra/sequence"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotFound          = errors.New("outbox: entry not found")
	ErrInvalidTransition = errors.New("outbox: invalid state transition")
	errCorrupt           = errors.New("outbox: invalid entry length")
)

// allowed[from] lists the states an entry may move to.
var allowed = map[State][]State{
	StateNew:    {StateSent},
	StateSent:   {StateAcked, StateFailed},
	StateFailed: {StateSent},
}

func canMove(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// -------------------- Entry --------------------

type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const metaLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, metaLen+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[metaLen:], e.Payload)
	return buf
}

func decodeEntry(seq uint64, b []byte) (Entry, error) {
	if len(b) < metaLen {
		return Entry{}, errCorrupt
	}
	return Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[metaLen:]),
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db  *pebble.DB
	seq *sequence.Sequencer
	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	o := &Outbox{db: db, now: time.Now}

	last, err := o.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	o.seq = sequence.New(int64(last))
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append stores payload under the next sequence number. Safe for concurrent use.
func (o *Outbox) Append(payload []byte) (uint64, error) {
	seq := uint64(o.seq.Next())
	if err := o.Put(seq, payload); err != nil {
		return 0, err
	}
	return seq, nil
}

// Put inserts a New entry.
func (o *Outbox) Put(seq uint64, payload []byte) error {
	o.seq.AtLeast(int64(seq))
	return o.db.Set(keyFor(seq), encodeEntry(Entry{State: StateNew, Payload: payload}), pebble.Sync)
}

// NextSeq is the sequence number the next Append will use.
func (o *Outbox) NextSeq() uint64 {
	return uint64(o.seq.Current()) + 1
}

func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, fmt.Errorf("seq %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()

	return decodeEntry(seq, val)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.move(seq, StateSent)
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.move(seq, StateAcked)
}

// MarkFailed counts a retry. The entry is picked up again by ScanPending.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.move(seq, StateFailed)
}

func (o *Outbox) move(seq uint64, to State) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	if !canMove(e.State, to) {
		return fmt.Errorf("seq %d %s -> %s: %w", seq, e.State, to, ErrInvalidTransition)
	}
	e.State = to
	e.LastAttempt = o.now().UnixNano()
	if to == StateFailed {
		e.Retries++
	}
	return o.db.Set(keyFor(seq), encodeEntry(e), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanByState iterates entries in the given state in seq order.
func (o *Outbox) ScanByState(state State, fn func(Entry) error) error {
	return o.scan(func(e Entry) error {
		if e.State != state {
			return nil
		}
		return fn(e)
	})
}

// ScanPending iterates New and Failed entries in seq order.
func (o *Outbox) ScanPending(fn func(Entry) error) error {
	return o.scan(func(e Entry) error {
		if e.State != StateNew && e.State != StateFailed {
			return nil
		}
		return fn(e)
	})
}

// TruncateAcked deletes every Acked entry.
func (o *Outbox) TruncateAcked() (int, error) {
	b := o.db.NewBatch()
	defer b.Close()

	n := 0
	err := o.ScanByState(StateAcked, func(e Entry) error {
		n++
		return b.Delete(keyFor(e.Seq), nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, b.Commit(pebble.Sync)
}

func (o *Outbox) scan(fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "evt/"
	keyUpper  = "evt/~"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}
