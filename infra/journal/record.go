package journal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"l3sim/domain/orderbook"
	"l3sim/replay"
)

type RecordType uint8

const (
	RecordOrder RecordType = iota + 1
	RecordCancel
)

// Record is one journal frame.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64 // exchange timestamp, YYYYMMDDHHMMSSmmm
	Data []byte
}

const (
	headerLen = 1 + 8 + 8 + 4
	crcLen    = 4

	// [order:8][side:1][tick:8][vol:8][type:1][recon:10*8]
	eventLen = 8 + 1 + 8 + 8 + 1 + 10*8
)

var (
	ErrCRC         = errors.New("journal: crc mismatch")
	ErrSeqOrder    = errors.New("journal: non-monotonic seq")
	ErrShortRecord = errors.New("journal: truncated event payload")
)

var table = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, table)
}

// frame encodes [type:1][seq:8][time:8][len:4][payload][crc:4].
func frame(r *Record) []byte {
	n := uint32(len(r.Data))
	buf := make([]byte, headerLen+n+crcLen)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], n)
	copy(buf[headerLen:], r.Data)

	binary.BigEndian.PutUint32(buf[headerLen+n:], checksum(buf[:headerLen+n]))
	return buf
}

// EventRecord frames a replay event.
func EventRecord(ev replay.Event) *Record {
	typ := RecordOrder
	if ev.IsCancel() {
		typ = RecordCancel
	}
	return &Record{
		Type: typ,
		Seq:  uint64(ev.Seq),
		Time: ev.Timestamp,
		Data: encodeEvent(ev),
	}
}

func encodeEvent(ev replay.Event) []byte {
	b := make([]byte, eventLen)
	be := binary.BigEndian

	be.PutUint64(b[0:8], uint64(ev.OrderID))
	b[8] = byte(ev.Side)
	be.PutUint64(b[9:17], uint64(ev.PriceTick))
	be.PutUint64(b[17:25], uint64(ev.Vol))
	b[25] = byte(ev.Type)

	r := ev.Recon
	off := 26
	for _, v := range []int64{
		r.MatchPrice, r.MatchQty, r.MatchSeq,
		r.RestPrice, r.RestQty, r.RestSeq,
		r.InitPrice, r.InitQty, r.InitSeq,
		r.CancelSeq,
	} {
		be.PutUint64(b[off:off+8], uint64(v))
		off += 8
	}
	return b
}

// Event decodes the record payload.
func (r *Record) Event() (replay.Event, error) {
	b := r.Data
	if len(b) != eventLen {
		return replay.Event{}, ErrShortRecord
	}
	be := binary.BigEndian
	u := func(off int) int64 { return int64(be.Uint64(b[off : off+8])) }

	return replay.Event{
		Seq:       int64(r.Seq),
		OrderID:   u(0),
		Side:      orderbook.Side(int8(b[8])),
		PriceTick: u(9),
		Vol:       u(17),
		Timestamp: r.Time,
		Type:      orderbook.OrderType(b[25]),
		Recon: orderbook.Recon{
			MatchPrice: u(26),
			MatchQty:   u(34),
			MatchSeq:   u(42),
			RestPrice:  u(50),
			RestQty:    u(58),
			RestSeq:    u(66),
			InitPrice:  u(74),
			InitQty:    u(82),
			InitSeq:    u(90),
			CancelSeq:  u(98),
		},
	}, nil
}
