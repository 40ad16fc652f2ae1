package snapshot

import (
	"github.com/shopspring/decimal"

	"l3sim/domain/orderbook"
)

// State is everything needed to resume a broker. Queued user orders, the
// dirty tracker and the replay lookahead are not part of it.
type State struct {
	ID        string
	Code      string
	StockType string
	Mode      orderbook.Mode
	TickSize  decimal.Decimal
	LotSize   decimal.Decimal
	Timestamp int64
	LatestSeq int64 // last replayed event
	Seq       int64 // last user sequence number
	PrevClose int64 // tick
	OpenDone  bool
	CloseDone bool

	Orders []orderbook.Order
	Depth  Depth
}

type Depth struct {
	BestBid        int64
	BestAsk        int64
	LastTick       int64
	ShadowBid      int64
	ShadowAsk      int64
	LastShadowTick int64
	OpenTick       int64
	CloseTick      int64

	Stats  orderbook.Statistics
	Levels []Level
}

// Level is one price level. Key is the signed tick, negative for bids.
type Level struct {
	Key    int64
	Orders []orderbook.L3Order // slot order
}

func (l Level) Side() orderbook.Side {
	if l.Key < 0 {
		return orderbook.Buy
	}
	return orderbook.Sell
}

func (l Level) Tick() int64 {
	if l.Key < 0 {
		return -l.Key
	}
	return l.Key
}

func levelKey(side orderbook.Side, tick int64) int64 {
	if side == orderbook.Buy {
		return -tick
	}
	return tick
}
