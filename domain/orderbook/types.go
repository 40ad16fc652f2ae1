package orderbook

import (
	"fmt"
	"math"
	"strings"
)

// Sentinels for an empty side of the book.
const (
	InvalidMin int64 = math.MinInt64 // no best bid
	InvalidMax int64 = math.MaxInt64 // no best ask
)

// SweepDepth is the number of price levels a market sweep (M/N) may consume.
const SweepDepth = 5

// ---------------- Side ----------------

type Side int8

const (
	None        Side = 0
	Buy         Side = 1
	Sell        Side = -1
	Unsupported Side = 127
)

func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return s
	}
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "B"
	case Sell:
		return "S"
	case None:
		return "N"
	default:
		return "?"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSide accepts B/S and buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "buy":
		return Buy, nil
	case "s", "sell":
		return Sell, nil
	}
	return Unsupported, fmt.Errorf("side %q: %w", s, ErrMarketSide)
}

// NoLimit is the limit tick that crosses every level of the opposite side.
func NoLimit(side Side) int64 {
	if side == Buy {
		return InvalidMax
	}
	return InvalidMin
}

// crosses reports whether an order on side with limit tick can trade at level tick.
func crosses(side Side, limit, tick int64) bool {
	if side == Buy {
		return limit >= tick
	}
	return limit <= tick
}

// ---------------- Source ----------------

type SourceType uint8

const (
	LocalOrder SourceType = iota // replayed from history
	UserOrder                    // submitted by the simulation client
)

func (s SourceType) String() string {
	if s == LocalOrder {
		return "local"
	}
	return "user"
}

// ---------------- OrderType ----------------

type OrderType uint8

const (
	TypeNone        OrderType = iota
	Limit                     // L
	SweepCancel               // M: sweep top levels, cancel the rest
	SweepLimit                // N: sweep top levels, rest the remainder as limit
	PegOwnBest                // B: price at own side best
	PegOppositeBest           // C: price at opposite side best
	AllOrCancel               // D
	Cancel
)

var orderTypeCodes = map[OrderType]string{
	TypeNone:        "",
	Limit:           "L",
	SweepCancel:     "M",
	SweepLimit:      "N",
	PegOwnBest:      "B",
	PegOppositeBest: "C",
	AllOrCancel:     "D",
	Cancel:          "X",
}

func (t OrderType) String() string {
	return orderTypeCodes[t]
}

func ParseOrderType(s string) (OrderType, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for t, code := range orderTypeCodes {
		if code != "" && code == u {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("order type %q: %w", s, ErrOrderTypeUnsupported)
}

// ---------------- Mode ----------------

type Mode uint8

const (
	Backtest Mode = iota
	Live
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "backtest"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backtest":
		return Backtest, nil
	case "live":
		return Live, nil
	}
	return Backtest, fmt.Errorf("mode %q: %w", s, ErrExchangeModeUnsupported)
}

// MustParseMode panics on an unknown mode. Setup code only.
func MustParseMode(s string) Mode {
	m, err := ParseMode(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ---------------- Status ----------------

type Status uint8

const (
	New Status = iota
	PartiallyFilled
	Filled
	Canceled
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) Terminal() bool {
	return s == Filled || s == Canceled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{New, PartiallyFilled, Filled, Canceled} {
		if st.String() == strings.ToUpper(s) {
			return st, nil
		}
	}
	return New, fmt.Errorf("status %q: %w", s, ErrParse)
}
