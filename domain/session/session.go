// Package session handles exchange timestamps and trading-session windows.
//
// Timestamps are 17-digit integers YYYYMMDDHHMMSSmmm in exchange local time.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"l3sim/domain/orderbook"
)

const (
	digits = 17

	dayDivisor = 1_000_000_000 // splits YYYYMMDD from HHMMSSmmm

	OpenAuctionStart  int64 = 91500000
	ContinuousOpen    int64 = 93000000
	CloseAuctionStart int64 = 145700000
	PostTrading       int64 = 150000000
	SessionEnd        int64 = 150100000
)

// ---------------- Timestamps ----------------

// Valid reports whether ts has exactly 17 digits and encodes a real instant.
func Valid(ts int64) bool {
	_, err := ToTime(ts)
	return err == nil
}

func ToTime(ts int64) (time.Time, error) {
	if len(strconv.FormatInt(ts, 10)) != digits {
		return time.Time{}, fmt.Errorf("timestamp %d: %w", ts, orderbook.ErrInvalidTimestamp)
	}
	date := ts / dayDivisor
	tod := ts % dayDivisor

	y, mo, d := int(date/10000), time.Month(date/100%100), int(date%100)
	h, mi, s, ms := int(tod/10_000_000), int(tod/100_000%100), int(tod/1000%100), int(tod%1000)

	t := time.Date(y, mo, d, h, mi, s, ms*int(time.Millisecond), time.UTC)
	if t.Year() != y || t.Month() != mo || t.Day() != d || t.Hour() != h || t.Minute() != mi || t.Second() != s {
		return time.Time{}, fmt.Errorf("timestamp %d: %w", ts, orderbook.ErrInvalidTimestamp)
	}
	return t, nil
}

func FromTime(t time.Time) int64 {
	date := int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
	tod := int64(t.Hour())*10_000_000 + int64(t.Minute())*100_000 +
		int64(t.Second())*1000 + int64(t.Nanosecond()/int(time.Millisecond))
	return date*dayDivisor + tod
}

// AddMillis moves ts by ms milliseconds.
func AddMillis(ts, ms int64) (int64, error) {
	t, err := ToTime(ts)
	if err != nil {
		return 0, err
	}
	return FromTime(t.Add(time.Duration(ms) * time.Millisecond)), nil
}

// DiffMillis returns a - b in milliseconds.
func DiffMillis(a, b int64) (int64, error) {
	ta, err := ToTime(a)
	if err != nil {
		return 0, err
	}
	tb, err := ToTime(b)
	if err != nil {
		return 0, err
	}
	return ta.Sub(tb).Milliseconds(), nil
}

// TimeOfDay returns the HHMMSSmmm part.
func TimeOfDay(ts int64) int64 {
	return ts % dayDivisor
}

// Start returns the opening-auction start of date (YYYYMMDD).
func Start(date string) (int64, error) {
	d, err := strconv.ParseInt(date, 10, 64)
	if err != nil || len(date) != 8 {
		return 0, fmt.Errorf("date %q: %w", date, orderbook.ErrInvalidTimestamp)
	}
	ts := d*dayDivisor + OpenAuctionStart
	if !Valid(ts) {
		return 0, fmt.Errorf("date %q: %w", date, orderbook.ErrInvalidTimestamp)
	}
	return ts, nil
}

// End returns the instant after the closing auction of date.
func End(date string) (int64, error) {
	start, err := Start(date)
	if err != nil {
		return 0, err
	}
	return start - OpenAuctionStart + SessionEnd, nil
}

// ---------------- Windows ----------------

// InCallAuction reports whether ts falls in the opening or closing call auction.
func InCallAuction(ts int64) bool {
	tod := TimeOfDay(ts)
	return tod < ContinuousOpen || tod > CloseAuctionStart
}

// OpenAuctionDue reports whether the opening auction should have run by ts.
func OpenAuctionDue(ts int64) bool {
	return TimeOfDay(ts) >= ContinuousOpen
}

// CloseAuctionDue reports whether ts is past the post-trading cutoff.
func CloseAuctionDue(ts int64) bool {
	return TimeOfDay(ts) > PostTrading
}

// ---------------- Markets ----------------

type Market uint8

const (
	SH Market = iota + 1
	SZ
)

func (m Market) String() string {
	switch m {
	case SH:
		return "SH"
	case SZ:
		return "SZ"
	}
	return "UNKNOWN"
}

// ParseMarket reads the market from an instrument code such as 600519.SH.
func ParseMarket(code string) (Market, error) {
	i := strings.LastIndexByte(code, '.')
	if i < 0 {
		return 0, fmt.Errorf("code %q: %w", code, orderbook.ErrMarketTypeUnknown)
	}
	switch strings.ToUpper(code[i+1:]) {
	case "SH":
		return SH, nil
	case "SZ":
		return SZ, nil
	}
	return 0, fmt.Errorf("code %q: %w", code, orderbook.ErrMarketTypeUnknown)
}
