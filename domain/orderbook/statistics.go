package orderbook

// Statistics are running per-instrument counters in tick/lot units.
type Statistics struct {
	TotalBidNum int64 // buy submissions
	TotalAskNum int64 // sell submissions
	TotalCancel int64

	TotalBidTick int64 // turnover traded against the bid side, tick*lot
	TotalAskTick int64
	TotalBidVol  int64 // volume traded against the bid side, lots
	TotalAskVol  int64

	TotalBidOrder int64 // orders rested on the bid side
	TotalAskOrder int64

	Trades int64 // executions

	High int64
	Low  int64
}

func NewStatistics() Statistics {
	return Statistics{
		High: InvalidMin,
		Low:  InvalidMax,
	}
}

func (s *Statistics) TotalVolume() int64 {
	return s.TotalBidVol + s.TotalAskVol
}

func (s *Statistics) TotalTurnover() int64 {
	return s.TotalBidTick + s.TotalAskTick
}

// AvgPrice is the volume weighted traded tick, 0 before any trade.
func (s *Statistics) AvgPrice() float64 {
	v := s.TotalVolume()
	if v == 0 {
		return 0
	}
	return float64(s.TotalTurnover()) / float64(v)
}

func (s *Statistics) UpdateHighLow(tick int64) {
	s.High = max(s.High, tick)
	s.Low = min(s.Low, tick)
}

// AddFill books volume traded against the book side opposite to taker.
func (s *Statistics) AddFill(taker Side, tick, vol int64) {
	switch taker {
	case Sell:
		s.TotalBidVol += vol
		s.TotalBidTick += vol * tick
	case Buy:
		s.TotalAskVol += vol
		s.TotalAskTick += vol * tick
	}
	s.UpdateHighLow(tick)
}

func (s *Statistics) AddSubmission(side Side) {
	switch side {
	case Buy:
		s.TotalBidNum++
	case Sell:
		s.TotalAskNum++
	}
}
