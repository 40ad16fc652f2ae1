package orderbook

import "sort"

// AuctionResult is the uncrossing outcome.
type AuctionResult struct {
	Tick   int64
	Vol    int64
	Filled int64
}

type auctionCandidate struct {
	tick      int64
	bid       int64 // cumulative bid volume at ticks >= tick
	ask       int64 // cumulative ask volume at ticks <= tick
	matched   int64
	unmatched int64
}

// Uncross picks the auction price for the current book without touching it.
//
// Curves count the real volume of every resting order.
// Candidates are the level ticks inside [best ask, best bid]. The winner
// maximises matched volume, then minimises unmatched volume. Remaining ties
// go to the highest candidate when buyers are left over at it, to the lowest
// when sellers are left over at it, otherwise to the middle one.
func (d *MarketDepth) Uncross() (tick, vol int64, err error) {
	if d.bestBid == InvalidMin || d.bestAsk == InvalidMax || d.bestBid < d.bestAsk {
		return 0, 0, ErrNoCross
	}
	lo, hi := d.bestAsk, d.bestBid

	ticks := make(map[int64]struct{})
	d.bids.Scan(func(_ int64, lvl *PriceLevel) bool {
		if lvl.Tick < lo {
			return false
		}
		if lvl.Tick <= hi {
			ticks[lvl.Tick] = struct{}{}
		}
		return true
	})
	d.asks.Scan(func(_ int64, lvl *PriceLevel) bool {
		if lvl.Tick > hi {
			return false
		}
		if lvl.Tick >= lo {
			ticks[lvl.Tick] = struct{}{}
		}
		return true
	})

	cands := make([]auctionCandidate, 0, len(ticks))
	for t := range ticks {
		cands = append(cands, auctionCandidate{tick: t})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })

	for i := range cands {
		c := &cands[i]
		d.bids.Scan(func(_ int64, lvl *PriceLevel) bool {
			if lvl.Tick < c.tick {
				return false
			}
			c.bid += lvl.Depth()
			return true
		})
		d.asks.Scan(func(_ int64, lvl *PriceLevel) bool {
			if lvl.Tick > c.tick {
				return false
			}
			c.ask += lvl.Depth()
			return true
		})
		c.matched = min(c.bid, c.ask)
		c.unmatched = c.bid - c.ask
		if c.unmatched < 0 {
			c.unmatched = -c.unmatched
		}
	}

	best := selectAuction(cands)
	if best.matched == 0 {
		return 0, 0, ErrNoCross
	}
	return best.tick, best.matched, nil
}

func selectAuction(cands []auctionCandidate) auctionCandidate {
	var maxMatched int64
	for _, c := range cands {
		maxMatched = max(maxMatched, c.matched)
	}
	minUnmatched := InvalidMax
	for _, c := range cands {
		if c.matched == maxMatched {
			minUnmatched = min(minUnmatched, c.unmatched)
		}
	}
	tied := cands[:0:0]
	for _, c := range cands {
		if c.matched == maxMatched && c.unmatched == minUnmatched {
			tied = append(tied, c)
		}
	}

	switch k := len(tied); {
	case k == 1:
		return tied[0]
	case tied[k-1].bid > tied[k-1].ask:
		return tied[k-1]
	case tied[0].ask > tied[0].bid:
		return tied[0]
	default:
		return tied[(k-1)/2]
	}
}

// CallAuction uncrosses the book at the auction price by crossing two
// synthetic orders of the auction volume against both sides. Auction trades
// always consume real volume, so the live discipline is used in either mode.
// The two legs are paired back into one execution per buyer and seller, with
// the buyer reported as taker, and the volume is booked once.
func (d *MarketDepth) CallAuction() (AuctionResult, error) {
	tick, vol, err := d.Uncross()
	if err != nil {
		return AuctionResult{}, err
	}

	res := AuctionResult{Tick: tick, Vol: vol}
	var legs [2][]Execution
	for i, side := range []Side{Buy, Sell} {
		h := d.arena.Alloc(NewL3Order(LocalOrder, "", 0, side, tick, vol, d.Timestamp, Limit))
		filled, execs, err := d.matchOrder(h, 0, true, false)
		d.arena.Release(h)
		if err != nil {
			return res, err
		}
		legs[i] = execs
		if i == 0 {
			res.Filled = filled
		}
	}

	// legs[0] consumed the asks, legs[1] the bids.
	trades := pairLegs(tick, legs[1], legs[0])
	d.tape = append(d.tape, trades...)
	d.stats.AddFill(Buy, tick, res.Filled)
	d.stats.Trades += int64(len(trades))
	d.lastTick = tick
	d.lastShadowTick = tick
	return res, nil
}

// pairLegs matches the bid makers against the ask makers in queue order.
func pairLegs(tick int64, bids, asks []Execution) []Execution {
	var out []Execution
	var bq, aq int64
	for i, j := 0, 0; i < len(bids) && j < len(asks); {
		if bq == 0 {
			bq = bids[i].Qty
		}
		if aq == 0 {
			aq = asks[j].Qty
		}
		q := min(bq, aq)
		out = append(out, Execution{
			Tick:        tick,
			Qty:         q,
			TakerID:     bids[i].MakerID,
			TakerSource: bids[i].MakerSource,
			TakerSide:   Buy,
			MakerID:     asks[j].MakerID,
			MakerSource: asks[j].MakerSource,
		})
		if bq -= q; bq == 0 {
			i++
		}
		if aq -= q; aq == 0 {
			j++
		}
	}
	return out
}
