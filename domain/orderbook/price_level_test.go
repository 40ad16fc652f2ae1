package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newLevel(mode Mode) (*PriceLevel, *Arena) {
	a := NewArena(nil)
	return newPriceLevel(100, mode, a), a
}

func rest(p *PriceLevel, a *Arena, src SourceType, acct string, id, vol int64) Handle {
	h := a.Alloc(NewL3Order(src, acct, id, Buy, p.Tick, vol, 0, Limit))
	p.AddOrder(h)
	return h
}

func incoming(a *Arena, src SourceType, acct string, id, vol int64) *L3Order {
	return a.Get(a.Alloc(NewL3Order(src, acct, id, Sell, 100, vol, 0, Limit)))
}

// checkAggregates asserts the level totals equal the sums over live slots.
func checkAggregates(t require.TestingT, p *PriceLevel) {
	var vol, shadow int64
	count := 0
	p.Walk(func(o *L3Order) bool {
		if p.counted(o) {
			vol += o.Vol
		}
		shadow += o.VolShadow
		count++
		require.GreaterOrEqual(t, o.Vol, int64(0))
		if o.Source == LocalOrder {
			require.LessOrEqual(t, o.VolShadow, o.Vol)
		} else {
			require.Equal(t, o.Vol, o.VolShadow)
		}
		return true
	})
	require.Equal(t, vol, p.Vol, "vol")
	require.Equal(t, shadow, p.VolShadow, "vol_shadow")
	require.Equal(t, count, p.Count, "count")
	require.GreaterOrEqual(t, p.Vol, int64(0))
	require.GreaterOrEqual(t, p.VolShadow, int64(0))
}

func TestPriceLevel_AddAndDelete(t *testing.T) {
	p, a := newLevel(Backtest)

	h1 := rest(p, a, LocalOrder, "", 1, 50)
	h2 := rest(p, a, UserOrder, "u1", 2, 10)
	h3 := rest(p, a, LocalOrder, "", 3, 30)

	assert.Equal(t, int64(80), p.Vol)
	assert.Equal(t, int64(90), p.VolShadow)
	assert.Equal(t, 1, a.Get(h1).Idx)
	assert.Equal(t, 3, a.Get(h3).Idx)
	assert.Equal(t, int64(50), a.Get(h2).Position)

	require.NoError(t, p.DeleteOrder(h2))
	assert.Equal(t, None, a.Get(h2).Side)
	assert.Equal(t, int64(80), p.VolShadow)
	assert.Equal(t, 3, a.Get(h3).Idx, "slots are not compacted")
	assert.Equal(t, int64(50), a.Get(h3).Position)

	assert.ErrorIs(t, p.DeleteOrder(h2), ErrOrderNotFound)
	checkAggregates(t, p)
}

func TestPriceLevel_DeleteRejectsStaleIndex(t *testing.T) {
	p, a := newLevel(Live)
	rest(p, a, UserOrder, "", 1, 10)
	h := a.Alloc(NewL3Order(UserOrder, "", 9, Buy, 100, 5, 0, Limit))
	a.Get(h).Idx = 1

	assert.ErrorIs(t, p.DeleteOrder(h), ErrOrderNotFound)
	assert.Equal(t, int64(10), p.Vol)
}

func TestPriceLevel_LiveMatch(t *testing.T) {
	p, a := newLevel(Live)
	h1 := rest(p, a, UserOrder, "a", 1, 10)
	h2 := rest(p, a, UserOrder, "b", 2, 10)

	in := incoming(a, UserOrder, "c", 3, 15)
	f := p.Match(in)

	assert.Equal(t, int64(15), f.Qty)
	assert.Equal(t, int64(15), f.Shadow)
	assert.Equal(t, int64(0), in.Vol)
	assert.Equal(t, None, a.Get(h1).Side)
	assert.Equal(t, int64(5), a.Get(h2).Vol)
	assert.Equal(t, int64(0), a.Get(h2).Position)
	assert.Equal(t, int64(5), p.Vol)
	assert.Equal(t, []int64{1}, f.Consumed)
	require.Len(t, f.Executions, 2)
	assert.Equal(t, int64(10), f.Executions[0].Qty)
	checkAggregates(t, p)
}

func TestPriceLevel_NoSelfMatch(t *testing.T) {
	for _, mode := range []Mode{Live, Backtest} {
		t.Run(mode.String(), func(t *testing.T) {
			p, a := newLevel(mode)
			mine := rest(p, a, UserOrder, "acct", 1, 10)
			other := rest(p, a, UserOrder, "x", 2, 4)

			in := incoming(a, UserOrder, "acct", 3, 10)
			f := p.Match(in)

			assert.Equal(t, int64(10), a.Get(mine).Vol)
			assert.Equal(t, int64(4), f.Qty)
			assert.Equal(t, None, a.Get(other).Side)
			assert.Equal(t, int64(6), in.Vol)
			checkAggregates(t, p)
		})
	}
}

func TestPriceLevel_ShadowLocalVsLocal(t *testing.T) {
	p, a := newLevel(Backtest)
	h1 := rest(p, a, LocalOrder, "", 1, 50)
	h2 := rest(p, a, LocalOrder, "", 2, 30)
	shadowBefore := p.VolShadow

	// historical trade consumes 20 of the first order
	in := incoming(a, LocalOrder, "", 3, 20)
	f := p.Match(in)

	assert.Equal(t, int64(20), f.Qty)
	assert.Equal(t, shadowBefore-20, p.VolShadow)
	assert.Equal(t, int64(60), p.Vol)
	assert.Equal(t, int64(30), a.Get(h1).Vol)
	assert.Equal(t, int64(30), a.Get(h1).VolShadow)
	assert.Equal(t, int64(30), a.Get(h2).Vol)

	// a user order is bounded by the remaining shadow volume
	user := incoming(a, UserOrder, "u", 4, 100)
	f = p.Match(user)
	assert.Equal(t, int64(60), f.Qty)
	assert.Equal(t, int64(40), user.Vol)
	assert.Equal(t, int64(0), p.VolShadow)
	assert.Equal(t, int64(60), p.Vol, "history keeps its real volume")
	assert.Equal(t, 2, p.Count)
	checkAggregates(t, p)
}

func TestPriceLevel_ShadowLocalVsUser(t *testing.T) {
	p, a := newLevel(Backtest)
	u := rest(p, a, UserOrder, "u", 1, 10)
	l := rest(p, a, LocalOrder, "", 2, 10)

	in := incoming(a, LocalOrder, "", 3, 15)
	f := p.Match(in)

	// the user order spends local shadow only, history still trades 10 with the local order
	assert.Equal(t, None, a.Get(u).Side)
	assert.Equal(t, int64(5), in.Vol)
	assert.Equal(t, int64(5), in.VolShadow)
	assert.Equal(t, int64(0), a.Get(l).Vol)
	assert.Equal(t, int64(20), f.Qty)
	assert.Equal(t, 0, p.Count)
	checkAggregates(t, p)
}

func TestPriceLevel_ShadowUserVsLocal(t *testing.T) {
	p, a := newLevel(Backtest)
	l := rest(p, a, LocalOrder, "", 1, 10)

	in := incoming(a, UserOrder, "u", 2, 4)
	f := p.Match(in)

	assert.Equal(t, int64(4), f.Qty)
	assert.Equal(t, int64(10), a.Get(l).Vol)
	assert.Equal(t, int64(6), a.Get(l).VolShadow)
	assert.Equal(t, int64(10), p.Vol)
	assert.Equal(t, int64(6), p.VolShadow)
	checkAggregates(t, p)
}

func TestPriceLevel_ShadowUserVsUser(t *testing.T) {
	p, a := newLevel(Backtest)
	r := rest(p, a, UserOrder, "a", 1, 10)

	in := incoming(a, UserOrder, "b", 2, 10)
	f := p.Match(in)

	assert.Equal(t, int64(10), f.Qty)
	assert.Equal(t, int64(0), in.Vol)
	assert.Equal(t, None, a.Get(r).Side)
	checkAggregates(t, p)
}

func TestPriceLevel_VolumeConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := Mode(rapid.IntRange(0, 1).Draw(t, "mode"))
		p, a := newLevel(mode)
		var resting []Handle
		id := int64(0)

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id++
			src := SourceType(rapid.IntRange(0, 1).Draw(t, "src"))
			acct := rapid.SampledFrom([]string{"", "a", "b"}).Draw(t, "acct")
			if src == LocalOrder {
				acct = ""
			}
			vol := rapid.Int64Range(1, 100).Draw(t, "vol")

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				resting = append(resting, rest(p, a, src, acct, id, vol))
			case 1:
				p.Match(incoming(a, src, acct, id, vol))
			case 2:
				if len(resting) == 0 {
					continue
				}
				h := resting[rapid.IntRange(0, len(resting)-1).Draw(t, "victim")]
				if a.Get(h).Resting() {
					require.NoError(t, p.DeleteOrder(h))
				} else {
					require.ErrorIs(t, p.DeleteOrder(h), ErrOrderNotFound)
				}
			}
			checkAggregates(t, p)
		}
	})
}
