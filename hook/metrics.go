package hook

import (
	"github.com/prometheus/client_golang/prometheus"

	"l3sim/domain/orderbook"
)

// Metrics exports per-instrument book gauges. Safe for concurrent use, so one
// instance can observe every broker.
type Metrics struct {
	BestBid   *prometheus.GaugeVec
	BestAsk   *prometheus.GaugeVec
	LastPrice *prometheus.GaugeVec
	Volume    *prometheus.GaugeVec
	Events    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BestBid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "l3sim_best_bid",
			Help: "Best bid price",
		}, []string{"code"}),
		BestAsk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "l3sim_best_ask",
			Help: "Best ask price",
		}, []string{"code"}),
		LastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "l3sim_last_price",
			Help: "Last traded price",
		}, []string{"code"}),
		Volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "l3sim_traded_volume",
			Help: "Cumulative traded quantity",
		}, []string{"code"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "l3sim_events_total",
			Help: "Processed events by source",
		}, []string{"code", "source"}),
	}
	if reg != nil {
		reg.MustRegister(m.BestBid, m.BestAsk, m.LastPrice, m.Volume, m.Events)
	}
	return m
}

func (m *Metrics) OnEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool {
	code := info.Code
	// an empty side drops its series rather than keep a stale price
	if len(bids) > 0 {
		m.BestBid.WithLabelValues(code).Set(bids[0].Price.InexactFloat64())
	} else {
		m.BestBid.DeleteLabelValues(code)
	}
	if len(asks) > 0 {
		m.BestAsk.WithLabelValues(code).Set(asks[0].Price.InexactFloat64())
	} else {
		m.BestAsk.DeleteLabelValues(code)
	}
	m.LastPrice.WithLabelValues(code).Set(info.LastPrice.InexactFloat64())
	m.Volume.WithLabelValues(code).Set(info.Volume().InexactFloat64())

	src := "none"
	if order != nil {
		src = order.Source.String()
	}
	m.Events.WithLabelValues(code, src).Inc()
	return true
}
