package hook

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/domain/orderbook"
	"l3sim/infra/outbox"
)

// Sink accepts encoded book events. infra/kafka.Producer is one.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
}

// OutboxSink stores events in the outbox for the broadcaster to deliver.
type OutboxSink struct {
	Outbox *outbox.Outbox
}

func (s OutboxSink) Send(_ context.Context, _ []byte, value []byte) error {
	_, err := s.Outbox.Append(value)
	return err
}

// Publisher encodes a compact book event per processed order and hands it to a sink.
type Publisher struct {
	ctx    context.Context
	sink   Sink
	levels int
	log    *zap.Logger
}

func NewPublisher(ctx context.Context, sink Sink, levels int, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if levels <= 0 {
		levels = 5
	}
	return &Publisher{ctx: ctx, sink: sink, levels: levels, log: log}
}

func (p *Publisher) OnEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool {
	ev, err := EncodeEvent(info, bids[:min(p.levels, len(bids))], asks[:min(p.levels, len(asks))], order)
	if err != nil {
		p.log.Error("encode book event", zap.String("code", info.Code), zap.Error(err))
		return false
	}
	b, err := proto.Marshal(ev)
	if err != nil {
		p.log.Error("marshal book event", zap.String("code", info.Code), zap.Error(err))
		return false
	}
	if err := p.sink.Send(p.ctx, []byte(info.Code), b); err != nil {
		p.log.Warn("publish book event", zap.String("code", info.Code), zap.Int64("seq", info.Seq), zap.Error(err))
		return false
	}
	return true
}

// EncodeEvent builds the published document.
func EncodeEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) (*structpb.Struct, error) {
	m := map[string]any{
		"id":        uuid.NewString(),
		"code":      info.Code,
		"timestamp": float64(info.Timestamp),
		"seq":       float64(info.Seq),
		"last":      info.LastPrice.String(),
		"volume":    info.Volume().String(),
		"turnover":  info.Turnover().String(),
		"bids":      levelList(bids),
		"asks":      levelList(asks),
	}
	if order != nil {
		m["order"] = map[string]any{
			"id":     float64(order.ID),
			"source": order.Source.String(),
			"side":   order.Side.String(),
			"type":   order.Type.String(),
			"tick":   float64(order.PriceTick),
			"vol":    float64(order.Vol),
		}
	}
	return structpb.NewStruct(m)
}

// DecodeEvent parses a published event.
func DecodeEvent(b []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func levelList(levels []Level) []any {
	out := make([]any, len(levels))
	for i, l := range levels {
		out[i] = []any{l.Price.String(), l.Qty.String(), float64(l.Count)}
	}
	return out
}
