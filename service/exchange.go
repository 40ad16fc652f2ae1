package service

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/domain/orderbook"
	"l3sim/domain/session"
	"l3sim/hook"
	"l3sim/infra/sequence"
	"l3sim/replay"
	"l3sim/snapshot"
)

/*
Exchange is the ONLY entry point into the simulator.

It owns one Broker per instrument and serialises every call behind a
single mutex. Elapse fans out across brokers because brokers share no
state.
*/

var tickSizes = map[string]decimal.Decimal{
	"stock": decimal.RequireFromString("0.01"),
	"fund":  decimal.RequireFromString("0.001"),
}

type Exchange struct {
	mu sync.Mutex

	mode    orderbook.Mode
	date    string
	start   int64
	brokers map[string]*Broker
	ids     *sequence.Sequencer

	log *zap.Logger
}

type Option func(*Exchange)

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) {
		if l != nil {
			e.log = l
		}
	}
}

// WithIDStart makes the first generated order id start+1.
func WithIDStart(start int64) Option {
	return func(e *Exchange) {
		e.ids.Reset(start)
	}
}

// NewExchange wires an empty exchange for one trading date (YYYYMMDD).
// No globals. No magic.
func NewExchange(mode, date string, opts ...Option) (*Exchange, error) {
	m, err := orderbook.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	start, err := session.Start(date)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		mode:    m,
		date:    date,
		start:   start,
		brokers: make(map[string]*Broker),
		ids:     sequence.New(0),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exchange) Mode() orderbook.Mode { return e.mode }

// Brokers lists the instrument codes, sorted.
func (e *Exchange) Brokers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.brokers))
}

func (e *Exchange) broker(code string) (*Broker, error) {
	b, ok := e.brokers[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", code, orderbook.ErrStockBrokerNotExist)
	}
	return b, nil
}

//
// ──────────────────────────────────────────────────────────
// Setup
// ──────────────────────────────────────────────────────────
//

// AddBroker registers an instrument. An empty mode inherits the exchange mode.
func (e *Exchange) AddBroker(mode, stockType, code string, lot int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.mode
	if mode != "" {
		var err error
		if m, err = orderbook.ParseMode(mode); err != nil {
			return err
		}
	}
	tick, ok := tickSizes[strings.ToLower(stockType)]
	if !ok {
		return fmt.Errorf("%s %q: %w", code, stockType, orderbook.ErrStockTypeUnSupported)
	}
	if _, err := session.ParseMarket(code); err != nil {
		return err
	}
	if _, dup := e.brokers[code]; dup {
		return fmt.Errorf("%s: %w", code, orderbook.ErrStockBrokerIdExist)
	}
	if lot <= 0 {
		return fmt.Errorf("%s lot %d: %w", code, lot, orderbook.ErrInvalidOrderRequest)
	}

	b, err := NewBroker(BrokerConfig{
		Code:      code,
		StockType: strings.ToLower(stockType),
		Mode:      m,
		TickSize:  tick,
		LotSize:   decimal.NewFromInt(lot),
		Start:     e.start,
	}, WithBrokerLogger(e.log))
	if err != nil {
		return err
	}
	e.brokers[code] = b
	e.log.Info("broker added",
		zap.String("code", code),
		zap.String("mode", m.String()),
		zap.String("tick", tick.String()),
		zap.Int64("lot", lot),
	)
	return nil
}

// AddData attaches the historical event stream of code.
func (e *Exchange) AddData(code string, c replay.Cursor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return err
	}
	return b.AttachCursor(c)
}

func (e *Exchange) SetPrevClose(code string, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return err
	}
	b.SetPrevClose(price)
	return nil
}

func (e *Exchange) RegisterHook(code, name string, h hook.Hook, maxLevel int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return err
	}
	return b.RegisterHook(name, h, maxLevel)
}

func (e *Exchange) RemoveHook(code, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return false, err
	}
	return b.RemoveHook(name), nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// OrderRequest is the general order form. TargetID is only read for Cancel.
type OrderRequest struct {
	Account  string
	Code     string
	Time     int64
	Price    decimal.Decimal
	Qty      int64
	Side     string
	Type     orderbook.OrderType
	TargetID int64
}

// SendOrder submits a limit order and returns its id.
func (e *Exchange) SendOrder(account, code string, orderTime int64, price decimal.Decimal, qty int64, bs string) (int64, error) {
	return e.Submit(OrderRequest{
		Account: account,
		Code:    code,
		Time:    orderTime,
		Price:   price,
		Qty:     qty,
		Side:    bs,
		Type:    orderbook.Limit,
	})
}

// Submit validates req, assigns an id and queues the order on its broker.
func (e *Exchange) Submit(req OrderRequest) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(req.Code)
	if err != nil {
		return 0, err
	}
	if !session.Valid(req.Time) {
		return 0, fmt.Errorf("order time %d: %w", req.Time, orderbook.ErrInvalidOrderRequest)
	}

	account := req.Account
	if strings.EqualFold(account, "none") {
		account = ""
	}

	side := orderbook.None
	switch req.Type {
	case orderbook.Cancel:
		if req.TargetID <= 0 {
			return 0, fmt.Errorf("cancel without target: %w", orderbook.ErrInvalidOrderRequest)
		}
	case orderbook.TypeNone:
		return 0, fmt.Errorf("order type %d: %w", req.Type, orderbook.ErrOrderTypeUnsupported)
	default:
		if side, err = orderbook.ParseSide(req.Side); err != nil {
			return 0, err
		}
		if req.Qty <= 0 {
			return 0, fmt.Errorf("qty %d: %w", req.Qty, orderbook.ErrInvalidOrderRequest)
		}
		if req.Type == orderbook.Limit && !req.Price.IsPositive() {
			return 0, fmt.Errorf("price %s: %w", req.Price, orderbook.ErrInvalidOrderRequest)
		}
	}

	id := e.ids.Next()
	o := orderbook.NewOrder(id, req.Code, account, side, req.Type, req.Time, req.Price, req.Qty)
	o.TargetID = req.TargetID
	if err := b.SubmitOrder(o); err != nil {
		return 0, err
	}
	e.log.Debug("order submitted",
		zap.String("code", req.Code),
		zap.Int64("order", id),
		zap.String("type", o.TypeCode),
		zap.String("side", side.String()),
		zap.Int64("time", req.Time),
	)
	return id, nil
}

func (e *Exchange) CancelOrder(code string, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return err
	}
	return b.CancelOrder(id)
}

// Elapse advances every broker by durationMs and returns the shares each one
// filled.
func (e *Exchange) Elapse(durationMs int64) (map[string]int64, error) {
	return e.each(func(b *Broker) (int64, error) { return b.Elapse(durationMs) })
}

// ElapseTo advances every broker to mark.
func (e *Exchange) ElapseTo(mark int64) (map[string]int64, error) {
	return e.each(func(b *Broker) (int64, error) { return b.ElapseTo(mark) })
}

func (e *Exchange) each(fn func(*Broker) (int64, error)) (map[string]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	codes := slices.Sorted(maps.Keys(e.brokers))
	filled := make([]int64, len(codes))

	var g errgroup.Group
	for i, code := range codes {
		b := e.brokers[code]
		g.Go(func() error {
			n, err := fn(b)
			filled[i] = n
			if err != nil {
				return fmt.Errorf("%s: %w", code, err)
			}
			return nil
		})
	}
	err := g.Wait()

	out := make(map[string]int64, len(codes))
	for i, code := range codes {
		out[code] = filled[i]
	}
	return out, err
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (e *Exchange) GetOrders(code string, statuses ...orderbook.Status) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return nil, err
	}
	return b.GetOrders(statuses...), nil
}

// GetLatestOrders drains the orders of code that changed since the last call.
func (e *Exchange) GetLatestOrders(code string) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return nil, err
	}
	return b.GetLatestOrders(), nil
}

func (e *Exchange) CurrentTime(code string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return 0, err
	}
	return b.CurrentTime(), nil
}

func (e *Exchange) DrainExecutions(code string) ([]orderbook.Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return nil, err
	}
	return b.DrainExecutions(), nil
}

//
// ──────────────────────────────────────────────────────────
// Snapshots
// ──────────────────────────────────────────────────────────
//

// SnapshotDoc returns the structured document of code and its timestamp.
func (e *Exchange) SnapshotDoc(code string) (int64, *structpb.Struct, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return 0, nil, err
	}
	st := b.State()
	doc, err := snapshot.Encode(st)
	return st.Timestamp, doc, err
}

// Snapshot renders the document of code as JSON.
func (e *Exchange) Snapshot(code string) ([]byte, error) {
	_, doc, err := e.SnapshotDoc(code)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(doc)
}

// Restore rebuilds code from a JSON document produced by Snapshot.
func (e *Exchange) Restore(code string, doc []byte) error {
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(doc, s); err != nil {
		return fmt.Errorf("%s snapshot: %w: %v", code, orderbook.ErrParse, err)
	}
	return e.RestoreDoc(code, s)
}

func (e *Exchange) RestoreDoc(code string, doc *structpb.Struct) error {
	st, err := snapshot.Decode(doc)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.broker(code)
	if err != nil {
		return err
	}
	if err := b.Restore(st); err != nil {
		return err
	}
	for _, o := range st.Orders {
		e.ids.AtLeast(o.ID)
	}
	return nil
}
