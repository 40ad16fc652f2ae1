package hook

import (
	"encoding/json"
	"io"

	"github.com/shopspring/decimal"

	"l3sim/domain/orderbook"
)

// RecorderLevels is the book depth a Recorder captures.
const RecorderLevels = 50

// Row is one order-book snapshot taken after an event.
type Row struct {
	Timestamp int64 `json:"timestamp"`
	Seq       int64 `json:"seq"`

	LastPrice   decimal.Decimal `json:"last_price"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	PrevClose   decimal.Decimal `json:"prev_close"`
	Turnover    decimal.Decimal `json:"turnover"`
	Volume      decimal.Decimal `json:"volume"`
	Trades      int64           `json:"trades"`
	AvgBidPrice decimal.Decimal `json:"avg_bid_price"`
	AvgAskPrice decimal.Decimal `json:"avg_ask_price"`

	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`

	// triggering message
	MsgOrderID int64           `json:"msg_order_id"`
	MsgSource  string          `json:"msg_source"`
	MsgSide    orderbook.Side  `json:"msg_side"`
	MsgType    string          `json:"msg_type"`
	MsgPrice   decimal.Decimal `json:"msg_price"`
	MsgQty     decimal.Decimal `json:"msg_qty"`
}

// Recorder keeps the latest snapshot of one instrument and, when NeedOutput
// is set, the whole time series.
type Recorder struct {
	NeedOutput bool

	last Row
	rows []Row
}

func NewRecorder(needOutput bool) *Recorder {
	return &Recorder{NeedOutput: needOutput}
}

func (r *Recorder) OnEvent(info StatisticsInfo, bids, asks []Level, order *orderbook.L3Order) bool {
	row := Row{
		Timestamp:   info.Timestamp,
		Seq:         info.Seq,
		LastPrice:   info.LastPrice,
		High:        info.High,
		Low:         info.Low,
		PrevClose:   info.PrevClose,
		Turnover:    info.Turnover(),
		Volume:      info.Volume(),
		Trades:      info.Trades,
		AvgBidPrice: info.AvgBidPrice(),
		AvgAskPrice: info.AvgAskPrice(),
		Bids:        append([]Level(nil), bids...),
		Asks:        append([]Level(nil), asks...),
	}
	if order != nil {
		row.MsgOrderID = order.ID
		row.MsgSource = order.Source.String()
		row.MsgSide = order.Side
		row.MsgType = order.Type.String()
		row.MsgPrice = decimal.NewFromInt(order.PriceTick).Mul(info.TickSize)
		row.MsgQty = decimal.NewFromInt(order.Vol).Mul(info.LotSize)
	}

	r.last = row
	if r.NeedOutput {
		r.rows = append(r.rows, row)
	}
	return true
}

func (r *Recorder) Last() Row {
	return r.last
}

func (r *Recorder) Rows() []Row {
	return r.rows
}

func (r *Recorder) Reset() {
	r.rows = nil
	r.last = Row{}
}

// Dump writes the recorded rows as JSON lines.
func (r *Recorder) Dump(w io.Writer) error {
	enc := json.NewEncoder(w)
	for i := range r.rows {
		if err := enc.Encode(&r.rows[i]); err != nil {
			return err
		}
	}
	return nil
}
