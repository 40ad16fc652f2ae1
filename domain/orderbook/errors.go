package orderbook

import "errors"

var (
	ErrStockTypeUnSupported    = errors.New("stock type unsupported")
	ErrHistoryIsNone           = errors.New("history is none")
	ErrMarketSide              = errors.New("invalid market side")
	ErrStockBrokerIdExist      = errors.New("stock broker already exists")
	ErrStockBrokerNotExist     = errors.New("stock broker does not exist")
	ErrStockDataExist          = errors.New("stock data already attached")
	ErrOrderIdExist            = errors.New("order id already exists")
	ErrOrderTypeUnsupported    = errors.New("order type unsupported")
	ErrOrderRequestInProcess   = errors.New("order request in process")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidOrderRequest     = errors.New("invalid order request")
	ErrInvalidOrderStatus      = errors.New("invalid order status")
	ErrEndOfData               = errors.New("end of data")
	ErrExchangeModeUnsupported = errors.New("exchange mode unsupported")
	ErrParse                   = errors.New("parse error")
	ErrInvalidTimestamp        = errors.New("invalid timestamp")
	ErrMarketTypeUnknown       = errors.New("market type unknown")
	ErrNoCross                 = errors.New("book is not crossed")
)

// invariant panics on a broken engine invariant. These are bugs, not caller errors.
func invariant(msg string) {
	panic("invariant: " + msg)
}
