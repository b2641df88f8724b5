package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Market data records
// ————————————————————————————————————————————————————————————————————————

// Quote is a point-in-time snapshot for one symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	PrevClose float64   `json:"prev_close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangePct is the percent move from the previous close.
func (q Quote) ChangePct() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Last - q.PrevClose) / q.PrevClose * 100
}

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price  float64 `json:"price"`
	Qty    int64   `json:"qty"`
	Orders int     `json:"orders"`
}

// Depth is a five-level book snapshot for one symbol.
type Depth struct {
	Symbol    string       `json:"symbol"`
	Bids      []DepthLevel `json:"bids"` // descending by price
	Asks      []DepthLevel `json:"asks"` // ascending by price
	Timestamp time.Time    `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Interval enumerates the candle resolutions the broker serves.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1d  Interval = "1d"
)

// OptionQuote is one strike row of an option chain.
type OptionQuote struct {
	Strike       float64 `json:"strike"`
	Type         string  `json:"type"` // CE or PE
	LastPrice    float64 `json:"last_price"`
	OpenInterest int64   `json:"open_interest"`
	Volume       int64   `json:"volume"`
	IV           float64 `json:"iv"`
}

// OptionChain is the chain snapshot for one underlying and expiry.
type OptionChain struct {
	Underlying string        `json:"underlying"`
	Expiry     string        `json:"expiry"`
	Spot       float64       `json:"spot"`
	Strikes    []OptionQuote `json:"strikes"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Instrument is one universe member with its static attributes.
type Instrument struct {
	Symbol  string `json:"symbol" mapstructure:"symbol"`
	Sector  string `json:"sector" mapstructure:"sector"`
	LotSize int    `json:"lot_size" mapstructure:"lot_size"`
}

// Tick is one streamed price update.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Broker order records
// ————————————————————————————————————————————————————————————————————————

// OrderKind selects the broker-side order mechanics.
type OrderKind string

const (
	OrderMarket    OrderKind = "MARKET"
	OrderLimit     OrderKind = "LIMIT"
	OrderStop      OrderKind = "STOP" // stop-loss trigger order
	OrderStopLimit OrderKind = "STOP_LIMIT"
)

// OrderIntent is the broker-facing request to place one order. ClientTag is
// the idempotency key: the port drops an intent whose tag matches one already
// accepted within the idempotency window.
type OrderIntent struct {
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	Quantity     int       `json:"quantity"`
	Kind         OrderKind `json:"kind"`
	LimitPrice   float64   `json:"limit_price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	ProductType  string    `json:"product_type"`
	ClientTag    string    `json:"client_tag"`
}

// OrderState is the broker-side lifecycle of one order.
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateOpen      OrderState = "OPEN"
	OrderStateFilled    OrderState = "FILLED"
	OrderStatePartial   OrderState = "PARTIALLY_FILLED"
	OrderStateCancelled OrderState = "CANCELLED"
	OrderStateRejected  OrderState = "REJECTED"
)

// OrderUpdate is a broker order event, delivered over the update stream and
// returned by order queries.
type OrderUpdate struct {
	OrderID   string     `json:"order_id"`
	ClientTag string     `json:"client_tag"`
	Symbol    string     `json:"symbol"`
	State     OrderState `json:"state"`
	FilledQty int        `json:"filled_qty"`
	AvgPrice  float64    `json:"avg_price"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// BrokerPosition is the broker's own view of a net position, used for
// reconciliation. Broker truth wins over local records.
type BrokerPosition struct {
	Symbol   string  `json:"symbol"`
	NetQty   int     `json:"net_qty"` // signed: positive long, negative short
	AvgPrice float64 `json:"avg_price"`
	PnL      float64 `json:"pnl"`
}

// Holding is one delivery position sitting in the demat account.
type Holding struct {
	Symbol    string  `json:"symbol"`
	Quantity  int     `json:"quantity"`
	AvgPrice  float64 `json:"avg_price"`
	LastPrice float64 `json:"last_price"`
	PnL       float64 `json:"pnl"`
}

// Execution is one fill from the venue's tradebook.
type Execution struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	At        time.Time `json:"at"`
}

// Funds is the account's money picture.
type Funds struct {
	Available float64 `json:"available"`
	Utilized  float64 `json:"utilized"`
	Total     float64 `json:"total"`
}

// MarginResult answers a pre-trade margin query.
type MarginResult struct {
	Required  float64 `json:"required"`
	Available float64 `json:"available"`
	Shortfall float64 `json:"shortfall"`
}

// Sufficient reports whether available margin covers the requirement.
func (m MarginResult) Sufficient() bool { return m.Shortfall <= 0 }
