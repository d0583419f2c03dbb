package marketdata

// RecordType classifies a market data record.
type RecordType string

const (
	RecordTrade      RecordType = "TRADE"
	RecordQuote      RecordType = "QUOTE"
	RecordBookUpdate RecordType = "BOOK_UPDATE"
	RecordTick       RecordType = "TICK"
)

// MaxSymbolLength is the longest symbol accepted anywhere in the pipeline.
const MaxSymbolLength = 16

// Record is a single market data event. It is a plain value: producers fill
// one in, consumers copy it out of the queue, and only the fields implied by
// Type are meaningful. Keeping it a value type means queue slots are reused
// in place and the hot path never allocates per record.
type Record struct {
	SequenceNumber uint64     `json:"sequence_number"`
	Symbol         string     `json:"symbol"`
	Type           RecordType `json:"type"`
	Timestamp      int64      `json:"timestamp"` // nanoseconds since epoch

	// Trade fields.
	TradeID       uint64  `json:"trade_id,omitempty"`
	TradePrice    float64 `json:"trade_price,omitempty"`
	TradeQuantity uint64  `json:"trade_quantity,omitempty"`

	// Quote fields.
	BidPrice    float64 `json:"bid_price,omitempty"`
	BidQuantity uint64  `json:"bid_quantity,omitempty"`
	AskPrice    float64 `json:"ask_price,omitempty"`
	AskQuantity uint64  `json:"ask_quantity,omitempty"`

	// Book update fields.
	Price    float64 `json:"price,omitempty"`
	Quantity uint64  `json:"quantity,omitempty"`
	IsBid    bool    `json:"is_bid,omitempty"`
}

// Valid reports whether the record is well formed enough to enter the
// processing pipeline. Malformed records are counted and dropped by the
// producer rather than poisoning downstream consumers.
func (r *Record) Valid() bool {
	if r.Symbol == "" || len(r.Symbol) > MaxSymbolLength {
		return false
	}
	switch r.Type {
	case RecordTrade:
		return r.TradePrice > 0 && r.TradeQuantity > 0
	case RecordQuote:
		return r.BidPrice >= 0 && r.AskPrice >= 0
	case RecordBookUpdate:
		return r.Price > 0
	case RecordTick:
		return true
	}
	return false
}
