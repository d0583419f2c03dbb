package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ultramatch/src/engine"
)

// Wire format: every message is a fixed 24-byte header followed by an ASCII
// body. Header integers are little-endian on the wire; the original protocol
// assumed a homogeneous deployment and sent host order, which this
// implementation pins down to little-endian so mixed hosts interoperate.
//
// Request bodies are colon-delimited ASCII:
//
//	OrderSubmit  SYMBOL:BUY|SELL:QTY:PRICE:TYPE   (TYPE by name or 0-3 numeric)
//	OrderCancel  ORDER_ID:SYMBOL
//	OrderModify  ORDER_ID:SYMBOL:QTY:PRICE
//	Login        CLIENT_NAME
//
// Replies reuse the request's message type with an ACK:/REJECT: body;
// book and status replies carry JSON bodies since their payload is nested.

const (
	// HeaderSize is the fixed wire header length in bytes.
	HeaderSize = 24

	// MaxMessageSize bounds a full frame; bodies may be at most
	// MaxMessageSize - HeaderSize bytes.
	MaxMessageSize = 8192
)

type MessageType uint32

const (
	MsgOrderSubmit        MessageType = 1
	MsgOrderCancel        MessageType = 2
	MsgOrderModify        MessageType = 3
	MsgMarketData         MessageType = 4
	MsgOrderBookRequest   MessageType = 5
	MsgOrderStatusRequest MessageType = 6
	MsgHeartbeat          MessageType = 7
	MsgLogin              MessageType = 8
	MsgLogout             MessageType = 9
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are
	// presented to DecodeHeader.
	ErrShortHeader = errors.New("short message header")

	// ErrBodyTooLarge is returned when a header announces a body beyond
	// MaxMessageSize - HeaderSize.
	ErrBodyTooLarge = errors.New("message body too large")

	// ErrBadMessage is returned when a body does not parse.
	ErrBadMessage = errors.New("malformed message body")

	// ErrUnknownSymbol is returned for book requests naming a symbol with
	// no active book.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Header is the decoded form of the 24-byte wire header.
type Header struct {
	Type      MessageType
	Length    uint32 // body length in bytes
	Sequence  uint64 // client-assigned, monotonically increasing
	Timestamp uint64 // sender clock, nanoseconds since epoch
}

// EncodeHeader writes h into buf, which must hold HeaderSize bytes.
func EncodeHeader(h Header, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[4:8], h.Length)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], h.Timestamp)
}

// DecodeHeader parses the first HeaderSize bytes of buf and validates the
// announced body length.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Type:      MessageType(binary.LittleEndian.Uint32(buf[0:4])),
		Length:    binary.LittleEndian.Uint32(buf[4:8]),
		Sequence:  binary.LittleEndian.Uint64(buf[8:16]),
		Timestamp: binary.LittleEndian.Uint64(buf[16:24]),
	}
	if h.Length > MaxMessageSize-HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.Length)
	}
	return h, nil
}

// EncodeMessage frames a body into a single write-ready buffer.
func EncodeMessage(msgType MessageType, sequence, timestamp uint64, body []byte) ([]byte, error) {
	if len(body) > MaxMessageSize-HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	frame := make([]byte, HeaderSize+len(body))
	EncodeHeader(Header{
		Type:      msgType,
		Length:    uint32(len(body)),
		Sequence:  sequence,
		Timestamp: timestamp,
	}, frame)
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// SubmitRequest is a parsed OrderSubmit body.
type SubmitRequest struct {
	Symbol   string
	Side     engine.OrderSide
	Quantity uint64
	Price    float64
	Type     engine.OrderType
}

// ParseSubmit parses SYMBOL:BUY|SELL:QTY:PRICE:TYPE.
func ParseSubmit(body string) (SubmitRequest, error) {
	tokens := strings.Split(body, ":")
	if len(tokens) < 5 {
		return SubmitRequest{}, fmt.Errorf("%w: submit wants 5 fields, got %d", ErrBadMessage, len(tokens))
	}

	var req SubmitRequest
	req.Symbol = tokens[0]
	if req.Symbol == "" {
		return SubmitRequest{}, fmt.Errorf("%w: empty symbol", ErrBadMessage)
	}

	switch tokens[1] {
	case "BUY":
		req.Side = engine.SideBuy
	case "SELL":
		req.Side = engine.SideSell
	default:
		return SubmitRequest{}, fmt.Errorf("%w: side %q", ErrBadMessage, tokens[1])
	}

	quantity, err := strconv.ParseUint(tokens[2], 10, 64)
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("%w: quantity %q", ErrBadMessage, tokens[2])
	}
	req.Quantity = quantity

	price, err := strconv.ParseFloat(tokens[3], 64)
	if err != nil {
		return SubmitRequest{}, fmt.Errorf("%w: price %q", ErrBadMessage, tokens[3])
	}
	req.Price = price

	orderType, err := parseOrderType(tokens[4])
	if err != nil {
		return SubmitRequest{}, err
	}
	req.Type = orderType

	return req, nil
}

// parseOrderType accepts the type by name or by the legacy numeric code
// (0=MARKET 1=LIMIT 2=STOP 3=STOP_LIMIT).
func parseOrderType(token string) (engine.OrderType, error) {
	switch token {
	case "MARKET", "0":
		return engine.TypeMarket, nil
	case "LIMIT", "1":
		return engine.TypeLimit, nil
	case "STOP", "2":
		return engine.TypeStop, nil
	case "STOP_LIMIT", "3":
		return engine.TypeStopLimit, nil
	}
	return "", fmt.Errorf("%w: order type %q", ErrBadMessage, token)
}

// CancelRequest is a parsed OrderCancel body.
type CancelRequest struct {
	OrderID uint64
	Symbol  string
}

// ParseCancel parses ORDER_ID:SYMBOL.
func ParseCancel(body string) (CancelRequest, error) {
	tokens := strings.Split(body, ":")
	if len(tokens) < 2 {
		return CancelRequest{}, fmt.Errorf("%w: cancel wants 2 fields, got %d", ErrBadMessage, len(tokens))
	}
	orderID, err := strconv.ParseUint(tokens[0], 10, 64)
	if err != nil {
		return CancelRequest{}, fmt.Errorf("%w: order id %q", ErrBadMessage, tokens[0])
	}
	if tokens[1] == "" {
		return CancelRequest{}, fmt.Errorf("%w: empty symbol", ErrBadMessage)
	}
	return CancelRequest{OrderID: orderID, Symbol: tokens[1]}, nil
}

// ModifyRequest is a parsed OrderModify body.
type ModifyRequest struct {
	OrderID  uint64
	Symbol   string
	Quantity uint64
	Price    float64
}

// ParseModify parses ORDER_ID:SYMBOL:QTY:PRICE.
func ParseModify(body string) (ModifyRequest, error) {
	tokens := strings.Split(body, ":")
	if len(tokens) < 4 {
		return ModifyRequest{}, fmt.Errorf("%w: modify wants 4 fields, got %d", ErrBadMessage, len(tokens))
	}
	orderID, err := strconv.ParseUint(tokens[0], 10, 64)
	if err != nil {
		return ModifyRequest{}, fmt.Errorf("%w: order id %q", ErrBadMessage, tokens[0])
	}
	if tokens[1] == "" {
		return ModifyRequest{}, fmt.Errorf("%w: empty symbol", ErrBadMessage)
	}
	quantity, err := strconv.ParseUint(tokens[2], 10, 64)
	if err != nil {
		return ModifyRequest{}, fmt.Errorf("%w: quantity %q", ErrBadMessage, tokens[2])
	}
	price, err := strconv.ParseFloat(tokens[3], 64)
	if err != nil {
		return ModifyRequest{}, fmt.Errorf("%w: price %q", ErrBadMessage, tokens[3])
	}
	return ModifyRequest{OrderID: orderID, Symbol: tokens[1], Quantity: quantity, Price: price}, nil
}

// ParseLogin parses CLIENT_NAME, tolerating trailing fields.
func ParseLogin(body string) (string, error) {
	tokens := strings.Split(body, ":")
	if len(tokens) == 0 || tokens[0] == "" {
		return "", fmt.Errorf("%w: empty client name", ErrBadMessage)
	}
	return tokens[0], nil
}

// ackBody builds an ACK:<order_id> reply body.
func ackBody(orderID uint64) []byte {
	return []byte("ACK:" + strconv.FormatUint(orderID, 10))
}

// rejectBody builds a REJECT:<reason> reply body.
func rejectBody(err error) []byte {
	return []byte("REJECT:" + err.Error())
}
