package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates feed envelopes.
type Kind string

const (
	KindNewOrder    Kind = "NEW_ORDER"
	KindUpdateOrder Kind = "UPDATE_ORDER"
	KindDeleteOrder Kind = "DELETE_ORDER"
	KindBatchOrders Kind = "BATCH_ORDERS"
)

// Known reports whether k is one of the four envelope kinds.
func (k Kind) Known() bool {
	switch k {
	case KindNewOrder, KindUpdateOrder, KindDeleteOrder, KindBatchOrders:
		return true
	}
	return false
}

// Envelope is a decoded feed message.
// Order is set for NEW/UPDATE/DELETE, Batch for BATCH_ORDERS. Both are empty
// when the payload was null or the kind is unknown.
type Envelope struct {
	Kind   Kind
	Order  *Order
	Batch  []Order
	SentAt time.Time
}

// FlexTime accepts ISO-8601 text or epoch milliseconds on decode and
// always encodes as RFC 3339 text.
type FlexTime struct {
	time.Time
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := parseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// WireHistoryEntry is the JSON shape of a history entry.
type WireHistoryEntry struct {
	Timestamp FlexTime         `json:"timestamp"`
	AskPrice  *decimal.Decimal `json:"askPrice,omitempty"`
	BidPrice  *decimal.Decimal `json:"bidPrice,omitempty"`
	Status    Status           `json:"status"`
}

// WireOrder is the JSON shape of an order as carried by the feed.
type WireOrder struct {
	ID                  string             `json:"id"`
	CreatedAt           FlexTime           `json:"createdAt"`
	Side                Side               `json:"side"`
	SequenceNumber      int                `json:"sequenceNumber"`
	CounterpartyAddress string             `json:"counterpartyAddress"`
	Size                decimal.Decimal    `json:"size"`
	AskPrice            decimal.Decimal    `json:"askPrice"`
	BidPrice            decimal.Decimal    `json:"bidPrice"`
	IsPartial           bool               `json:"isPartial"`
	Status              Status             `json:"status"`
	History             []WireHistoryEntry `json:"history"`
}

// DecodeOrder normalizes a wire order: timestamps coerced, quantities
// rounded, history defaulted to empty, IsPartial derived from status.
// Status and side are required.
func DecodeOrder(w WireOrder) (Order, error) {
	return decodeOrder(w, true)
}

// decodeOrder checks status and side only when present unless strict is
// set. DELETE payloads identify an order by id alone.
func decodeOrder(w WireOrder, strict bool) (Order, error) {
	if w.ID == "" {
		return Order{}, &DecodeError{Stage: "order", Err: fmt.Errorf("missing id")}
	}
	if (strict || w.Status != "") && !w.Status.Valid() {
		return Order{}, &DecodeError{Stage: "order", Err: fmt.Errorf("order %s: invalid status %q", w.ID, w.Status)}
	}
	if (strict || w.Side != "") && !w.Side.Valid() {
		return Order{}, &DecodeError{Stage: "order", Err: fmt.Errorf("order %s: invalid side %q", w.ID, w.Side)}
	}
	if w.Size.IsNegative() || w.AskPrice.IsNegative() || w.BidPrice.IsNegative() {
		return Order{}, &DecodeError{Stage: "order", Err: fmt.Errorf("order %s: %w", w.ID, ErrInvalidPrice)}
	}

	o := Order{
		ID:                  w.ID,
		CreatedAt:           w.CreatedAt.Time,
		Side:                w.Side,
		SequenceNumber:      w.SequenceNumber,
		CounterpartyAddress: w.CounterpartyAddress,
		Size:                w.Size,
		AskPrice:            w.AskPrice,
		BidPrice:            w.BidPrice,
		Status:              w.Status,
		History:             make([]HistoryEntry, 0, len(w.History)),
	}
	for _, h := range w.History {
		entry := HistoryEntry{Timestamp: h.Timestamp.Time, Status: h.Status}
		if h.AskPrice != nil {
			v := RoundQuantity(*h.AskPrice)
			entry.AskPrice = &v
		}
		if h.BidPrice != nil {
			v := RoundQuantity(*h.BidPrice)
			entry.BidPrice = &v
		}
		o.History = append(o.History, entry)
	}
	return o.Normalized(), nil
}

// ToWire converts an order to its JSON shape.
func (o Order) ToWire() WireOrder {
	w := WireOrder{
		ID:                  o.ID,
		CreatedAt:           FlexTime{o.CreatedAt},
		Side:                o.Side,
		SequenceNumber:      o.SequenceNumber,
		CounterpartyAddress: o.CounterpartyAddress,
		Size:                o.Size,
		AskPrice:            o.AskPrice,
		BidPrice:            o.BidPrice,
		IsPartial:           o.IsPartial,
		Status:              o.Status,
		History:             make([]WireHistoryEntry, len(o.History)),
	}
	for i, h := range o.History {
		w.History[i] = WireHistoryEntry{
			Timestamp: FlexTime{h.Timestamp},
			AskPrice:  h.AskPrice,
			BidPrice:  h.BidPrice,
			Status:    h.Status,
		}
	}
	return w
}

type wireEnvelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	SentAt  FlexTime        `json:"sentAt,omitempty"`
}

// DecodeEnvelope parses a serialized feed envelope and resolves the payload
// shape once, here. Unknown kinds decode without error and an empty payload
// so the consumer can log and ignore them.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var raw wireEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, &DecodeError{Stage: "envelope", Err: err}
	}

	env := Envelope{Kind: raw.Kind, SentAt: raw.SentAt.Time}
	payload := bytes.TrimSpace(raw.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) || !raw.Kind.Known() {
		return env, nil
	}

	if raw.Kind == KindBatchOrders {
		var wires []WireOrder
		if err := json.Unmarshal(payload, &wires); err != nil {
			return Envelope{}, &DecodeError{Stage: "payload", Err: err}
		}
		env.Batch = make([]Order, 0, len(wires))
		for _, w := range wires {
			o, err := DecodeOrder(w)
			if err != nil {
				return Envelope{}, err
			}
			env.Batch = append(env.Batch, o)
		}
		return env, nil
	}

	var w WireOrder
	if err := json.Unmarshal(payload, &w); err != nil {
		return Envelope{}, &DecodeError{Stage: "payload", Err: err}
	}
	o, err := decodeOrder(w, raw.Kind != KindDeleteOrder)
	if err != nil {
		return Envelope{}, err
	}
	env.Order = &o
	return env, nil
}

// EncodeEnvelope serializes env in the feed wire format.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var payload any
	switch {
	case env.Kind == KindBatchOrders:
		batch := make([]WireOrder, len(env.Batch))
		for i, o := range env.Batch {
			batch[i] = o.ToWire()
		}
		payload = batch
	case env.Order != nil:
		payload = env.Order.ToWire()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Kind:    env.Kind,
		Payload: body,
		SentAt:  FlexTime{env.SentAt},
	})
}
