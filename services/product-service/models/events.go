package models

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names a product lifecycle change.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// EventType is the routing key and envelope type for kind, e.g. "product.created".
func EventType(kind EventKind) string {
	return "product." + string(kind)
}

// ErrMalformedEvent marks a message body that can never be processed.
var ErrMalformedEvent = errors.New("malformed product event")

// EventMeta identifies one published event. ID is the deduplication key.
type EventMeta struct {
	ID         string
	OccurredAt time.Time
}

// Event is one of ProductCreated, ProductUpdated or ProductDeleted.
type Event interface {
	Kind() EventKind
	ProductID() string
	Meta() EventMeta
	event()
}

// ProductSnapshot is the record state carried by created and updated events.
type ProductSnapshot struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type ProductCreated struct {
	EventMeta
	Product ProductSnapshot
}

type ProductUpdated struct {
	EventMeta
	Product ProductSnapshot
}

// ProductDeleted carries only the identity of the removed record.
type ProductDeleted struct {
	EventMeta
	ID string
}

func (e ProductCreated) Kind() EventKind   { return EventCreated }
func (e ProductCreated) ProductID() string { return e.Product.ID }
func (e ProductCreated) Meta() EventMeta   { return e.EventMeta }
func (ProductCreated) event()              {}

func (e ProductUpdated) Kind() EventKind   { return EventUpdated }
func (e ProductUpdated) ProductID() string { return e.Product.ID }
func (e ProductUpdated) Meta() EventMeta   { return e.EventMeta }
func (ProductUpdated) event()              {}

func (e ProductDeleted) Kind() EventKind   { return EventDeleted }
func (e ProductDeleted) ProductID() string { return e.ID }
func (e ProductDeleted) Meta() EventMeta   { return e.EventMeta }
func (ProductDeleted) event()              {}

func newMeta() EventMeta {
	return EventMeta{ID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

func snapshot(p *Product) ProductSnapshot {
	return ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
}

func NewProductCreated(p *Product) ProductCreated {
	return ProductCreated{EventMeta: newMeta(), Product: snapshot(p)}
}

func NewProductUpdated(p *Product) ProductUpdated {
	return ProductUpdated{EventMeta: newMeta(), Product: snapshot(p)}
}

func NewProductDeleted(id string) ProductDeleted {
	return ProductDeleted{EventMeta: newMeta(), ID: id}
}

type envelope struct {
	EventID    string          `json:"event_id,omitempty"`
	EventType  string          `json:"event_type"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type deletedData struct {
	ID string `json:"id"`
}

// EncodeEvent renders e as the JSON envelope
// {"event_id","event_type","occurred_at","data"}.
func EncodeEvent(e Event) ([]byte, error) {
	var data interface{}
	switch ev := e.(type) {
	case ProductCreated:
		data = ev.Product
	case ProductUpdated:
		data = ev.Product
	case ProductDeleted:
		data = deletedData{ID: ev.ID}
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	meta := e.Meta()
	occurred := meta.OccurredAt
	return json.Marshal(envelope{
		EventID:    meta.ID,
		EventType:  EventType(e.Kind()),
		OccurredAt: &occurred,
		Data:       raw,
	})
}

// DecodeEvent parses an envelope. Envelopes without an event_id get a
// deterministic one derived from the body, so a redelivered copy maps to the
// same ID. Any structural problem wraps ErrMalformedEvent.
func DecodeEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(bytes.TrimSpace(env.Data)) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}

	meta := EventMeta{ID: env.EventID}
	if meta.ID == "" {
		meta.ID = uuid.NewSHA1(uuid.NameSpaceOID, body).String()
	}
	if env.OccurredAt != nil {
		meta.OccurredAt = env.OccurredAt.UTC()
	}

	switch env.EventType {
	case EventType(EventCreated), EventType(EventUpdated):
		var snap ProductSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if snap.ID == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrMalformedEvent)
		}
		if env.EventType == EventType(EventCreated) {
			return ProductCreated{EventMeta: meta, Product: snap}, nil
		}
		return ProductUpdated{EventMeta: meta, Product: snap}, nil
	case EventType(EventDeleted):
		var d deletedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrMalformedEvent)
		}
		return ProductDeleted{EventMeta: meta, ID: d.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event_type %q", ErrMalformedEvent, env.EventType)
	}
}
