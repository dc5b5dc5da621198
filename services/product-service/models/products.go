package models

import (
	"bytes"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
)

// Product is the stored record. ID is assigned by the store and opaque to
// everyone else.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductInput is a validated create request. It has no identity field, so a
// caller can never choose one.
type ProductInput struct {
	Name  string          `json:"name" validate:"required,max=200"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

// ProductPatch is a partial update. Nil fields are left untouched.
type ProductPatch struct {
	Name  *string          `json:"name,omitempty" validate:"omitnil,min=1,max=200"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int             `json:"stock,omitempty" validate:"omitnil,gte=0"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ProductPatch) IsEmpty() bool {
	return p.Name == nil && p.Price == nil && p.Stock == nil
}

// Apply returns a copy of prod with the patch applied. UpdatedAt is left to
// the caller.
func (p ProductPatch) Apply(prod Product) Product {
	if p.Name != nil {
		prod.Name = *p.Name
	}
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.Stock != nil {
		prod.Stock = *p.Stock
	}
	return prod
}

// Now is the timestamp source for records. Millisecond precision is what
// every store backend round-trips exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

const pricePositive = "must be greater than 0"

// Validate checks field constraints and returns a Validation error keyed by
// JSON field name. Price is compared as a decimal, never as a float.
func (in ProductInput) Validate() error {
	fields, err := structErrors(validate.Struct(in))
	if err != nil {
		return err
	}
	if !in.Price.IsPositive() {
		fields["price"] = pricePositive
	}
	return invalid(fields)
}

func (p ProductPatch) Validate() error {
	fields, err := structErrors(validate.Struct(p))
	if err != nil {
		return err
	}
	if p.Price != nil && !p.Price.IsPositive() {
		fields["price"] = pricePositive
	}
	return invalid(fields)
}

func structErrors(err error) (map[string]string, error) {
	fields := map[string]string{}
	if err == nil {
		return fields, nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, apperrors.Validation("invalid product", nil)
	}
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return fields, nil
}

func invalid(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return apperrors.Validation("invalid product", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must not be empty"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

// plainDecimal accepts only plain decimal notation: no exponent, no sign
// other than a leading minus, no bare dot.
var plainDecimal = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParsePrice is the single parse path for prices arriving from outside. It
// accepts a JSON string or JSON number in plain decimal notation and requires
// the value to be strictly positive.
func ParsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero, apperrors.Validation("invalid price", map[string]string{"price": "is required"})
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, invalidPrice("must be a decimal number")
		}
		text = strings.TrimSpace(s)
	}
	if !plainDecimal.MatchString(text) {
		return decimal.Zero, invalidPrice("must be a decimal number in plain notation")
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, invalidPrice("must be a decimal number")
	}
	if !d.IsPositive() {
		return decimal.Zero, invalidPrice("must be greater than 0")
	}
	return d, nil
}

func invalidPrice(msg string) error {
	return apperrors.Validation("invalid price", map[string]string{"price": msg})
}

// productBody is the wire shape of create and update requests. Price stays
// raw so it goes through ParsePrice.
type productBody struct {
	ID      json.RawMessage `json:"id"`
	MongoID json.RawMessage `json:"_id"`
	Name    *string         `json:"name"`
	Price   json.RawMessage `json:"price"`
	Stock   *int            `json:"stock"`
}

func decodeBody(body []byte) (productBody, error) {
	var pb productBody
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&pb); err != nil {
		return pb, apperrors.Validation("malformed JSON body", nil)
	}
	if pb.ID != nil || pb.MongoID != nil {
		return pb, apperrors.Validation("invalid product", map[string]string{"id": "is assigned by the server"})
	}
	return pb, nil
}

// DecodeProductInput parses and validates a create request body.
func DecodeProductInput(body []byte) (ProductInput, error) {
	pb, err := decodeBody(body)
	if err != nil {
		return ProductInput{}, err
	}

	var in ProductInput
	if pb.Name != nil {
		in.Name = strings.TrimSpace(*pb.Name)
	}
	if pb.Stock != nil {
		in.Stock = *pb.Stock
	}
	if in.Price, err = ParsePrice(pb.Price); err != nil {
		return ProductInput{}, err
	}
	if err := in.Validate(); err != nil {
		return ProductInput{}, err
	}
	return in, nil
}

// DecodeProductPatch parses and validates an update request body. Absent
// fields stay nil.
func DecodeProductPatch(body []byte) (ProductPatch, error) {
	pb, err := decodeBody(body)
	if err != nil {
		return ProductPatch{}, err
	}

	var patch ProductPatch
	if pb.Name != nil {
		name := strings.TrimSpace(*pb.Name)
		patch.Name = &name
	}
	patch.Stock = pb.Stock
	if len(pb.Price) > 0 && !bytes.Equal(bytes.TrimSpace(pb.Price), []byte("null")) {
		price, err := ParsePrice(pb.Price)
		if err != nil {
			return ProductPatch{}, err
		}
		patch.Price = &price
	}
	if err := patch.Validate(); err != nil {
		return ProductPatch{}, err
	}
	return patch, nil
}
