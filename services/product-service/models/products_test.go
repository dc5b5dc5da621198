package models

import (
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kevin-soria/system-design-playground/services/common/errors"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: `"10.99"`, want: "10.99"},
		{raw: `10.99`, want: "10.99"},
		{raw: `5`, want: "5"},
		{raw: `" 20.50 "`, want: "20.5"},
		{raw: `0.1`, want: "0.1"},
		{raw: `0`, wantErr: true},
		{raw: `"-1.00"`, wantErr: true},
		{raw: `1e3`, wantErr: true},
		{raw: `"1E-2"`, wantErr: true},
		{raw: `"NaN"`, wantErr: true},
		{raw: `""`, wantErr: true},
		{raw: `true`, wantErr: true},
		{raw: `null`, wantErr: true},
		{raw: `".5"`, wantErr: true},
		{raw: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParsePrice_NoFloatDrift(t *testing.T) {
	got, err := ParsePrice(json.RawMessage(`0.30000000000000004`))
	require.NoError(t, err)
	assert.Equal(t, "0.30000000000000004", got.String())
}

func TestDecodeProductInput(t *testing.T) {
	in, err := DecodeProductInput([]byte(`{"name":"  Widget ","price":"10.99","stock":5}`))
	require.NoError(t, err)
	assert.Equal(t, "Widget", in.Name)
	assert.Equal(t, "10.99", in.Price.String())
	assert.Equal(t, 5, in.Stock)

	in, err = DecodeProductInput([]byte(`{"name":"NoStock","price":1}`))
	require.NoError(t, err)
	assert.Equal(t, 0, in.Stock)
}

func TestDecodeProductInput_Rejects(t *testing.T) {
	tests := map[string]struct {
		body  string
		field string
	}{
		"client id":      {`{"id":"abc","name":"x","price":1}`, "id"},
		"mongo id":       {`{"_id":"abc","name":"x","price":1}`, "id"},
		"missing name":   {`{"price":1,"stock":1}`, "name"},
		"blank name":     {`{"name":"   ","price":1}`, "name"},
		"missing price":  {`{"name":"x","stock":1}`, "price"},
		"zero price":     {`{"name":"x","price":0}`, "price"},
		"negative stock": {`{"name":"x","price":1,"stock":-1}`, "stock"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeProductInput([]byte(tt.body))
			require.Error(t, err)
			appErr := apperrors.From(err)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind)
			assert.Contains(t, appErr.Fields, tt.field)
		})
	}

	_, err := DecodeProductInput([]byte(`{not json`))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestDecodeProductPatch(t *testing.T) {
	patch, err := DecodeProductPatch([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, patch.IsEmpty())

	patch, err = DecodeProductPatch([]byte(`{"price":null}`))
	require.NoError(t, err)
	assert.True(t, patch.IsEmpty())

	patch, err = DecodeProductPatch([]byte(`{"stock":3}`))
	require.NoError(t, err)
	require.NotNil(t, patch.Stock)
	assert.Equal(t, 3, *patch.Stock)
	assert.Nil(t, patch.Name)
	assert.Nil(t, patch.Price)

	_, err = DecodeProductPatch([]byte(`{"name":""}`))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = DecodeProductPatch([]byte(`{"stock":-2}`))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = DecodeProductPatch([]byte(`{"price":"abc"}`))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestProductPatch_Apply(t *testing.T) {
	p := Product{ID: "1", Name: "a", Price: decimal.RequireFromString("1.50"), Stock: 2}
	stock := 9
	got := ProductPatch{Stock: &stock}.Apply(p)

	assert.Equal(t, 9, got.Stock)
	assert.Equal(t, "a", got.Name)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, 2, p.Stock, "original untouched")
}

func TestProductJSON_PriceIsExact(t *testing.T) {
	p := Product{ID: "1", Name: "a", Price: decimal.RequireFromString("10.99"), Stock: 1, CreatedAt: Now(), UpdatedAt: Now()}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"price":"10.99"`)

	var back Product
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, p.Price.Equal(back.Price))
	assert.True(t, p.CreatedAt.Equal(back.CreatedAt))
}

func TestValidate_TinyPositivePriceIsPositive(t *testing.T) {
	tiny := "0." + strings.Repeat("0", 400) + "1"

	in, err := DecodeProductInput([]byte(`{"name":"Dust","price":"` + tiny + `"}`))
	require.NoError(t, err)
	assert.True(t, in.Price.IsPositive())

	patch, err := DecodeProductPatch([]byte(`{"price":` + tiny + `}`))
	require.NoError(t, err)
	require.NotNil(t, patch.Price)

	err = ProductInput{Name: "Free", Price: decimal.Zero}.Validate()
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be greater than 0", appErr.Fields["price"])

	neg := decimal.NewFromInt(-1)
	assert.Error(t, ProductPatch{Price: &neg}.Validate())
}

func TestProductJSON_PriceTrailingZerosNormalised(t *testing.T) {
	p := Product{ID: "1", Name: "a", Price: decimal.RequireFromString("20.50")}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"price":"20.5"`)
}
