package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire shapes of the provider's webhook body. Only the fields the fulfillment
// pipeline reads are modelled.

type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type orderData struct {
	ID          string       `json:"id" validate:"required"`
	Code        string       `json:"code"`
	Amount      int64        `json:"amount" validate:"gte=0"`
	Currency    string       `json:"currency"`
	Metadata    *metadata    `json:"metadata"`
	Integration *integration `json:"integration"`
	Customer    customer     `json:"customer"`
	Charges     []charge     `json:"charges" validate:"dive"`
	Items       []item       `json:"items" validate:"dive"`
}

type integration struct {
	Metadata *metadata `json:"metadata"`
}

type customer struct {
	Email   string  `json:"email"`
	Address address `json:"address"`
}

type address struct {
	Street string `json:"street"`
}

type charge struct {
	PaymentMethod string `json:"payment_method"`
	Installments  int    `json:"installments" validate:"gte=0"`
}

type item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Amount      int64  `json:"amount" validate:"gte=0"`
}

type metadata struct {
	CustomerID      flexString `json:"cliente_id"`
	ShippingName    flexString `json:"frete_nome"`
	ShippingCost    flexString `json:"frete_valor"`
	ShippingDays    flexString `json:"frete_prazo"`
	DeliveryAddress flexString `json:"endereco_entrega"`
}

// flexString accepts a JSON string, number or boolean. Provider metadata is
// free-form and the checkout has sent ids both as 7 and "7".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return fmt.Errorf("metadata value must be a scalar, got %s", b)
	default:
		*f = flexString(b)
		return nil
	}
}

// pick returns the first non-blank value.
func pick(values ...flexString) string {
	for _, v := range values {
		if s := string(bytes.TrimSpace([]byte(v))); s != "" {
			return s
		}
	}
	return ""
}
