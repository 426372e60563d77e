// Package webhook turns raw payment-provider notifications into validated,
// typed events.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

// ErrMalformedNotification wraps every payload that is not valid JSON or does
// not have the shape its event type requires.
var ErrMalformedNotification = errors.New("malformed payment notification")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is either *OrderPaid or Ignored.
type Event interface {
	EventType() string
}

// OrderPaid is a validated order.paid notification.
type OrderPaid struct {
	domain.PaymentNotification
	Payload []byte
}

func (*OrderPaid) EventType() string { return domain.EventOrderPaid }

// Ignored is any event type the pipeline acknowledges without acting on it.
type Ignored struct {
	Type string
}

func (e Ignored) EventType() string { return e.Type }

// Parse decodes and validates payload. It returns ErrMalformedNotification
// (wrapped) on failure and never touches the database.
func Parse(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if env.Type != domain.EventOrderPaid {
		return Ignored{Type: env.Type}, nil
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: order.paid without data", ErrMalformedNotification)
	}
	var data orderData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedNotification, err)
	}
	if err := validate.Struct(data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedNotification, err)
	}

	return &OrderPaid{
		PaymentNotification: toNotification(data),
		Payload:             payload,
	}, nil
}

func toNotification(data orderData) domain.PaymentNotification {
	var own, integ metadata
	if data.Metadata != nil {
		own = *data.Metadata
	}
	if data.Integration != nil && data.Integration.Metadata != nil {
		integ = *data.Integration.Metadata
	}

	n := domain.PaymentNotification{
		ProviderTransactionID: data.ID,
		PaymentLinkID:         data.Code,
		Amount:                data.Amount,
		Currency:              data.Currency,
		CustomerEmail:         strings.TrimSpace(data.Customer.Email),
		Installments:          1,
		Shipping: domain.ShippingQuote{
			Name: pick(own.ShippingName, integ.ShippingName),
		},
	}

	if id, err := strconv.ParseInt(pick(own.CustomerID, integ.CustomerID), 10, 64); err == nil && id > 0 {
		n.CustomerID = &id
	}
	if cost, err := decimal.NewFromString(pick(own.ShippingCost, integ.ShippingCost)); err == nil {
		n.Shipping.Cost = &cost
	}
	// frete_prazo is an INTEGER column; out-of-range values are dropped.
	if v, err := strconv.ParseInt(pick(own.ShippingDays, integ.ShippingDays), 10, 32); err == nil && v >= 0 {
		days := int(v)
		n.Shipping.LeadTimeDays = &days
	}

	n.DeliveryAddress = pick(own.DeliveryAddress, integ.DeliveryAddress)
	if n.DeliveryAddress == "" {
		n.DeliveryAddress = strings.TrimSpace(data.Customer.Address.Street)
	}

	if len(data.Charges) > 0 {
		n.PaymentMethod = data.Charges[0].PaymentMethod
		if data.Charges[0].Installments > 0 {
			n.Installments = data.Charges[0].Installments
		}
	}

	for _, it := range data.Items {
		n.Items = append(n.Items, domain.ProviderItem{
			Name:        it.Name,
			Description: it.Description,
			Quantity:    it.Quantity,
			Amount:      it.Amount,
		})
	}
	return n
}
