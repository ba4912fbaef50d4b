package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MethodCash = "cash"
	MethodCard = "card"
	MethodPix  = "pix"
)

// PaymentInput is the payment as typed at the register. ReceivedAmount is
// only read for cash.
type PaymentInput struct {
	Method         string
	ReceivedAmount string
}

type PaymentSelection struct {
	Method         string
	ReceivedAmount decimal.Decimal
	ChangeAmount   decimal.Decimal
}

// ValidatePayment checks a payment against the sale total. Cash must cover
// the total; card and pix are taken as paid in full with no change.
func ValidatePayment(input PaymentInput, total decimal.Decimal) (PaymentSelection, error) {
	method := NormalizeMethod(input.Method)

	switch method {
	case MethodCash:
		raw := strings.TrimSpace(input.ReceivedAmount)
		if raw == "" {
			return PaymentSelection{}, fmt.Errorf("%w: received amount is required", ErrInsufficientPayment)
		}
		received, err := ParseAmount(raw)
		if err != nil {
			return PaymentSelection{}, fmt.Errorf("%w: %v", ErrInsufficientPayment, err)
		}
		if received.LessThan(total) {
			return PaymentSelection{}, fmt.Errorf("%w: received %s is below total %s", ErrInsufficientPayment, received.StringFixed(2), total.StringFixed(2))
		}
		return PaymentSelection{
			Method:         method,
			ReceivedAmount: received,
			ChangeAmount:   decimal.Max(decimal.Zero, received.Sub(total)),
		}, nil
	case MethodCard, MethodPix:
		return PaymentSelection{
			Method:         method,
			ReceivedAmount: total,
			ChangeAmount:   decimal.Zero,
		}, nil
	default:
		return PaymentSelection{}, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, input.Method)
	}
}

// NormalizeMethod lowercases the method and defaults an empty one to cash.
func NormalizeMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return MethodCash
	}
	return method
}

// ParseAmount parses a non-negative money amount with at most two decimal
// places. A comma is accepted as the decimal separator when the input has no
// dot ("25,50").
func ParseAmount(raw string) (decimal.Decimal, error) {
	return parseDecimal(raw, 2)
}

// ParseQuantity parses a non-negative stock quantity with at most three
// decimal places, as for products sold by weight.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	return parseDecimal(raw, 3)
}

func parseDecimal(raw string, places int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	if !strings.Contains(raw, ".") && strings.Count(raw, ",") == 1 {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a number", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q is negative", raw)
	}
	if !amount.Equal(amount.Truncate(places)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimal places", raw, places)
	}
	return amount, nil
}
