package checkout

import "errors"

var (
	ErrInsufficientPayment      = errors.New("received amount must be equal to or greater than the total")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrEmptyCart                = errors.New("cart is empty")
	ErrNoOpenSession            = errors.New("an open cash session is required")
	ErrFinalizationInFlight     = errors.New("a sale is already being finalized")
	ErrOrderNumberGeneration    = errors.New("failed to generate order number")
	ErrOrderPersistence         = errors.New("failed to save order")
	ErrOrderItemsPersistence    = errors.New("failed to save order items")
	ErrDuplicateSubmission      = errors.New("sale was already submitted")
	ErrMalformedResponse        = errors.New("malformed response from storage")
)

// IsPaymentError reports whether err is a local validation failure that never
// reached storage.
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrInsufficientPayment) || errors.Is(err, ErrUnsupportedPaymentMethod)
}
