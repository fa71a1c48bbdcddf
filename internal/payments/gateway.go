package payments

import "context"

const StatusSucceeded = "succeeded"

// Intent is the slice of a provider payment intent the checkout flow needs.
type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	AmountReceived int64 // cents actually captured
	Currency       string
}

type IntentOptions struct {
	UserID       string
	ReceiptEmail string
}

// Gateway wraps the external payment provider. The provider's processing is
// opaque; checkout only creates intents and reads terminal status.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, opts IntentOptions) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}
