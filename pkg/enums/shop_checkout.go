package enums

// PaymentMethod is the checkout variant a shop runs. Card shops redirect the
// customer to the payment page; bank-transfer shops confirm on submission.
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
)

func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentMethodBankTransfer, PaymentMethodCard:
		return true
	}
	return false
}

// RequiresGateway reports whether orders with p go through the payment
// provider before confirmation.
func (p PaymentMethod) RequiresGateway() bool {
	return p == PaymentMethodCard
}

// Currency is an ISO-4217 code. Storefronts sell in euro only.
type Currency string

const CurrencyEUR Currency = "EUR"

func (c Currency) IsValid() bool {
	return c == CurrencyEUR
}
