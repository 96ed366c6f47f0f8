package shops

import (
	"errors"
	"fmt"
	"unicode"

	"go.uber.org/multierr"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// Validate checks a shop definition and reports every problem at once.
func Validate(s *Shop) error {
	if s == nil {
		return errors.New("shop is nil")
	}
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if s.ID == "" {
		add("id is required")
	}
	if len(s.Country) != 2 {
		add("country must be a two-letter code, got %q", s.Country)
	}
	if !s.Currency.IsValid() {
		add("unsupported currency %q", s.Currency)
	}
	if r := []rune(s.OrderPrefix); len(r) != 1 || !unicode.IsUpper(r[0]) {
		add("order_prefix must be a single uppercase letter, got %q", s.OrderPrefix)
	}
	if !s.PaymentMethod.IsValid() {
		add("unsupported payment_method %q", s.PaymentMethod)
	}
	if !s.Notification.IsValid() {
		add("unsupported notification %q", s.Notification)
	}
	if s.FreeDeliveryThreshold.IsNegative() {
		add("free_delivery_threshold must not be negative")
	}
	if s.DeliveryFee.IsNegative() {
		add("delivery_fee must not be negative")
	}
	if s.VATDisplayRate.IsNegative() {
		add("vat_display_rate must not be negative")
	}
	if len(s.Locales) == 0 {
		add("at least one locale is required")
	}
	if s.DefaultLocale == "" || !contains(s.Locales, s.DefaultLocale) {
		add("default_locale %q must be one of the shop locales", s.DefaultLocale)
	}
	if len(s.Products) == 0 {
		add("at least one product is required")
	}
	for code, p := range s.Products {
		if code == "" {
			add("product code is required")
		}
		if !p.PricePerLiter.IsPositive() {
			add("product %q price_per_liter must be positive", code)
		}
		if p.MinLiters.IsNegative() || (p.MaxLiters.IsPositive() && p.MaxLiters.LessThan(p.MinLiters)) {
			add("product %q liter bounds are inconsistent", code)
		}
	}
	for _, r := range s.Regions {
		if r.Prefix == "" {
			add("region prefix is required")
		}
		if r.Surcharge.IsNegative() {
			add("region %q surcharge must not be negative", r.Prefix)
		}
	}
	for code, amount := range s.DiscountCodes {
		if !amount.IsPositive() {
			add("discount code %q must have a positive amount", code)
		}
	}
	if s.PaymentMethod == enums.PaymentMethodBankTransfer {
		if _, ok := s.BankAccount(""); !ok {
			add("bank_transfer shops need a default bank account")
		}
	}
	if s.PaymentMethod == enums.PaymentMethodCard && (s.SuccessURL == "" || s.CancelURL == "") {
		add("card shops need success_url and cancel_url")
	}
	return errs
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
