package shops

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/pkg/enums"
)

// Shop is one storefront tenant with its commercial and payment settings.
type Shop struct {
	ID            string
	Domain        string
	Country       string
	Currency      enums.Currency
	Locales       []string
	DefaultLocale string
	OrderPrefix   string

	PaymentMethod enums.PaymentMethod
	Notification  enums.EmailTemplate

	FreeDeliveryThreshold decimal.Decimal
	DeliveryFee           decimal.Decimal
	VATDisplayRate        decimal.Decimal

	Products      map[string]Product
	Regions       []Region
	DiscountCodes map[string]decimal.Decimal
	BankAccounts  []BankAccount

	SuccessURL string
	CancelURL  string

	EmailTemplates map[enums.EmailTemplate]map[string]string
	Seller         Seller
}

type Product struct {
	Code          string
	Name          string
	PricePerLiter decimal.Decimal
	MinLiters     decimal.Decimal
	MaxLiters     decimal.Decimal
}

// Region adds a per-liter surcharge to every postcode starting with Prefix.
type Region struct {
	Prefix    string
	Surcharge decimal.Decimal
}

type BankAccount struct {
	ID       string
	Holder   string
	IBAN     string
	BIC      string
	BankName string
	Default  bool
}

// Seller is the legal entity printed on invoices.
type Seller struct {
	Name         string
	AddressLines []string
	VATID        string
	Email        string
}

// Product returns the catalogue entry for code.
func (s *Shop) Product(code string) (Product, bool) {
	p, ok := s.Products[strings.TrimSpace(code)]
	return p, ok
}

// SurchargeFor returns the surcharge of the longest matching postcode prefix.
func (s *Shop) SurchargeFor(postcode string) decimal.Decimal {
	pc := strings.ReplaceAll(strings.TrimSpace(postcode), " ", "")
	for _, r := range s.Regions {
		if strings.HasPrefix(pc, r.Prefix) {
			return r.Surcharge
		}
	}
	return decimal.Zero
}

// Discount looks a code up case-insensitively.
func (s *Shop) Discount(code string) (decimal.Decimal, bool) {
	amount, ok := s.DiscountCodes[strings.ToUpper(strings.TrimSpace(code))]
	return amount, ok
}

// BankAccount returns the account with id, or the default account when id is
// empty.
func (s *Shop) BankAccount(id string) (BankAccount, bool) {
	id = strings.TrimSpace(id)
	for _, acct := range s.BankAccounts {
		if id == "" && acct.Default {
			return acct, true
		}
		if id != "" && acct.ID == id {
			return acct, true
		}
	}
	return BankAccount{}, false
}

// Locale maps a requested language onto one the shop serves.
func (s *Shop) Locale(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	for _, l := range s.Locales {
		if l == lang {
			return l
		}
	}
	return s.DefaultLocale
}

// TemplateID picks the mail template for locale, falling back to the
// default locale.
func (s *Shop) TemplateID(tpl enums.EmailTemplate, locale string) (string, bool) {
	byLocale, ok := s.EmailTemplates[tpl]
	if !ok {
		return "", false
	}
	if id, ok := byLocale[s.Locale(locale)]; ok && id != "" {
		return id, true
	}
	id, ok := byLocale[s.DefaultLocale]
	return id, ok && id != ""
}

// UsesCard reports whether checkout redirects to the card gateway.
func (s *Shop) UsesCard() bool {
	return s.PaymentMethod.RequiresGateway()
}

func sortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return len(regions[i].Prefix) > len(regions[j].Prefix)
	})
}
