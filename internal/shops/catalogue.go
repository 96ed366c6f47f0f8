package shops

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/heatflow/oilshop-backend/pkg/enums"
	pkgerrors "github.com/heatflow/oilshop-backend/pkg/errors"
)

type catalogueFile struct {
	Shops []shopFile `yaml:"shops"`
}

type shopFile struct {
	ID                    string                       `yaml:"id"`
	Domain                string                       `yaml:"domain"`
	Country               string                       `yaml:"country"`
	Currency              string                       `yaml:"currency"`
	Locales               []string                     `yaml:"locales"`
	DefaultLocale         string                       `yaml:"default_locale"`
	OrderPrefix           string                       `yaml:"order_prefix"`
	PaymentMethod         string                       `yaml:"payment_method"`
	Notification          string                       `yaml:"notification"`
	FreeDeliveryThreshold string                       `yaml:"free_delivery_threshold"`
	DeliveryFee           string                       `yaml:"delivery_fee"`
	VATDisplayRate        string                       `yaml:"vat_display_rate"`
	Products              []productFile                `yaml:"products"`
	Regions               map[string]string            `yaml:"regions"`
	DiscountCodes         map[string]string            `yaml:"discount_codes"`
	BankAccounts          []bankAccountFile            `yaml:"bank_accounts"`
	SuccessURL            string                       `yaml:"success_url"`
	CancelURL             string                       `yaml:"cancel_url"`
	EmailTemplates        map[string]map[string]string `yaml:"email_templates"`
	Seller                sellerFile                   `yaml:"seller"`
}

type productFile struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	PricePerLiter string `yaml:"price_per_liter"`
	MinLiters     string `yaml:"min_liters"`
	MaxLiters     string `yaml:"max_liters"`
}

type bankAccountFile struct {
	ID       string `yaml:"id"`
	Holder   string `yaml:"holder"`
	IBAN     string `yaml:"iban"`
	BIC      string `yaml:"bic"`
	BankName string `yaml:"bank_name"`
	Default  bool   `yaml:"default"`
}

type sellerFile struct {
	Name    string   `yaml:"name"`
	Address []string `yaml:"address"`
	VATID   string   `yaml:"vat_id"`
	Email   string   `yaml:"email"`
}

// Registry resolves shops by id.
type Registry struct {
	shops    map[string]*Shop
	byPrefix map[string]*Shop
	ids      []string
}

// Load reads and validates the YAML catalogue at path.
func Load(path string) (*Registry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("shop catalogue %q: %w", path, err)
	}
	var file catalogueFile
	if err := cleanenv.ReadConfig(path, &file); err != nil {
		return nil, fmt.Errorf("read shop catalogue: %w", err)
	}

	var (
		errs  error
		built []*Shop
	)
	for i, raw := range file.Shops {
		shop, err := raw.build()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shops[%d] %q: %w", i, raw.ID, err))
			continue
		}
		built = append(built, shop)
	}
	if errs != nil {
		return nil, errs
	}
	return NewRegistry(built...)
}

// NewRegistry validates shops and indexes them by id.
func NewRegistry(shops ...*Shop) (*Registry, error) {
	if len(shops) == 0 {
		return nil, fmt.Errorf("shop catalogue is empty")
	}
	reg := &Registry{
		shops:    make(map[string]*Shop, len(shops)),
		byPrefix: make(map[string]*Shop, len(shops)),
	}
	prefixes := map[string]string{}
	var errs error
	for _, shop := range shops {
		if err := Validate(shop); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shop %q: %w", shop.ID, err))
			continue
		}
		if _, dup := reg.shops[shop.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate shop id %q", shop.ID))
			continue
		}
		if other, taken := prefixes[shop.OrderPrefix]; taken {
			errs = multierr.Append(errs, fmt.Errorf("shop %q reuses order prefix %s of %q", shop.ID, shop.OrderPrefix, other))
			continue
		}
		prefixes[shop.OrderPrefix] = shop.ID
		sortRegions(shop.Regions)
		reg.shops[shop.ID] = shop
		reg.byPrefix[shop.OrderPrefix] = shop
		reg.ids = append(reg.ids, shop.ID)
	}
	if errs != nil {
		return nil, errs
	}
	sort.Strings(reg.ids)
	return reg, nil
}

// Get returns the shop or a NOT_FOUND error.
func (r *Registry) Get(id string) (*Shop, error) {
	shop, ok := r.shops[strings.TrimSpace(id)]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
	}
	return shop, nil
}

// ForOrderNumber resolves the shop that issued orderNumber from its prefix.
func (r *Registry) ForOrderNumber(orderNumber string) (*Shop, bool) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, false
	}
	shop, ok := r.byPrefix[orderNumber[:1]]
	return shop, ok
}

// IDs lists every configured shop id in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (f shopFile) build() (*Shop, error) {
	var errs error
	money := func(field, value string) decimal.Decimal {
		if strings.TrimSpace(value) == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return d
	}

	shop := &Shop{
		ID:                    strings.TrimSpace(f.ID),
		Domain:                strings.TrimSpace(f.Domain),
		Country:               strings.ToUpper(strings.TrimSpace(f.Country)),
		Currency:              enums.Currency(strings.ToUpper(strings.TrimSpace(f.Currency))),
		DefaultLocale:         strings.ToLower(strings.TrimSpace(f.DefaultLocale)),
		OrderPrefix:           strings.TrimSpace(f.OrderPrefix),
		PaymentMethod:         enums.PaymentMethod(strings.TrimSpace(f.PaymentMethod)),
		Notification:          enums.EmailTemplate(strings.TrimSpace(f.Notification)),
		FreeDeliveryThreshold: money("free_delivery_threshold", f.FreeDeliveryThreshold),
		DeliveryFee:           money("delivery_fee", f.DeliveryFee),
		VATDisplayRate:        money("vat_display_rate", f.VATDisplayRate),
		Products:              map[string]Product{},
		DiscountCodes:         map[string]decimal.Decimal{},
		SuccessURL:            strings.TrimSpace(f.SuccessURL),
		CancelURL:             strings.TrimSpace(f.CancelURL),
		EmailTemplates:        map[enums.EmailTemplate]map[string]string{},
		Seller: Seller{
			Name:         f.Seller.Name,
			AddressLines: f.Seller.Address,
			VATID:        f.Seller.VATID,
			Email:        f.Seller.Email,
		},
	}
	if shop.Currency == "" {
		shop.Currency = enums.CurrencyEUR
	}
	for _, l := range f.Locales {
		shop.Locales = append(shop.Locales, strings.ToLower(strings.TrimSpace(l)))
	}
	for _, p := range f.Products {
		code := strings.TrimSpace(p.Code)
		shop.Products[code] = Product{
			Code:          code,
			Name:          p.Name,
			PricePerLiter: money("products."+code+".price_per_liter", p.PricePerLiter),
			MinLiters:     money("products."+code+".min_liters", p.MinLiters),
			MaxLiters:     money("products."+code+".max_liters", p.MaxLiters),
		}
	}
	for prefix, surcharge := range f.Regions {
		shop.Regions = append(shop.Regions, Region{
			Prefix:    strings.TrimSpace(prefix),
			Surcharge: money("regions."+prefix, surcharge),
		})
	}
	for code, amount := range f.DiscountCodes {
		shop.DiscountCodes[strings.ToUpper(strings.TrimSpace(code))] = money("discount_codes."+code, amount)
	}
	for _, acct := range f.BankAccounts {
		shop.BankAccounts = append(shop.BankAccounts, BankAccount(acct))
	}
	for tpl, byLocale := range f.EmailTemplates {
		shop.EmailTemplates[enums.EmailTemplate(tpl)] = byLocale
	}
	if errs != nil {
		return nil, errs
	}
	return shop, nil
}

// Domains lists the storefront domains of every shop that declares one.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		if d := r.shops[id].Domain; d != "" {
			out = append(out, d)
		}
	}
	return out
}
