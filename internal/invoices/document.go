package invoices

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/heatflow/oilshop-backend/internal/pricing"
	"github.com/heatflow/oilshop-backend/internal/shops"
	"github.com/heatflow/oilshop-backend/pkg/db/models"
)

// Document is everything printed on one invoice.
type Document struct {
	Number    string
	IssuedAt  time.Time
	Locale    string
	Labels    Labels
	Seller    shops.Seller
	Buyer     []string
	BuyerName string
	Order     string
	Notes     string

	ProductCode   string
	Liters        string
	PricePerLiter string
	BasePrice     string
	DeliveryFee   string
	Discount      string
	Total         string
	Currency      string
	VAT           *pricing.VAT

	Bank shops.BankAccount
}

// Labels are the translated captions of the invoice layout.
type Labels struct {
	Title       string
	Invoice     string
	Date        string
	Order       string
	Product     string
	Liters      string
	UnitPrice   string
	Subtotal    string
	DeliveryFee string
	Discount    string
	Total       string
	Net         string
	VAT         string
	PayTo       string
	Reference   string
	Notes       string
}

var labelsByLocale = map[string]Labels{
	"de": {Title: "Rechnung", Invoice: "Rechnungsnummer", Date: "Datum", Order: "Bestellung", Product: "Produkt", Liters: "Liter", UnitPrice: "Preis pro Liter", Subtotal: "Warenwert", DeliveryFee: "Lieferkosten", Discount: "Rabatt", Total: "Gesamtbetrag", Net: "Netto", VAT: "MwSt.", PayTo: "Bitte überweisen Sie auf folgendes Konto", Reference: "Verwendungszweck", Notes: "Hinweise"},
	"en": {Title: "Invoice", Invoice: "Invoice number", Date: "Date", Order: "Order", Product: "Product", Liters: "Liters", UnitPrice: "Price per liter", Subtotal: "Subtotal", DeliveryFee: "Delivery", Discount: "Discount", Total: "Total", Net: "Net", VAT: "VAT", PayTo: "Please transfer the amount to", Reference: "Reference", Notes: "Notes"},
	"it": {Title: "Fattura", Invoice: "Numero fattura", Date: "Data", Order: "Ordine", Product: "Prodotto", Liters: "Litri", UnitPrice: "Prezzo al litro", Subtotal: "Imponibile merce", DeliveryFee: "Consegna", Discount: "Sconto", Total: "Totale", Net: "Netto", VAT: "IVA", PayTo: "Si prega di effettuare il bonifico a", Reference: "Causale", Notes: "Note"},
	"fr": {Title: "Facture", Invoice: "Numéro de facture", Date: "Date", Order: "Commande", Product: "Produit", Liters: "Litres", UnitPrice: "Prix par litre", Subtotal: "Sous-total", DeliveryFee: "Livraison", Discount: "Remise", Total: "Total", Net: "HT", VAT: "TVA", PayTo: "Merci de virer le montant sur", Reference: "Référence", Notes: "Remarques"},
}

// LabelsFor returns the captions for locale, English when unknown.
func LabelsFor(locale string) Labels {
	if l, ok := labelsByLocale[strings.ToLower(locale)]; ok {
		return l
	}
	return labelsByLocale["en"]
}

// NewDocument snapshots order, shop and bank account into a printable
// document.
func NewDocument(number string, issuedAt time.Time, order *models.Order, shop *shops.Shop, bank shops.BankAccount, notes string) Document {
	locale := shop.Locale(order.Language)
	buyer := order.DeliveryAddress.Lines()
	if order.BillingAddress != nil {
		buyer = order.BillingAddress.Lines()
	}
	doc := Document{
		Number:        number,
		IssuedAt:      issuedAt,
		Locale:        locale,
		Labels:        LabelsFor(locale),
		Seller:        shop.Seller,
		Buyer:         buyer,
		BuyerName:     order.CustomerName,
		Order:         order.OrderNumber,
		Notes:         strings.TrimSpace(notes),
		ProductCode:   order.ProductCode,
		Liters:        order.Liters.StringFixed(0),
		PricePerLiter: money(order.PricePerLiter, 4),
		BasePrice:     money(order.BasePrice, 2),
		DeliveryFee:   money(order.DeliveryFee, 2),
		Total:         money(order.TotalAmount, 2),
		Currency:      string(order.Currency),
		VAT:           pricing.SplitVAT(order.TotalAmount, shop.VATDisplayRate),
		Bank:          bank,
	}
	if order.Discount.IsPositive() {
		doc.Discount = money(order.Discount, 2)
	}
	return doc
}

func money(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("02.01.2006") },
}).Parse(invoiceHTML))

// Render produces the HTML invoice.
func Render(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", doc.Number, err)
	}
	return buf.Bytes(), nil
}

const invoiceHTML = `<!DOCTYPE html>
<html lang="{{.Locale}}">
<head>
<meta charset="utf-8">
<title>{{.Labels.Title}} {{.Number}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #222; margin: 40px; }
table { width: 100%; border-collapse: collapse; margin-top: 24px; }
td, th { padding: 6px 4px; border-bottom: 1px solid #ddd; text-align: left; }
td.amount, th.amount { text-align: right; }
.total td { font-weight: bold; border-top: 2px solid #222; }
.seller, .buyer { margin-bottom: 16px; }
</style>
</head>
<body>
<div class="seller">
<strong>{{.Seller.Name}}</strong><br>
{{range .Seller.AddressLines}}{{.}}<br>{{end}}
{{if .Seller.VATID}}{{.Seller.VATID}}<br>{{end}}
{{if .Seller.Email}}{{.Seller.Email}}{{end}}
</div>
<div class="buyer">
<strong>{{.BuyerName}}</strong><br>
{{range .Buyer}}{{.}}<br>{{end}}
</div>
<h1>{{.Labels.Title}}</h1>
<p>
{{.Labels.Invoice}}: <strong>{{.Number}}</strong><br>
{{.Labels.Date}}: {{date .IssuedAt}}<br>
{{.Labels.Order}}: {{.Order}}
</p>
<table>
<tr><th>{{.Labels.Product}}</th><th class="amount">{{.Labels.Liters}}</th><th class="amount">{{.Labels.UnitPrice}}</th><th class="amount">{{.Currency}}</th></tr>
<tr><td>{{.ProductCode}}</td><td class="amount">{{.Liters}}</td><td class="amount">{{.PricePerLiter}}</td><td class="amount">{{.BasePrice}}</td></tr>
<tr><td colspan="3">{{.Labels.DeliveryFee}}</td><td class="amount">{{.DeliveryFee}}</td></tr>
{{if .Discount}}<tr><td colspan="3">{{.Labels.Discount}}</td><td class="amount">-{{.Discount}}</td></tr>{{end}}
{{with .VAT}}<tr><td colspan="3">{{$.Labels.Net}}</td><td class="amount">{{.Net.StringFixed 2}}</td></tr>
<tr><td colspan="3">{{$.Labels.VAT}} ({{.Rate.Shift 2}}%)</td><td class="amount">{{.Tax.StringFixed 2}}</td></tr>{{end}}
<tr class="total"><td colspan="3">{{.Labels.Total}}</td><td class="amount">{{.Total}} {{.Currency}}</td></tr>
</table>
{{if .Bank.IBAN}}
<h3>{{.Labels.PayTo}}</h3>
<p>
{{.Bank.Holder}}<br>
IBAN: {{.Bank.IBAN}}<br>
{{if .Bank.BIC}}BIC: {{.Bank.BIC}}<br>{{end}}
{{if .Bank.BankName}}{{.Bank.BankName}}<br>{{end}}
{{.Labels.Reference}}: {{.Number}}
</p>
{{end}}
{{if .Notes}}<h3>{{.Labels.Notes}}</h3><p>{{.Notes}}</p>{{end}}
</body>
</html>
`
