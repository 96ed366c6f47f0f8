package types

import "strings"

// Address is the postal address snapshot stored on an order as jsonb.
type Address struct {
	Street     string `json:"street" validate:"required,max=200"`
	HouseNo    string `json:"house_no,omitempty" validate:"max=20"`
	PostalCode string `json:"postal_code" validate:"required,max=12,postcode"`
	City       string `json:"city" validate:"required,max=120"`
	Country    string `json:"country" validate:"required,len=2"`
	Company    string `json:"company,omitempty" validate:"max=200"`
}

// Lines renders the address the way it is printed on invoices.
func (a Address) Lines() []string {
	street := strings.TrimSpace(strings.TrimSpace(a.Street) + " " + strings.TrimSpace(a.HouseNo))
	lines := make([]string, 0, 4)
	if c := strings.TrimSpace(a.Company); c != "" {
		lines = append(lines, c)
	}
	lines = append(lines, street)
	lines = append(lines, strings.TrimSpace(a.PostalCode+" "+a.City))
	lines = append(lines, strings.ToUpper(strings.TrimSpace(a.Country)))
	return lines
}
