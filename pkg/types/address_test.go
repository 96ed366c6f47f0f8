package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressLines(t *testing.T) {
	addr := Address{Street: "Hauptstraße", HouseNo: "12", PostalCode: "80331", City: "München", Country: "de"}
	require.Equal(t, []string{"Hauptstraße 12", "80331 München", "DE"}, addr.Lines())

	addr.Company = "Heizwerk GmbH"
	require.Equal(t, "Heizwerk GmbH", addr.Lines()[0])
}
