package cart

import (
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Ksh 0.00", FormatMoney(decimal.Zero, ""))
	require.Equal(t, "Ksh 12.50", FormatMoney(decimal.RequireFromString("12.5"), "Ksh"))
	require.Equal(t, "USD 1,234.50", FormatMoney(decimal.RequireFromString("1234.499"), "USD"))
}

func TestDeliveryPromo(t *testing.T) {
	t.Parallel()

	threshold := decimal.NewFromInt(2000)

	promo := DeliveryPromo(decimal.NewFromInt(1500), threshold, "Ksh")
	require.False(t, promo.Met)
	require.Equal(t, "Add Ksh 500.00 more to get FREE delivery", promo.Text)

	promo = DeliveryPromo(decimal.NewFromInt(2000), threshold, "Ksh")
	require.True(t, promo.Met)
	require.Equal(t, "Free delivery applied!", promo.Text)

	require.Equal(t, Promo{}, DeliveryPromo(decimal.NewFromInt(10), decimal.Zero, "Ksh"))
}

func TestNormalizeWhatsApp(t *testing.T) {
	t.Parallel()

	require.Equal(t, "254712345678", NormalizeWhatsApp("0712 345 678"))
	require.Equal(t, "254712345678", NormalizeWhatsApp("712345678"))
	require.Equal(t, "254712345678", NormalizeWhatsApp("+254-712-345-678"))
	require.Equal(t, "", NormalizeWhatsApp(""))
}

func TestOrderLink(t *testing.T) {
	t.Parallel()

	sf := Storefront{SiteName: "ScholaGro", WhatsApp: "0712345678", Currency: "Ksh"}
	require.Equal(t, "https://wa.me/", OrderLink(sf, Snapshot{}, "https://shop.example"))

	snap := Snapshot{
		Items: []Item{{
			ItemID:   "4",
			Slug:     "pencil-hb",
			Name:     "Pencil HB",
			ImageURL: "https://cdn.example/pencil.jpg",
			Price:    decimal.RequireFromString("25"),
			Quantity: 3,
		}},
		Subtotal: decimal.RequireFromString("75"),
	}
	link := OrderLink(sf, snap, "https://shop.example/")
	require.True(t, strings.HasPrefix(link, "https://wa.me/254712345678?text="), link)
	require.NotContains(t, link, "+")

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	text := parsed.Query().Get("text")
	require.Equal(t, strings.Join([]string{
		"ScholaGro Order Request",
		"- Pencil HB x3 @ Ksh 25.00",
		"https://cdn.example/pencil.jpg",
		"https://shop.example/product/pencil-hb",
		"Subtotal: Ksh 75.00",
	}, "\n"), text)

	anonymous := OrderLink(Storefront{}, snap, "")
	require.True(t, strings.HasPrefix(anonymous, "https://wa.me/?text=Storefront%20Order%20Request"), anonymous)
}
