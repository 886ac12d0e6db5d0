package cart

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is the display prefix used when a storefront does not configure one.
const DefaultCurrency = "Ksh"

// FormatMoney renders amount with two decimals and thousands grouping.
// Example: FormatMoney(decimal.RequireFromString("1234.5"), "Ksh") => "Ksh 1,234.50"
func FormatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.TrimSpace(currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	value, _ := amount.Round(2).Float64()
	p := message.NewPrinter(language.English)
	return currency + " " + p.Sprintf("%.2f", value)
}
