package cart

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	orderLinkBase      = "https://wa.me/"
	kenyaCountryPrefix = "254"
)

var (
	nonDigits        = regexp.MustCompile(`\D`)
	bareKenyanMobile = regexp.MustCompile(`^7\d{8}$`)
)

// Storefront carries the presentation settings the drawer derives text from.
type Storefront struct {
	SiteName              string
	WhatsApp              string
	Currency              string
	FreeDeliveryThreshold decimal.Decimal
}

// Promo is the free-delivery hint shown under the drawer subtotal.
type Promo struct {
	Text string
	Met  bool
}

// DeliveryPromo describes how far the subtotal is from the free-delivery threshold.
// A zero or negative threshold disables the hint.
func DeliveryPromo(subtotal, threshold decimal.Decimal, currency string) Promo {
	if !threshold.IsPositive() {
		return Promo{}
	}
	remaining := threshold.Sub(subtotal)
	if remaining.IsPositive() {
		return Promo{Text: "Add " + FormatMoney(remaining, currency) + " more to get FREE delivery"}
	}
	return Promo{Text: "Free delivery applied!", Met: true}
}

// NormalizeWhatsApp strips formatting and rewrites Kenyan local numbers to international form.
func NormalizeWhatsApp(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if strings.HasPrefix(digits, "0") {
		digits = kenyaCountryPrefix + digits[1:]
	}
	if bareKenyanMobile.MatchString(digits) {
		digits = kenyaCountryPrefix + digits
	}
	return digits
}

// OrderLink builds a chat link whose prefilled text lists the cart lines and subtotal.
// origin is the storefront base URL used for product links.
func OrderLink(sf Storefront, snap Snapshot, origin string) string {
	if snap.Empty() {
		return orderLinkBase
	}
	site := strings.TrimSpace(sf.SiteName)
	if site == "" {
		site = "Storefront"
	}
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")

	lines := []string{site + " Order Request"}
	for _, it := range snap.Items {
		lines = append(lines, "- "+it.Name+" x"+strconv.Itoa(it.Quantity)+" @ "+FormatMoney(it.Price, sf.Currency))
		if it.ImageURL != "" {
			lines = append(lines, it.ImageURL)
		}
		if it.Slug != "" {
			lines = append(lines, origin+"/product/"+it.Slug)
		}
	}
	lines = append(lines, "Subtotal: "+FormatMoney(snap.Subtotal, sf.Currency))

	text := strings.ReplaceAll(url.QueryEscape(strings.Join(lines, "\n")), "+", "%20")
	if number := NormalizeWhatsApp(sf.WhatsApp); number != "" {
		return orderLinkBase + number + "?text=" + text
	}
	return orderLinkBase + "?text=" + text
}
