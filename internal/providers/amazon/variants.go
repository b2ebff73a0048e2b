package amazon

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
)

// orderStub is one order discovered on a list page, before its detail
// page is opened.
type orderStub struct {
	orderID   string
	detailURL string
	itemName  string
	cardYen   *int64
}

// domVariant abstracts the two UI generations of the order history.
// The probe picks one per pass; the selectors never mix.
type domVariant interface {
	name() string
	listURL(params providers.RunParams) string
	orderStubs(page *webpage.Page) []orderStub
	dateLabels() []string
	billingLabels() []string
	summaryLabels() []string
}

var orderIDPattern = regexp.MustCompile(`orderID=([0-9]{3}-[0-9]{7}-[0-9]{7})`)

// modernVariant reads the current order-history UI.
type modernVariant struct {
	baseURL string
}

func (v *modernVariant) name() string {
	return "modern"
}

func (v *modernVariant) listURL(params providers.RunParams) string {
	return fmt.Sprintf("%s/your-orders/orders?timeFilter=month-%04d-%02d",
		v.baseURL, params.Year, int(params.Month))
}

func (v *modernVariant) orderStubs(page *webpage.Page) []orderStub {
	return stubsFromLinks(page, "/your-orders/order-details")
}

func (v *modernVariant) dateLabels() []string {
	return []string{"注文日", "ご注文日", "Order placed"}
}

func (v *modernVariant) billingLabels() []string {
	return []string{"ご請求額", "請求額"}
}

func (v *modernVariant) summaryLabels() []string {
	return []string{"注文合計", "ご注文合計", "合計"}
}

// legacyVariant reads the pre-refresh order-history UI still served to
// part of the account pool.
type legacyVariant struct {
	baseURL string
}

func (v *legacyVariant) name() string {
	return "legacy"
}

func (v *legacyVariant) listURL(params providers.RunParams) string {
	return fmt.Sprintf("%s/gp/css/order-history?orderFilter=month-%04d-%02d",
		v.baseURL, params.Year, int(params.Month))
}

func (v *legacyVariant) orderStubs(page *webpage.Page) []orderStub {
	stubs := stubsFromLinks(page, "/gp/css/summary/edit.html")
	if len(stubs) == 0 {
		stubs = stubsFromLinks(page, "/gp/your-account/order-details")
	}
	return stubs
}

func (v *legacyVariant) dateLabels() []string {
	return []string{"注文日：", "注文日"}
}

func (v *legacyVariant) billingLabels() []string {
	return []string{"ご請求金額", "ご請求額"}
}

func (v *legacyVariant) summaryLabels() []string {
	return []string{"商品の小計を含む注文合計", "注文合計", "合計金額"}
}

// stubsFromLinks collects order-detail links carrying an order id, in
// DOM order, deduplicated within the page. Each stub also carries the
// card's own signals (item name, list-view total) so they survive even
// when the detail page exposes neither a billing nor a summary total.
func stubsFromLinks(page *webpage.Page, pathMarker string) []orderStub {
	var stubs []orderStub
	seen := make(map[string]bool)

	for _, link := range page.Links {
		if !strings.Contains(link.URL, pathMarker) {
			continue
		}
		match := orderIDPattern.FindStringSubmatch(link.URL)
		if match == nil || seen[match[1]] {
			continue
		}
		seen[match[1]] = true
		stubs = append(stubs, orderStub{
			orderID:   match[1],
			detailURL: link.URL,
			itemName:  nearestProductTitle(page.Links, link.Position),
			cardYen:   cardTotal(page.Text, match[1]),
		})
	}
	return stubs
}

// cardTotalLabels are the amount labels shown on a list-view order
// card. Both UI generations label the card total 合計.
var cardTotalLabels = []string{"注文合計", "合計", "Total"}

// cardTotal reads the order card's total from the flattened list text.
// The card is located by its order id; the labeled amount sits a short
// distance either side of it.
func cardTotal(text, orderID string) *int64 {
	idx := strings.Index(text, orderID)
	if idx < 0 {
		return nil
	}
	const window = 240
	start := idx - window
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start++
	}
	end := idx + len(orderID) + window
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return totals.ExtractLabeledYen(text[start:end], cardTotalLabels...)
}

// nearestProductTitle returns the text of the product link closest in
// DOM order to an order's detail link. List cards render the product
// title as a /dp/ or /gp/product/ anchor next to the detail button.
func nearestProductTitle(links []webpage.Link, position int) string {
	const maxDistance = 8
	best := ""
	bestDist := maxDistance + 1

	for _, link := range links {
		title := strings.TrimSpace(link.Text)
		if title == "" {
			continue
		}
		if !strings.Contains(link.URL, "/dp/") && !strings.Contains(link.URL, "/gp/product/") {
			continue
		}
		dist := link.Position - position
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = title
		}
	}
	return best
}

// extractPaymentMethod reads the payment method line from the detail
// page text.
func extractPaymentMethod(text string) string {
	for _, label := range []string{"お支払い方法", "支払い方法", "Payment method"} {
		idx := strings.Index(text, label)
		if idx < 0 {
			continue
		}
		window := strings.TrimLeft(text[idx+len(label):], "：: ")
		if runes := []rune(window); len(runes) > 40 {
			window = string(runes[:40])
		}
		// The flattened page text runs sections together; cut at the
		// next section heading.
		for _, stop := range []string{"ご請求", "請求", "注文", "配送", "合計"} {
			if cut := strings.Index(window, stop); cut >= 0 {
				window = window[:cut]
			}
		}
		return strings.TrimSpace(window)
	}
	return ""
}
