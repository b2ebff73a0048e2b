package classify

import (
	"strings"

	"receipt-reconciler/internal/webpage"
)

// PageState classifies a fetched page before extraction proceeds.
type PageState string

const (
	// PageOK is a normal content page.
	PageOK PageState = "ok"
	// PageLogin is a login or challenge page; the run pauses for the
	// auth handoff.
	PageLogin PageState = "login"
	// PageGiftCard is an order page for a gift-card purchase.
	PageGiftCard PageState = "gift_card"
	// PageWrongDocument is a known "wrong page" outcome for a document
	// URL (cancellation or status page instead of the receipt).
	PageWrongDocument PageState = "wrong_document"
	// PageShippingStatusOnly is the benign outcome where an order type
	// only exposes a shipping-status page: downgraded to no_receipt
	// rather than recorded as an error.
	PageShippingStatusOnly PageState = "shipping_status_only"
)

var loginURLMarkers = []string{
	"/ap/signin",
	"/login",
	"/signin",
	"/auth",
	"two_step_verification",
}

var loginTextMarkers = []string{
	"ログイン",
	"サインイン",
	"パスワードを入力",
	"Sign-In",
	"画像に表示されている文字",
}

var giftCardMarkers = []string{
	"ギフト券",
	"ギフトカード",
	"gift card",
	"amazonギフト",
}

var wrongDocumentMarkers = []string{
	"キャンセルされました",
	"注文はキャンセル",
	"cancelled",
	"キャンセルリクエスト",
}

var shippingStatusMarkers = []string{
	"配送状況",
	"配送の状況",
	"お届け予定",
	"shipping status",
}

// ClassifyPage classifies a fetched page. Login detection combines URL
// and text markers since challenge interstitials keep the original URL
// on some providers.
func ClassifyPage(page *webpage.Page) PageState {
	lowerURL := strings.ToLower(page.URL)
	for _, marker := range loginURLMarkers {
		if strings.Contains(lowerURL, marker) {
			return PageLogin
		}
	}
	if containsAnyFold(page.Title, loginTextMarkers) {
		return PageLogin
	}
	// A login form on an otherwise content-free page is a challenge.
	if containsAnyFold(page.Text, loginTextMarkers) && len(page.Links) < 5 {
		return PageLogin
	}

	if containsAnyFold(page.Text, giftCardMarkers) {
		return PageGiftCard
	}
	return PageOK
}

// ClassifyDocumentPage classifies the page behind a document URL before
// render-to-PDF. requiredMarkers are the signal texts the expected
// document type must show (e.g. the receipt heading); a page missing
// all of them fails the content assertion.
func ClassifyDocumentPage(page *webpage.Page, requiredMarkers []string) PageState {
	if state := ClassifyPage(page); state != PageOK {
		return state
	}
	if containsAnyFold(page.Text, wrongDocumentMarkers) {
		return PageWrongDocument
	}
	if len(requiredMarkers) > 0 && !containsAnyFold(page.Text, requiredMarkers) {
		if containsAnyFold(page.Text, shippingStatusMarkers) {
			return PageShippingStatusOnly
		}
		return PageWrongDocument
	}
	return PageOK
}

func containsAnyFold(haystack string, markers []string) bool {
	lower := strings.ToLower(haystack)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
