package classify

import "strings"

// PaymentClass is the policy classification of a payment method.
type PaymentClass string

const (
	// PaymentNormal methods produce receipts and proceed to materialization.
	PaymentNormal PaymentClass = "normal"
	// PaymentNoReceipt methods never issue a receipt (cash on delivery,
	// invoice billing, provider-specific digital classes). This is a
	// policy exclusion, not an error.
	PaymentNoReceipt PaymentClass = "no_receipt"
)

// defaultNoReceiptMarkers are the payment-method labels that issue no
// receipt on every provider.
var defaultNoReceiptMarkers = []string{
	"代金引換",
	"着払い",
	"請求書払い",
	"後払い",
	"invoice billing",
	"cash on delivery",
}

// PaymentClassifier classifies payment-method labels. Providers with
// extra no-receipt classes (e.g. pure digital/subscription orders on
// one marketplace) extend the default marker set.
type PaymentClassifier struct {
	markers []string
}

// NewPaymentClassifier builds a classifier with the default markers
// plus any provider-specific extras.
func NewPaymentClassifier(extraMarkers ...string) *PaymentClassifier {
	markers := make([]string, 0, len(defaultNoReceiptMarkers)+len(extraMarkers))
	markers = append(markers, defaultNoReceiptMarkers...)
	markers = append(markers, extraMarkers...)
	return &PaymentClassifier{markers: markers}
}

// Classify returns the policy class for a payment-method label. An
// empty or unknown label is treated as normal; exclusion requires a
// positive marker match.
func (pc *PaymentClassifier) Classify(method string) PaymentClass {
	normalized := strings.ToLower(strings.TrimSpace(method))
	if normalized == "" {
		return PaymentNormal
	}
	for _, marker := range pc.markers {
		if strings.Contains(normalized, strings.ToLower(marker)) {
			return PaymentNoReceipt
		}
	}
	return PaymentNormal
}
