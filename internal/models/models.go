package models

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocType classifies an acquirable document artifact.
type DocType string

const (
	// DocTypeTaxInvoice is a qualified tax invoice (適格請求書).
	DocTypeTaxInvoice DocType = "tax_invoice"
	// DocTypeOrderSummary is the order/billing summary document.
	DocTypeOrderSummary DocType = "order_summary"
	// DocTypeReceiptLike is any remaining link that still looks like a receipt.
	DocTypeReceiptLike DocType = "receipt_like"
)

// String returns the string representation of DocType
func (d DocType) String() string {
	return string(d)
}

// IsValid checks if the document type is valid
func (d DocType) IsValid() bool {
	return d == DocTypeTaxInvoice || d == DocTypeOrderSummary || d == DocTypeReceiptLike
}

// TotalSource identifies which observed signal produced the canonical total.
type TotalSource string

const (
	TotalSourceBilling      TotalSource = "billing_total"
	TotalSourceSummary      TotalSource = "summary_total"
	TotalSourceInvoiceSum   TotalSource = "invoice_sum"
	TotalSourceCardFallback TotalSource = "card_fallback"
	TotalSourceUnknown      TotalSource = "unknown"
)

// IsValid checks if the total source is valid
func (s TotalSource) IsValid() bool {
	switch s {
	case TotalSourceBilling, TotalSourceSummary, TotalSourceInvoiceSum,
		TotalSourceCardFallback, TotalSourceUnknown:
		return true
	}
	return false
}

// OrderStatus is the terminal processing state of one order within a run.
type OrderStatus string

const (
	StatusOK          OrderStatus = "ok"
	StatusNoReceipt   OrderStatus = "no_receipt"
	StatusGiftCard    OrderStatus = "gift_card"
	StatusOutOfMonth  OrderStatus = "out_of_month"
	StatusUnknownDate OrderStatus = "unknown_date"
	StatusError       OrderStatus = "error"
)

// IsValid checks if the order status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusOK, StatusNoReceipt, StatusGiftCard, StatusOutOfMonth,
		StatusUnknownDate, StatusError:
		return true
	}
	return false
}

// IsPolicyExclusion reports whether the status is a deliberate policy
// classification rather than an extraction failure. Policy exclusions
// never count against the coverage gate's failure bucket.
func (s OrderStatus) IsPolicyExclusion() bool {
	return s == StatusNoReceipt || s == StatusGiftCard
}

// Document represents one acquirable artifact for an order. Created
// during classification, mutated exactly once when the materializer
// sets PDFPath, never deleted.
type Document struct {
	DocType  DocType `json:"doc_type"`
	DocURL   string  `json:"doc_url"`
	PDFPath  string  `json:"pdf_path,omitempty"`
	TotalYen *int64  `json:"total_yen"`
	Primary  bool    `json:"primary"`
}

// Validate performs basic validation on the Document
func (d *Document) Validate() error {
	if !d.DocType.IsValid() {
		return fmt.Errorf("invalid document type: %s", d.DocType)
	}
	if strings.TrimSpace(d.DocURL) == "" {
		return fmt.Errorf("document URL cannot be empty")
	}
	return nil
}

// OrderRecord is the canonical record for one vendor order/transaction.
// One OrderRecord is appended to the resume ledger per processed order.
type OrderRecord struct {
	OrderID       string      `json:"order_id,omitempty"`
	OrderDate     time.Time   `json:"-"`
	TotalYen      *int64      `json:"total_yen"`
	TotalSource   TotalSource `json:"total_source"`
	TotalConflict bool        `json:"total_conflict"`
	ItemName      string      `json:"item_name,omitempty"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	Documents     []Document  `json:"documents"`
	Status        OrderStatus `json:"status"`
	ErrorReason   string      `json:"error_reason,omitempty"`
	ErrorDetail   string      `json:"error_detail,omitempty"`
	Source        string      `json:"source"`
	DetailURL     string      `json:"detail_url,omitempty"`

	// Position is the zero-based discovery position within the run,
	// used only for derived ledger keys. Not serialized.
	Position int `json:"-"`

	// resolvedKey caches the ledger key read back from a persisted
	// line, since Position does not survive serialization.
	resolvedKey string
}

// NewOrderRecord creates an OrderRecord draft for the given provider.
func NewOrderRecord(source string) *OrderRecord {
	return &OrderRecord{
		Source:      source,
		TotalSource: TotalSourceUnknown,
		Documents:   []Document{},
	}
}

// PrimaryDocument returns the document marked primary, or nil.
func (o *OrderRecord) PrimaryDocument() *Document {
	for i := range o.Documents {
		if o.Documents[i].Primary {
			return &o.Documents[i]
		}
	}
	return nil
}

// HasMaterializedDocument reports whether the primary document has a saved PDF.
func (o *OrderRecord) HasMaterializedDocument() bool {
	doc := o.PrimaryDocument()
	return doc != nil && doc.PDFPath != ""
}

// Validate checks the record invariants. A record with status ok must
// carry exactly one primary document.
func (o *OrderRecord) Validate() error {
	if strings.TrimSpace(o.Source) == "" {
		return fmt.Errorf("order record source cannot be empty")
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("invalid order status: %s", o.Status)
	}
	if !o.TotalSource.IsValid() {
		return fmt.Errorf("invalid total source: %s", o.TotalSource)
	}

	primaries := 0
	for i := range o.Documents {
		if err := o.Documents[i].Validate(); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		if o.Documents[i].Primary {
			primaries++
		}
	}
	if o.Status == StatusOK && primaries != 1 {
		return fmt.Errorf("status ok requires exactly one primary document, got %d", primaries)
	}
	return nil
}

// LedgerKey returns the resume-ledger key for this record: the order id
// when resolved, else the detail URL, else a derived composite key.
// Records read back from a ledger line reuse their persisted key.
func (o *OrderRecord) LedgerKey() string {
	if o.resolvedKey != "" {
		return o.resolvedKey
	}
	if o.OrderID != "" {
		return o.OrderID
	}
	if o.DetailURL != "" {
		return o.DetailURL
	}
	return DeriveCompositeKey(o.OrderDate, o.TotalYen, o.ItemName, o.Position)
}

// InMonth reports whether the order's resolved date falls in the given
// year-month. An unresolved (zero) date is never in month.
func (o *OrderRecord) InMonth(year int, month time.Month) bool {
	if o.OrderDate.IsZero() {
		return false
	}
	return o.OrderDate.Year() == year && o.OrderDate.Month() == month
}

// String returns a short string representation of the OrderRecord
func (o *OrderRecord) String() string {
	total := "?"
	if o.TotalYen != nil {
		total = fmt.Sprintf("%d", *o.TotalYen)
	}
	return fmt.Sprintf("OrderRecord{ID: %s, Date: %s, Total: %s, Status: %s, Source: %s}",
		o.OrderID, FormatDate(o.OrderDate), total, o.Status, o.Source)
}

// orderRecordJSON is the wire shape for one resume-ledger line.
type orderRecordJSON struct {
	OrderID       string      `json:"order_id,omitempty"`
	OrderDate     string      `json:"order_date,omitempty"`
	TotalYen      *int64      `json:"total_yen"`
	TotalSource   TotalSource `json:"total_source"`
	TotalConflict bool        `json:"total_conflict"`
	ItemName      string      `json:"item_name,omitempty"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	DocumentType  string      `json:"document_type,omitempty"`
	Documents     []Document  `json:"documents"`
	Status        OrderStatus `json:"status"`
	ErrorReason   string      `json:"error_reason,omitempty"`
	ErrorDetail   string      `json:"error_detail,omitempty"`
	Source        string      `json:"source"`
	DetailURL     string      `json:"detail_url,omitempty"`
	LedgerKey     string      `json:"ledger_key"`
}

// MarshalJSON implements custom JSON marshaling for OrderRecord. The
// date is emitted as ISO yyyy-mm-dd, the ledger key is persisted so
// derived keys survive reloads, and document_type mirrors the primary
// document's type for quick grepping of the ledger.
func (o *OrderRecord) MarshalJSON() ([]byte, error) {
	docType := ""
	if doc := o.PrimaryDocument(); doc != nil {
		docType = string(doc.DocType)
	}
	docs := o.Documents
	if docs == nil {
		docs = []Document{}
	}
	return json.Marshal(&orderRecordJSON{
		OrderID:       o.OrderID,
		OrderDate:     FormatDate(o.OrderDate),
		TotalYen:      o.TotalYen,
		TotalSource:   o.TotalSource,
		TotalConflict: o.TotalConflict,
		ItemName:      o.ItemName,
		PaymentMethod: o.PaymentMethod,
		DocumentType:  docType,
		Documents:     docs,
		Status:        o.Status,
		ErrorReason:   o.ErrorReason,
		ErrorDetail:   o.ErrorDetail,
		Source:        o.Source,
		DetailURL:     o.DetailURL,
		LedgerKey:     o.LedgerKey(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for OrderRecord
func (o *OrderRecord) UnmarshalJSON(data []byte) error {
	var aux orderRecordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var date time.Time
	if aux.OrderDate != "" {
		var err error
		date, err = ParseDate(aux.OrderDate)
		if err != nil {
			return fmt.Errorf("invalid order date: %w", err)
		}
	}

	o.OrderID = aux.OrderID
	o.OrderDate = date
	o.TotalYen = aux.TotalYen
	o.TotalSource = aux.TotalSource
	o.TotalConflict = aux.TotalConflict
	o.ItemName = aux.ItemName
	o.PaymentMethod = aux.PaymentMethod
	o.Documents = aux.Documents
	o.Status = aux.Status
	o.ErrorReason = aux.ErrorReason
	o.ErrorDetail = aux.ErrorDetail
	o.Source = aux.Source
	o.DetailURL = aux.DetailURL
	o.resolvedKey = aux.LedgerKey
	return nil
}

// ExpenseLedgerEntry is one line item from the external expense ledger.
// Consumed by the matching engine, never owned or mutated here.
type ExpenseLedgerEntry struct {
	ExpenseID   string    `json:"expense_id"`
	UseDate     time.Time `json:"-"`
	AmountYen   int64     `json:"amount_yen"`
	Vendor      string    `json:"vendor"`
	Memo        string    `json:"memo,omitempty"`
	HasEvidence bool      `json:"has_evidence"`
	DetailURL   string    `json:"detail_url,omitempty"`
}

// Validate performs basic validation on the ExpenseLedgerEntry
func (e *ExpenseLedgerEntry) Validate() error {
	if strings.TrimSpace(e.ExpenseID) == "" {
		return fmt.Errorf("expense ID cannot be empty")
	}
	if e.AmountYen <= 0 {
		return fmt.Errorf("expense amount must be positive, got %d", e.AmountYen)
	}
	if e.UseDate.IsZero() {
		return fmt.Errorf("expense use date cannot be zero")
	}
	return nil
}

type expenseEntryJSON struct {
	ExpenseID   string `json:"expense_id"`
	UseDate     string `json:"use_date"`
	AmountYen   int64  `json:"amount_yen"`
	Vendor      string `json:"vendor"`
	Memo        string `json:"memo,omitempty"`
	HasEvidence bool   `json:"has_evidence"`
	DetailURL   string `json:"detail_url,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for ExpenseLedgerEntry
func (e *ExpenseLedgerEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(&expenseEntryJSON{
		ExpenseID:   e.ExpenseID,
		UseDate:     FormatDate(e.UseDate),
		AmountYen:   e.AmountYen,
		Vendor:      e.Vendor,
		Memo:        e.Memo,
		HasEvidence: e.HasEvidence,
		DetailURL:   e.DetailURL,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for ExpenseLedgerEntry
func (e *ExpenseLedgerEntry) UnmarshalJSON(data []byte) error {
	var aux expenseEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	date, err := ParseDate(aux.UseDate)
	if err != nil {
		return fmt.Errorf("invalid use date: %w", err)
	}

	e.ExpenseID = aux.ExpenseID
	e.UseDate = date
	e.AmountYen = aux.AmountYen
	e.Vendor = aux.Vendor
	e.Memo = aux.Memo
	e.HasEvidence = aux.HasEvidence
	e.DetailURL = aux.DetailURL
	return nil
}

// MatchCandidate pairs an expense ledger entry with an acquired order.
// It is a report artifact recreated each run, never authoritative state.
type MatchCandidate struct {
	ExpenseID string `json:"expense_id"`
	OrderID   string `json:"order_id"`
	PDFPath   string `json:"pdf_path"`
	Rank      int    `json:"rank"`
	Score     int    `json:"score"`
}

// Utility functions for parsing and key derivation

// ParseDate parses a date from the formats seen on provider pages and
// ledger exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"2006年1月2日",
		"2006年01月02日",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"January 2, 2006",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// FormatDate formats a date as ISO yyyy-mm-dd, empty for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseYen parses a monetary amount as it appears on provider pages
// ("¥1,234", "1,234円", "￥12,000 (税込)") into integer yen. Fractional
// amounts are rejected; yen has no minor unit.
func ParseYen(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount string cannot be empty")
	}

	replacer := strings.NewReplacer(
		"¥", "", "￥", "", "円", "", ",", "", "，", "", " ", "", "　", "",
	)
	s = replacer.Replace(s)
	if idx := strings.IndexAny(s, "(（"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("no numeric amount found")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("yen amount must be integral, got %s", d.String())
	}
	return d.IntPart(), nil
}

// Yen returns a pointer to the given yen amount. Convenience for the
// nullable total fields.
func Yen(v int64) *int64 {
	return &v
}

// DeriveCompositeKey builds a resume-ledger key for orders whose id and
// detail URL could not be resolved. The drv: prefix keeps derived keys
// disjoint from provider order ids.
func DeriveCompositeKey(date time.Time, amountYen *int64, name string, position int) string {
	amount := "?"
	if amountYen != nil {
		amount = fmt.Sprintf("%d", *amountYen)
	}
	raw := fmt.Sprintf("%s|%s|%s|%d", FormatDate(date), amount, strings.TrimSpace(name), position)
	sum := sha1.Sum([]byte(raw))
	return "drv:" + hex.EncodeToString(sum[:])[:16]
}
