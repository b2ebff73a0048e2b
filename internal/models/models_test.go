package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDocTypeIsValid(t *testing.T) {
	valid := []DocType{DocTypeTaxInvoice, DocTypeOrderSummary, DocTypeReceiptLike}
	for _, d := range valid {
		if !d.IsValid() {
			t.Errorf("Expected %s to be valid", d)
		}
	}

	if DocType("invoice").IsValid() {
		t.Error("Expected unknown doc type to be invalid")
	}
}

func TestOrderStatusPolicyExclusion(t *testing.T) {
	tests := []struct {
		status OrderStatus
		policy bool
	}{
		{StatusOK, false},
		{StatusNoReceipt, true},
		{StatusGiftCard, true},
		{StatusOutOfMonth, false},
		{StatusError, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsPolicyExclusion(); got != tt.policy {
			t.Errorf("IsPolicyExclusion(%s) = %v, want %v", tt.status, got, tt.policy)
		}
	}
}

func TestOrderRecordValidatePrimaryInvariant(t *testing.T) {
	rec := NewOrderRecord("amazon")
	rec.Status = StatusOK
	rec.Documents = []Document{
		{DocType: DocTypeOrderSummary, DocURL: "https://example.com/summary"},
	}

	if err := rec.Validate(); err == nil {
		t.Error("Expected validation error for status ok without a primary document")
	}

	rec.Documents[0].Primary = true
	if err := rec.Validate(); err != nil {
		t.Errorf("Expected valid record, got %v", err)
	}

	rec.Documents = append(rec.Documents, Document{
		DocType: DocTypeTaxInvoice,
		DocURL:  "https://example.com/invoice",
		Primary: true,
	})
	if err := rec.Validate(); err == nil {
		t.Error("Expected validation error for two primary documents")
	}
}

func TestOrderRecordLedgerKey(t *testing.T) {
	rec := NewOrderRecord("rakuten")
	rec.OrderID = "249-1234567-0000001"
	if key := rec.LedgerKey(); key != "249-1234567-0000001" {
		t.Errorf("Expected order id key, got %s", key)
	}

	rec.OrderID = ""
	rec.DetailURL = "https://example.com/order/1"
	if key := rec.LedgerKey(); key != "https://example.com/order/1" {
		t.Errorf("Expected detail URL key, got %s", key)
	}

	rec.DetailURL = ""
	rec.OrderDate = time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
	rec.TotalYen = Yen(3500)
	rec.ItemName = "Widget"
	rec.Position = 3
	key := rec.LedgerKey()
	if !strings.HasPrefix(key, "drv:") {
		t.Errorf("Expected derived key prefix, got %s", key)
	}

	// Derived keys must be stable for identical inputs.
	if key != rec.LedgerKey() {
		t.Error("Expected derived key to be deterministic")
	}
}

func TestOrderRecordJSONRoundTrip(t *testing.T) {
	rec := NewOrderRecord("amazon")
	rec.OrderID = "249-7777777-1111111"
	rec.OrderDate = time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
	rec.TotalYen = Yen(3500)
	rec.TotalSource = TotalSourceBilling
	rec.TotalConflict = true
	rec.ItemName = "Acme Widget"
	rec.Status = StatusOK
	rec.Documents = []Document{
		{DocType: DocTypeOrderSummary, DocURL: "https://example.com/s", PDFPath: "/tmp/a.pdf", Primary: true},
		{DocType: DocTypeTaxInvoice, DocURL: "https://example.com/i", TotalYen: Yen(3500)},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// The ledger line must carry the flattened document_type of the
	// primary document and an ISO date.
	if !strings.Contains(string(data), `"document_type":"order_summary"`) {
		t.Errorf("Expected document_type field, got %s", data)
	}
	if !strings.Contains(string(data), `"order_date":"2026-01-14"`) {
		t.Errorf("Expected ISO order_date, got %s", data)
	}

	decoded := &OrderRecord{}
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.OrderID != rec.OrderID {
		t.Errorf("OrderID mismatch: %s", decoded.OrderID)
	}
	if !decoded.OrderDate.Equal(rec.OrderDate) {
		t.Errorf("OrderDate mismatch: %s", decoded.OrderDate)
	}
	if decoded.TotalYen == nil || *decoded.TotalYen != 3500 {
		t.Error("TotalYen mismatch")
	}
	if !decoded.TotalConflict {
		t.Error("TotalConflict lost in round trip")
	}
	if len(decoded.Documents) != 2 || !decoded.Documents[0].Primary {
		t.Error("Documents lost in round trip")
	}
}

func TestParseYen(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"¥1,234", 1234, false},
		{"￥12,000", 12000, false},
		{"1,234円", 1234, false},
		{"3500", 3500, false},
		{"￥12,000 (税込)", 12000, false},
		{"　¥980　", 980, false},
		{"", 0, true},
		{"¥", 0, true},
		{"12.50", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseYen(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseYen(%q) expected error, got %d", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseYen(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseYen(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"2026-01-14", time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), false},
		{"2026/01/14", time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), false},
		{"2026年1月14日", time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"14th of January", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDate(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDate(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestExpenseLedgerEntryUnmarshal(t *testing.T) {
	line := `{"expense_id":"EXP-001","use_date":"2026-01-14","amount_yen":3500,"vendor":"Acme","memo":"widget order 249-1","has_evidence":false}`

	entry := &ExpenseLedgerEntry{}
	if err := json.Unmarshal([]byte(line), entry); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if entry.ExpenseID != "EXP-001" {
		t.Errorf("ExpenseID = %s", entry.ExpenseID)
	}
	if entry.AmountYen != 3500 {
		t.Errorf("AmountYen = %d", entry.AmountYen)
	}
	if entry.UseDate.Month() != time.January {
		t.Errorf("UseDate = %s", entry.UseDate)
	}
	if err := entry.Validate(); err != nil {
		t.Errorf("Expected valid entry, got %v", err)
	}
}

func TestParseExpenseEntriesSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"expense_id":"EXP-001","use_date":"2026-01-14","amount_yen":3500,"vendor":"Acme","has_evidence":false}`,
		`not json`,
		``,
		`{"expense_id":"","use_date":"2026-01-15","amount_yen":100,"vendor":"X","has_evidence":false}`,
		`{"expense_id":"EXP-002","use_date":"2026-01-20","amount_yen":980,"vendor":"Beta","has_evidence":true}`,
	}, "\n")

	result, err := ParseExpenseEntries(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseExpenseEntries failed: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(result.Entries))
	}
	if result.SkippedLines != 2 {
		t.Errorf("Expected 2 skipped lines, got %d", result.SkippedLines)
	}

	unevidenced := FilterUnevidenced(result.Entries)
	if len(unevidenced) != 1 || unevidenced[0].ExpenseID != "EXP-001" {
		t.Errorf("FilterUnevidenced returned %d entries", len(unevidenced))
	}

	january := FilterEntriesByMonth(result.Entries, 2026, time.January)
	if len(january) != 2 {
		t.Errorf("FilterEntriesByMonth returned %d entries", len(january))
	}
	if len(FilterEntriesByMonth(result.Entries, 2026, time.February)) != 0 {
		t.Error("Expected no February entries")
	}
}

func TestDeriveCompositeKeyDistinguishesPosition(t *testing.T) {
	date := time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)
	a := DeriveCompositeKey(date, Yen(3500), "Widget", 0)
	b := DeriveCompositeKey(date, Yen(3500), "Widget", 1)
	if a == b {
		t.Error("Expected different keys for different positions")
	}
}
