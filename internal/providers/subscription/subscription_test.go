package subscription

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/webpage"
)

type fakeNavigator struct {
	pages map[string]*webpage.Page
}

func (f *fakeNavigator) Get(ctx context.Context, url string) (*webpage.Page, error) {
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, errors.New("no such page: " + url)
}

func (f *fakeNavigator) Download(ctx context.Context, url string) ([]byte, string, error) {
	return nil, "", errors.New("not downloadable")
}

func (f *fakeNavigator) RenderPDF(ctx context.Context, url string) ([]byte, error) {
	return nil, webpage.ErrRenderUnsupported
}

type collectSink struct {
	skip    map[string]bool
	records []*models.OrderRecord
}

func (s *collectSink) ShouldSkip(key string) bool { return s.skip[key] }

func (s *collectSink) Emit(ctx context.Context, rec *models.OrderRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func testProfile() Profile {
	return Profile{
		Name:               "cloudtool",
		BillingURLFormat:   "https://portal.test/billing?year=%04d&month=%02d",
		InvoiceLinkMarkers: []string{"/invoices/"},
		DateLabels:         []string{"請求日"},
		BillingLabels:      []string{"ご請求金額"},
		SummaryLabels:      []string{"合計"},
	}
}

const billingURL = "https://portal.test/billing?year=2026&month=01"

func TestExtractPortalInvoice(t *testing.T) {
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		billingURL: {
			URL:   billingURL,
			Title: "請求履歴",
			Text:  "請求履歴 請求日 2026/01/05 ご請求金額 ¥980",
			Links: []webpage.Link{
				{Text: "領収書 2026/01/05", URL: "https://portal.test/invoices/2026-01.pdf", Position: 0},
			},
		},
	}}

	adapter, err := New(nav, Config{Profile: testProfile()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("Emitted %d records, want 1", len(sink.records))
	}

	rec := sink.records[0]
	if rec.Status != models.StatusOK {
		t.Errorf("Status = %s (reason %s)", rec.Status, rec.ErrorReason)
	}
	if rec.Source != "cloudtool" {
		t.Errorf("Source = %s", rec.Source)
	}
	if rec.TotalYen == nil || *rec.TotalYen != 980 {
		t.Errorf("TotalYen = %v", rec.TotalYen)
	}
	if rec.OrderDate.Day() != 5 {
		t.Errorf("OrderDate = %v", rec.OrderDate)
	}
	// No order id on portals: the invoice URL keys the ledger.
	if rec.LedgerKey() != "https://portal.test/invoices/2026-01.pdf" {
		t.Errorf("LedgerKey = %s", rec.LedgerKey())
	}
}

func TestExtractProfileMarkerFallback(t *testing.T) {
	// Neither the link text nor the URL matches the generic document
	// families; the profile marker catches it and the document degrades
	// to receipt_like.
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		billingURL: {
			URL:   billingURL,
			Title: "Billing",
			Text:  "Billing history 請求日 2026/01/05 ご請求金額 ¥980",
			Links: []webpage.Link{
				{Text: "Download January statement", URL: "https://portal.test/statements/2026-01.pdf", Position: 0},
			},
		},
	}}

	profile := testProfile()
	profile.InvoiceLinkMarkers = []string{"/statements/"}
	adapter, err := New(nav, Config{Profile: profile}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("Emitted %d records, want 1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Status != models.StatusOK {
		t.Errorf("Status = %s", rec.Status)
	}
	if len(rec.Documents) != 1 || rec.Documents[0].DocType != models.DocTypeReceiptLike || !rec.Documents[0].Primary {
		t.Errorf("Documents = %+v", rec.Documents)
	}
}

func TestExtractSkipsLedgeredInvoice(t *testing.T) {
	invoiceURL := "https://portal.test/invoices/2026-01.pdf"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		billingURL: {
			URL:   billingURL,
			Title: "請求履歴",
			Text:  "請求履歴 請求日 2026/01/05 ご請求金額 ¥980",
			Links: []webpage.Link{
				{Text: "領収書 2026/01/05", URL: invoiceURL, Position: 0},
			},
		},
	}}

	adapter, err := New(nav, Config{Profile: testProfile()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &collectSink{skip: map[string]bool{invoiceURL: true}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 0 {
		t.Errorf("Emitted %d records for a fully ledgered month", len(sink.records))
	}
}

func TestExtractOutOfMonthInvoiceRecorded(t *testing.T) {
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		billingURL: {
			URL:   billingURL,
			Title: "請求履歴",
			Text:  "請求履歴",
			Links: []webpage.Link{
				{Text: "領収書 2025/12/05", URL: "https://portal.test/invoices/2025-12.pdf", Position: 0},
			},
		},
	}}

	adapter, err := New(nav, Config{Profile: testProfile()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusOutOfMonth {
		t.Fatalf("Expected out_of_month record, got %+v", sink.records)
	}
}

func TestProfileValidate(t *testing.T) {
	if err := (Profile{}).Validate(); err == nil {
		t.Error("Empty profile accepted")
	}
	if err := (Profile{Name: "x"}).Validate(); err == nil || !strings.Contains(err.Error(), "billing URL") {
		t.Errorf("Expected billing URL error, got %v", err)
	}
	if err := testProfile().Validate(); err != nil {
		t.Errorf("Valid profile rejected: %v", err)
	}
}
