package freee

import (
	"context"
	"errors"
	"testing"
	"time"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/webpage"
)

type fakeNavigator struct {
	pages   map[string]*webpage.Page
	fetched []string
}

func (f *fakeNavigator) Get(ctx context.Context, url string) (*webpage.Page, error) {
	f.fetched = append(f.fetched, url)
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

const base = "https://ledger.test"

func listURL() string {
	return base + "/billing/history?year=2026&month=01"
}

func invoiceURL(id string) string {
	return base + "/billing/invoices/" + id
}

func invoicePage(id string) *webpage.Page {
	return &webpage.Page{
		URL:   invoiceURL(id),
		Title: "請求書",
		Text:  "発行日 2026/01/31 プラン: スタンダード ご請求金額 ¥5,280 合計金額 ¥5,280",
		Links: []webpage.Link{
			{Text: "請求書をダウンロード", URL: invoiceURL(id) + "/download.pdf", Position: 0},
		},
	}
}

func TestExtractInvoice(t *testing.T) {
	id := "INV-2026-0001"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		listURL(): {
			URL: listURL(), Title: "請求履歴", Text: "請求履歴",
			Links: []webpage.Link{{Text: "2026年1月分", URL: invoiceURL(id), Position: 0}},
		},
		invoiceURL(id): invoicePage(id),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
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
	if rec.OrderID != id {
		t.Errorf("OrderID = %s", rec.OrderID)
	}
	if rec.TotalYen == nil || *rec.TotalYen != 5280 {
		t.Errorf("TotalYen = %v", rec.TotalYen)
	}
	if rec.TotalSource != models.TotalSourceBilling {
		t.Errorf("TotalSource = %s", rec.TotalSource)
	}
	if rec.ItemName != "スタンダード" {
		t.Errorf("ItemName = %s", rec.ItemName)
	}
	if len(rec.Documents) != 1 || rec.Documents[0].DocType != models.DocTypeTaxInvoice {
		t.Errorf("Documents = %+v", rec.Documents)
	}
}

func TestExtractAppliesReceiptName(t *testing.T) {
	id := "INV-2026-0001"
	settingsURL := base + "/billing/settings/receipt-name?apply=Acme+Inc"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		settingsURL: {
			URL: settingsURL, Title: "領収書設定", Text: "宛名 Acme Inc",
		},
		listURL(): {
			URL: listURL(), Title: "請求履歴", Text: "請求履歴",
			Links: []webpage.Link{{Text: "2026年1月分", URL: invoiceURL(id), Position: 0}},
		},
		invoiceURL(id): invoicePage(id),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	params := providers.RunParams{Year: 2026, Month: time.January, ReceiptName: "Acme Inc"}
	if err := adapter.Extract(context.Background(), params, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if nav.fetched[0] != settingsURL {
		t.Errorf("Settings page not fetched first: %v", nav.fetched)
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusOK {
		t.Fatalf("Expected one ok record, got %+v", sink.records)
	}
}

func TestExtractReceiptNameFailureIsNotFatal(t *testing.T) {
	id := "INV-2026-0001"

	// No settings page registered: the application attempt fails.
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		listURL(): {
			URL: listURL(), Title: "請求履歴", Text: "請求履歴",
			Links: []webpage.Link{{Text: "2026年1月分", URL: invoiceURL(id), Position: 0}},
		},
		invoiceURL(id): invoicePage(id),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	params := providers.RunParams{Year: 2026, Month: time.January, ReceiptName: "Acme Inc"}
	if err := adapter.Extract(context.Background(), params, sink); err != nil {
		t.Fatalf("Extract must not fail on receipt-name application: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusOK {
		t.Fatalf("Expected one ok record, got %+v", sink.records)
	}
}

func TestExtractOutOfMonthInvoice(t *testing.T) {
	id := "INV-2025-0042"
	page := invoicePage(id)
	page.Text = "発行日 2025/12/31 ご請求金額 ¥5,280"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		listURL(): {
			URL: listURL(), Title: "請求履歴", Text: "請求履歴",
			Links: []webpage.Link{{Text: "2025年12月分", URL: invoiceURL(id), Position: 0}},
		},
		invoiceURL(id): page,
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusOutOfMonth {
		t.Fatalf("Expected out_of_month record, got %+v", sink.records)
	}
}
