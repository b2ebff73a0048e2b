package amazon

import (
	"context"
	"errors"
	"testing"
	"time"

	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/webpage"
	harvesterrors "receipt-reconciler/pkg/errors"
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

func (s *collectSink) ShouldSkip(key string) bool {
	return s.skip[key]
}

func (s *collectSink) Emit(ctx context.Context, rec *models.OrderRecord) error {
	s.records = append(s.records, rec)
	return nil
}

const base = "https://marketplace.test"

func modernListURL() string {
	return base + "/your-orders/orders?timeFilter=month-2026-01"
}

func detailURL(orderID string) string {
	return base + "/your-orders/order-details?orderID=" + orderID
}

func detailPage(orderID, text string, extraLinks ...webpage.Link) *webpage.Page {
	links := []webpage.Link{
		{Text: "購入明細書", URL: base + "/documents/summary?orderID=" + orderID, Position: 0},
		{Text: "適格請求書", URL: base + "/documents/invoice?orderID=" + orderID, Position: 1},
	}
	links = append(links, extraLinks...)
	return &webpage.Page{
		URL:   detailURL(orderID),
		Title: "注文の詳細",
		Text:  text,
		Links: links,
	}
}

func standardDetailText(date string) string {
	return "注文日 " + date + " お支払い方法: クレジットカード ご請求額 ¥3,500 注文合計: ¥3,500 商品名 Acme Widget"
}

func listPage(url string, orderIDs ...string) *webpage.Page {
	page := &webpage.Page{URL: url, Title: "注文履歴", Text: "注文履歴"}
	for i, id := range orderIDs {
		page.Links = append(page.Links, webpage.Link{
			Text:     "注文の詳細を表示",
			URL:      detailURL(id),
			Position: i,
		})
	}
	return page
}

func TestExtractModernVariant(t *testing.T) {
	orderA := "249-1111111-0000001"
	orderB := "249-2222222-0000002"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		// orderA appears twice across the list; dedup keeps one.
		modernListURL(): listPage(modernListURL(), orderA, orderB, orderA),
		detailURL(orderA): detailPage(orderA, standardDetailText("2026年1月14日")),
		detailURL(orderB): detailPage(orderB, standardDetailText("2026年1月20日")),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("Emitted %d records, want 2", len(sink.records))
	}

	rec := sink.records[0]
	if rec.OrderID != orderA {
		t.Errorf("OrderID = %s", rec.OrderID)
	}
	if rec.Status != models.StatusOK {
		t.Errorf("Status = %s (reason %s)", rec.Status, rec.ErrorReason)
	}
	if rec.TotalYen == nil || *rec.TotalYen != 3500 {
		t.Errorf("TotalYen = %v", rec.TotalYen)
	}
	if rec.TotalSource != models.TotalSourceBilling {
		t.Errorf("TotalSource = %s", rec.TotalSource)
	}
	if rec.OrderDate.Day() != 14 {
		t.Errorf("OrderDate = %v", rec.OrderDate)
	}
	if len(rec.Documents) != 2 {
		t.Fatalf("Documents = %d, want summary + invoice", len(rec.Documents))
	}
	if rec.Documents[0].DocType != models.DocTypeOrderSummary || !rec.Documents[0].Primary {
		t.Errorf("Primary document = %+v", rec.Documents[0])
	}
}

func TestExtractListCardSignals(t *testing.T) {
	orderA := "249-1111111-0000001"

	list := &webpage.Page{
		URL:   modernListURL(),
		Title: "注文履歴",
		Text:  "注文履歴 注文日 2026年1月14日 合計 ￥3,500 注文番号 " + orderA,
		Links: []webpage.Link{
			{Text: "Acme Widget", URL: base + "/dp/B00EXAMPLE", Position: 0},
			{Text: "注文の詳細を表示", URL: detailURL(orderA), Position: 1},
		},
	}
	// The detail page shows neither a billing nor a summary total, so
	// the card total is the only remaining signal.
	detail := detailPage(orderA, "注文日 2026年1月14日 お支払い方法: クレジットカード")

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL():   list,
		detailURL(orderA): detail,
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
		t.Fatalf("Status = %s (reason %s)", rec.Status, rec.ErrorReason)
	}
	if rec.ItemName != "Acme Widget" {
		t.Errorf("ItemName = %q, want the card's product title", rec.ItemName)
	}
	if rec.TotalYen == nil || *rec.TotalYen != 3500 {
		t.Errorf("TotalYen = %v, want the card total 3500", rec.TotalYen)
	}
	if rec.TotalSource != models.TotalSourceCardFallback {
		t.Errorf("TotalSource = %s, want card_fallback", rec.TotalSource)
	}
}

func TestExtractSkipsLedgeredOrders(t *testing.T) {
	orderA := "249-1111111-0000001"
	orderB := "249-2222222-0000002"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL():   listPage(modernListURL(), orderA, orderB),
		detailURL(orderB): detailPage(orderB, standardDetailText("2026年1月20日")),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{orderA: true}}

	err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	// The skipped order's detail page was never registered with the
	// fake; reaching it would have errored the record.
	if len(sink.records) != 1 || sink.records[0].OrderID != orderB {
		t.Fatalf("Expected only %s, got %d records", orderB, len(sink.records))
	}
}

func TestExtractOutOfMonthRecorded(t *testing.T) {
	orderA := "249-1111111-0000001"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL():   listPage(modernListURL(), orderA),
		detailURL(orderA): detailPage(orderA, standardDetailText("2026年2月2日")),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("Emitted %d records, want 1", len(sink.records))
	}
	if sink.records[0].Status != models.StatusOutOfMonth {
		t.Errorf("Status = %s, want out_of_month", sink.records[0].Status)
	}
}

func TestExtractCashOnDeliveryIsNoReceipt(t *testing.T) {
	orderA := "249-1111111-0000001"
	text := "注文日 2026年1月14日 お支払い方法: 代金引換 注文合計: ¥2,000"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL():   listPage(modernListURL(), orderA),
		detailURL(orderA): detailPage(orderA, text),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("Emitted %d records, want 1", len(sink.records))
	}
	if sink.records[0].Status != models.StatusNoReceipt {
		t.Errorf("Status = %s, want no_receipt", sink.records[0].Status)
	}
}

func TestExtractGiftCardOrder(t *testing.T) {
	orderA := "249-1111111-0000001"
	text := "注文日 2026年1月14日 Amazonギフト券 5,000円分"

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL():   listPage(modernListURL(), orderA),
		detailURL(orderA): detailPage(orderA, text),
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusGiftCard {
		t.Fatalf("Expected gift_card record, got %+v", sink.records)
	}
}

func TestExtractLegacyFallback(t *testing.T) {
	orderA := "249-1111111-0000001"
	legacyList := base + "/gp/css/order-history?orderFilter=month-2026-01"
	legacyDetail := base + "/gp/css/summary/edit.html?orderID=" + orderA

	legacyPage := &webpage.Page{
		URL: legacyList, Title: "注文履歴", Text: "注文履歴",
		Links: []webpage.Link{{Text: "領収書／購入明細書", URL: legacyDetail, Position: 0}},
	}

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		// Modern URL serves the legacy markup for this account pool.
		modernListURL(): legacyPage,
		legacyDetail: {
			URL:   legacyDetail,
			Title: "注文の詳細",
			Text:  "注文日： 2026年1月14日 お支払い方法: クレジットカード ご請求金額 ¥3,500",
			Links: []webpage.Link{{Text: "購入明細書", URL: base + "/documents/summary?orderID=" + orderA, Position: 0}},
		},
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("Emitted %d records, want 1", len(sink.records))
	}
	if sink.records[0].Status != models.StatusOK {
		t.Errorf("Status = %s (reason %s)", sink.records[0].Status, sink.records[0].ErrorReason)
	}
	if sink.records[0].TotalSource != models.TotalSourceBilling {
		t.Errorf("TotalSource = %s", sink.records[0].TotalSource)
	}
}

func TestExtractLoginPageIsFatalWithoutWaiter(t *testing.T) {
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL(): {
			URL:   base + "/ap/signin",
			Title: "ログイン",
			Text:  "パスワードを入力",
		},
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink)
	harvestErr, ok := harvesterrors.AsHarvestError(err)
	if !ok || harvestErr.Code != harvesterrors.CodeAuthRequired {
		t.Fatalf("Expected AUTH_REQUIRED, got %v", err)
	}
}

func TestExtractAuthHandoffResolvesLogin(t *testing.T) {
	orderA := "249-1111111-0000001"
	loginPage := &webpage.Page{URL: base + "/ap/signin", Title: "ログイン", Text: "パスワードを入力"}

	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL(): loginPage,
	}}

	waited := false
	waiter := func(ctx context.Context) error {
		waited = true
		// Authentication completed externally; the list now renders.
		nav.pages[modernListURL()] = listPage(modernListURL(), orderA)
		nav.pages[detailURL(orderA)] = detailPage(orderA, standardDetailText("2026年1月14日"))
		return nil
	}

	adapter := New(nav, Config{BaseURL: base, AuthWaiter: waiter}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !waited {
		t.Error("Auth waiter was never invoked")
	}
	if len(sink.records) != 1 || sink.records[0].Status != models.StatusOK {
		t.Fatalf("Expected one ok record after handoff, got %+v", sink.records)
	}
}

func TestExtractEmptyMonth(t *testing.T) {
	nav := &fakeNavigator{pages: map[string]*webpage.Page{
		modernListURL(): {URL: modernListURL(), Title: "注文履歴", Text: "注文履歴 該当する注文はありません"},
		base + "/gp/css/order-history?orderFilter=month-2026-01": {
			URL: base + "/gp/css/order-history", Title: "注文履歴", Text: "注文履歴",
		},
	}}

	adapter := New(nav, Config{BaseURL: base}, nil)
	sink := &collectSink{skip: map[string]bool{}}

	if err := adapter.Extract(context.Background(), providers.RunParams{Year: 2026, Month: time.January}, sink); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(sink.records) != 0 {
		t.Errorf("Emitted %d records from an empty month", len(sink.records))
	}
}
