// Package materialize turns resolved document references into
// persisted, validated PDF files.
//
// Three strategies are tried in preference order: direct download of a
// file endpoint, an intercepted native download (for navigators that
// support it), and render-to-PDF of the document's own page. All three
// share one validation gate: a produced file must start with the PDF
// magic bytes, and a rendered page must pass the content assertion for
// its document type.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	harvesterrors "receipt-reconciler/pkg/errors"
	"receipt-reconciler/pkg/logger"
)

// pdfMagic is the byte-level signature every accepted file must carry.
var pdfMagic = []byte("%PDF-")

// documentTotalLabels are the amount labels read off a rendered
// document page, most specific first.
var documentTotalLabels = []string{"ご請求金額", "請求金額", "ご請求額", "合計金額", "注文合計", "合計", "Total"}

// ErrNoReceiptFlow marks the known-benign outcome where the document
// page is not a receipt flow at all (e.g. only a shipping-status page
// exists for this order type). Adapters downgrade it to no_receipt
// instead of recording an error.
var ErrNoReceiptFlow = errors.New("order has no purchasable receipt flow")

// Interceptor is the optional navigator capability for capturing a
// native file-download event triggered by activating a link.
type Interceptor interface {
	InterceptDownload(ctx context.Context, url string) ([]byte, error)
}

// Config configures the materializer.
type Config struct {
	// OutputDir receives the validated PDFs.
	OutputDir string
	// DebugDir receives page snapshots on failure only; empty disables
	// snapshots.
	DebugDir string
}

// Materializer persists documents through the configured navigator.
type Materializer struct {
	nav    webpage.Navigator
	config Config
	log    logger.Logger
}

// New creates a materializer writing into the configured output directory.
func New(nav webpage.Navigator, config Config, log logger.Logger) (*Materializer, error) {
	if strings.TrimSpace(config.OutputDir) == "" {
		return nil, fmt.Errorf("materializer output directory cannot be empty")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Materializer{
		nav:    nav,
		config: config,
		log:    log.WithComponent("materializer"),
	}, nil
}

// Materialize produces a validated PDF for the document and sets its
// PDFPath. requiredMarkers are the content-assertion texts for the
// render strategy. Failures return a per-order HarvestError (or
// ErrNoReceiptFlow for the benign downgrade); they never abort the run.
func (m *Materializer) Materialize(ctx context.Context, order *models.OrderRecord, doc *models.Document, requiredMarkers []string) error {
	filename := BuildFileName(order, doc)

	// Strategy 1: direct download of a file endpoint.
	data, contentType, err := m.nav.Download(ctx, doc.DocURL)
	if err == nil && looksLikePDF(data, contentType) {
		if err := ValidatePDF(data); err != nil {
			return harvesterrors.DocumentValidation("bad_signature", doc.DocURL, err)
		}
		return m.save(doc, filename, data)
	}
	if err != nil {
		m.log.WithError(err).WithField("doc_url", doc.DocURL).
			Debug("Direct download unavailable, trying next strategy")
	}

	// Strategy 2: intercepted native download, when the navigator
	// supports capture.
	if interceptor, ok := m.nav.(Interceptor); ok {
		data, err := interceptor.InterceptDownload(ctx, doc.DocURL)
		if err == nil {
			if err := ValidatePDF(data); err != nil {
				return harvesterrors.DocumentValidation("bad_signature", doc.DocURL, err)
			}
			return m.save(doc, filename, data)
		}
		m.log.WithError(err).WithField("doc_url", doc.DocURL).
			Debug("Download interception failed, trying render")
	}

	// Strategy 3: render the document's own page to PDF, after
	// asserting the page really is the expected document.
	page, err := m.nav.Get(ctx, doc.DocURL)
	if err != nil {
		return harvesterrors.NetworkError(harvesterrors.CodeNetworkError, doc.DocURL, err)
	}

	switch classify.ClassifyDocumentPage(page, requiredMarkers) {
	case classify.PageLogin:
		return harvesterrors.AuthRequired(order.Source, nil)
	case classify.PageShippingStatusOnly:
		return ErrNoReceiptFlow
	case classify.PageWrongDocument:
		m.snapshot(order, page)
		return harvesterrors.DocumentValidation("wrong_page", doc.DocURL, nil)
	}

	// The document page is the one place its own total is visible;
	// capture it while the text is in hand.
	if doc.TotalYen == nil {
		doc.TotalYen = totals.ExtractLabeledYen(page.Text, documentTotalLabels...)
	}

	rendered, err := m.nav.RenderPDF(ctx, doc.DocURL)
	if errors.Is(err, webpage.ErrRenderUnsupported) {
		return harvesterrors.DocumentValidation("render_unavailable", doc.DocURL, err)
	}
	if err != nil {
		return harvesterrors.DocumentValidation("render_failed", doc.DocURL, err)
	}
	if err := ValidatePDF(rendered); err != nil {
		return harvesterrors.DocumentValidation("bad_signature", doc.DocURL, err)
	}
	return m.save(doc, filename, rendered)
}

// ValidatePDF enforces the byte-level acceptance gate.
func ValidatePDF(data []byte) error {
	if len(data) < len(pdfMagic) {
		return fmt.Errorf("file too short to be a PDF (%d bytes)", len(data))
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return fmt.Errorf("missing %%PDF- signature")
	}
	return nil
}

func looksLikePDF(data []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(data, pdfMagic)
}

func (m *Materializer) save(doc *models.Document, filename string, data []byte) error {
	if err := os.MkdirAll(m.config.OutputDir, 0o755); err != nil {
		return harvesterrors.SaveFailed(m.config.OutputDir, err)
	}
	path := filepath.Join(m.config.OutputDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return harvesterrors.SaveFailed(path, err)
	}
	doc.PDFPath = path
	m.log.WithFields(logger.Fields{
		"path":  path,
		"bytes": len(data),
	}).Debug("Document saved")
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// BuildFileName names a materialized PDF deterministically as
// {order_date}_{provider}_{order_id}_{total_yen}.pdf so evidence can be
// located without opening the ledger. Secondary documents get the doc
// type as a suffix. Unresolved parts degrade to "unknown" rather than
// producing an unstable name.
func BuildFileName(order *models.OrderRecord, doc *models.Document) string {
	date := models.FormatDate(order.OrderDate)
	if date == "" {
		date = "unknown"
	}
	orderID := sanitizeFilePart(order.OrderID)
	if orderID == "" {
		orderID = "unknown"
	}
	total := "unknown"
	if order.TotalYen != nil {
		total = fmt.Sprintf("%d", *order.TotalYen)
	}

	name := fmt.Sprintf("%s_%s_%s_%s", date, sanitizeFilePart(order.Source), orderID, total)
	if !doc.Primary {
		name += "_" + string(doc.DocType)
	}
	return name + ".pdf"
}

func sanitizeFilePart(s string) string {
	return strings.Trim(unsafeFileChars.ReplaceAllString(s, "-"), "-")
}
