// Package run orchestrates one harvest: session handling, provider
// passes, materialization, ledgering, and the end-of-run coverage
// decision.
//
// Providers run sequentially, one order detail page at a time, because
// the marketplaces rate-limit parallel sessions from one account. Only
// two things abort a run once started: a failed authentication handoff
// and the coverage gate.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"receipt-reconciler/internal/classify"
	"receipt-reconciler/internal/ledger"
	"receipt-reconciler/internal/materialize"
	"receipt-reconciler/internal/models"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/session"
	"receipt-reconciler/internal/totals"
	"receipt-reconciler/internal/webpage"
	harvesterrors "receipt-reconciler/pkg/errors"
	"receipt-reconciler/pkg/logger"
)

// Config is the shared run configuration.
type Config struct {
	Year        int
	Month       time.Month
	ReceiptName string

	LedgerPath string
	OutputDir  string
	DebugDir   string

	// MinPDFSuccessRate is the coverage threshold; zero disables the
	// gate.
	MinPDFSuccessRate float64
}

// Validate checks the run configuration.
func (c Config) Validate() error {
	if c.Year < 2000 || c.Year > 2100 {
		return harvesterrors.ConfigurationError(harvesterrors.CodeInvalidConfig, "year", c.Year)
	}
	if c.Month < time.January || c.Month > time.December {
		return harvesterrors.ConfigurationError(harvesterrors.CodeInvalidConfig, "month", int(c.Month))
	}
	if c.LedgerPath == "" {
		return harvesterrors.ConfigurationError(harvesterrors.CodeMissingConfig, "ledger path", nil)
	}
	if c.OutputDir == "" {
		return harvesterrors.ConfigurationError(harvesterrors.CodeMissingConfig, "output directory", nil)
	}
	if c.MinPDFSuccessRate < 0 || c.MinPDFSuccessRate > 1 {
		return harvesterrors.ConfigurationError(harvesterrors.CodeInvalidConfig, "min_pdf_success_rate", c.MinPDFSuccessRate)
	}
	return nil
}

// ProviderRun is one provider's wiring for the pass: the adapter, the
// navigator it drives, and the session store that owns its state file.
type ProviderRun struct {
	Adapter   providers.Adapter
	Navigator webpage.Navigator

	// Store persists the session once after the pass; nil skips
	// persistence.
	Store *session.Store
}

type stateExporter interface {
	ExportState(*session.State) error
}

type stateImporter interface {
	ImportState(*session.State) error
}

// Runner executes harvest runs.
type Runner struct {
	config Config
	log    logger.Logger
}

// NewRunner creates a runner.
func NewRunner(config Config, log logger.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Runner{
		config: config,
		log:    log.WithComponent("runner"),
	}, nil
}

// Execute runs every provider pass, then applies the coverage gate.
// The returned summary is always non-nil when the passes completed,
// including a failed gate; the error is non-nil for fatal conditions
// (authentication, ledger, coverage).
func (r *Runner) Execute(ctx context.Context, runs []ProviderRun) (*ledger.RunSummary, error) {
	r.log = r.log.WithField("run_id", uuid.NewString())

	led, err := ledger.Open(r.config.LedgerPath, r.log)
	if err != nil {
		return nil, err
	}
	defer led.Close()

	params := providers.RunParams{
		Year:        r.config.Year,
		Month:       r.config.Month,
		ReceiptName: r.config.ReceiptName,
	}

	for _, pr := range runs {
		if err := r.runProvider(ctx, pr, params, led); err != nil {
			return nil, err
		}
	}

	stats := ledger.Collect(led.Records())
	summary := ledger.Summarize(stats, r.config.MinPDFSuccessRate)
	return summary, stats.Gate(r.config.MinPDFSuccessRate)
}

func (r *Runner) runProvider(ctx context.Context, pr ProviderRun, params providers.RunParams, led *ledger.ResumeLedger) error {
	log := r.log.WithProvider(pr.Adapter.Name())
	log.WithFields(logger.Fields{
		"year":  params.Year,
		"month": int(params.Month),
	}).Info("Starting provider pass")

	mat, err := materialize.New(pr.Navigator, materialize.Config{
		OutputDir: r.config.OutputDir,
		DebugDir:  r.config.DebugDir,
	}, log)
	if err != nil {
		return err
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: fmt.Sprintf("harvest %s %04d-%02d", pr.Adapter.Name(), params.Year, int(params.Month)),
		Logger:    log,
	})

	sink := &ledgerSink{
		ctxLedger:    led,
		materializer: mat,
		progress:     progress,
		log:          log,
	}

	if err := pr.Adapter.Extract(ctx, params, sink); err != nil {
		return err
	}
	progress.Complete()

	if len(sink.failures) > 0 {
		failureSummary := harvesterrors.NewErrorSummary(sink.failures)
		log.WithField("failures", failureSummary.Error()).
			Warn("Provider pass lost orders to per-order failures")
		if failureSummary.HasCode(harvesterrors.CodeNetworkError) {
			log.Warn("Pass hit network failures; check connectivity before the next run")
		}
	}

	// Session state is saved once per pass, not per order.
	if pr.Store != nil {
		if exporter, ok := pr.Navigator.(stateExporter); ok {
			state, err := pr.Store.Load()
			if err != nil {
				state = &session.State{}
			}
			if err := exporter.ExportState(state); err == nil {
				if err := pr.Store.Save(state); err != nil {
					log.WithError(err).Warn("Failed to persist session state")
				}
			}
		}
	}
	return nil
}

// ledgerSink connects an adapter to the materializer and the resume
// ledger.
type ledgerSink struct {
	ctxLedger    *ledger.ResumeLedger
	materializer *materialize.Materializer
	progress     *logger.ProgressTracker
	log          logger.Logger

	// failures collects per-order materialization errors for the
	// pass-end summary.
	failures []*harvesterrors.HarvestError
}

// ShouldSkip implements providers.Sink.
func (s *ledgerSink) ShouldSkip(key string) bool {
	return s.ctxLedger.Contains(key)
}

// Emit implements providers.Sink. Per-order materialization failures
// end up in the record; only fatal errors propagate and abort the
// adapter pass.
func (s *ledgerSink) Emit(ctx context.Context, rec *models.OrderRecord) error {
	if rec.Status == models.StatusOK {
		if err := s.materializeDocuments(ctx, rec); err != nil {
			if harvestErr, ok := harvesterrors.AsHarvestError(err); ok && harvestErr.IsFatal() {
				return err
			}
			if errors.Is(err, materialize.ErrNoReceiptFlow) {
				rec.Status = models.StatusNoReceipt
			} else {
				providers.ApplyError(rec, err)
				if harvestErr, ok := harvesterrors.AsHarvestError(err); ok {
					s.failures = append(s.failures, harvestErr)
				}
			}
		} else {
			// Invoice totals surface during materialization; fold them
			// back into the record before it is ledgered.
			totals.ReconcileDocuments(rec)
			if rec.TotalConflict {
				s.log.WithFields(logger.Fields{
					"order_id":     rec.OrderID,
					"total_source": string(rec.TotalSource),
				}).Warn("Billing total disagrees with the invoice sum")
			}
		}
	}

	s.progress.Increment()
	return s.ctxLedger.Append(rec)
}

// materializeDocuments materializes the order's planned documents. A
// secondary document's failure is logged but does not fail the order;
// the primary's failure does.
func (s *ledgerSink) materializeDocuments(ctx context.Context, rec *models.OrderRecord) error {
	for i := range rec.Documents {
		doc := &rec.Documents[i]
		markers := classify.RequiredMarkers(doc.DocType)

		err := s.materializer.Materialize(ctx, rec, doc, markers)
		if err == nil {
			continue
		}
		if doc.Primary {
			return err
		}
		if harvestErr, ok := harvesterrors.AsHarvestError(err); ok && harvestErr.IsFatal() {
			return err
		}
		s.log.WithError(err).WithFields(logger.Fields{
			"order_id": rec.OrderID,
			"doc_type": string(doc.DocType),
		}).Warn("Secondary document failed to materialize")
	}
	return nil
}

// NewAuthWaiter builds the AuthWaiter adapters block on when a page
// resolves to login. The waiter polls the probe URL under the bounded
// handoff; an external actor completes login and refreshes the session
// file, which is re-imported before every probe.
func NewAuthWaiter(nav webpage.Navigator, store *session.Store, probeURL string, config session.HandoffConfig, log logger.Logger) providers.AuthWaiter {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(ctx context.Context) error {
		handoff := session.NewHandoff(config)

		validate := func(ctx context.Context) (bool, error) {
			if store != nil {
				if state, err := store.Load(); err == nil {
					if importer, ok := nav.(stateImporter); ok {
						if err := importer.ImportState(state); err != nil {
							log.WithError(err).Debug("Session re-import failed")
						}
					}
				}
			}
			page, err := nav.Get(ctx, probeURL)
			if err != nil {
				return false, err
			}
			return classify.ClassifyPage(page) != classify.PageLogin, nil
		}

		state, err := handoff.Wait(ctx, validate)
		if err != nil {
			return err
		}
		if state != session.StateAuthenticated {
			return fmt.Errorf("authentication handoff timed out")
		}
		return nil
	}
}
