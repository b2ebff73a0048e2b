// Package config builds component configurations from CLI inputs.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"receipt-reconciler/internal/matcher"
	"receipt-reconciler/internal/providers"
	"receipt-reconciler/internal/providers/amazon"
	"receipt-reconciler/internal/providers/freee"
	"receipt-reconciler/internal/providers/rakuten"
	"receipt-reconciler/internal/providers/subscription"
	"receipt-reconciler/internal/run"
	"receipt-reconciler/internal/session"
	"receipt-reconciler/internal/webpage"
	"receipt-reconciler/pkg/logger"
)

// CreateLoggerConfig creates the logger configuration from CLI flags.
// Verbose overrides the level down to debug.
func CreateLoggerConfig(level, format string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()
	if level != "" {
		config.Level = logger.Level(level)
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(format)
	}
	return config
}

// CreateRunConfig creates the harvest run configuration.
func CreateRunConfig(year, month int, receiptName, ledgerPath, outputDir, debugDir string, minRate float64) run.Config {
	if ledgerPath == "" {
		ledgerPath = filepath.Join(outputDir, "ledger.jsonl")
	}
	return run.Config{
		Year:              year,
		Month:             time.Month(month),
		ReceiptName:       receiptName,
		LedgerPath:        ledgerPath,
		OutputDir:         outputDir,
		DebugDir:          debugDir,
		MinPDFSuccessRate: minRate,
	}
}

// CreateMatchConfig creates the matching configuration with CLI overrides.
func CreateMatchConfig(minScore, maxCandidates, dateWindowDays int) *matcher.MatchConfig {
	config := matcher.DefaultMatchConfig()
	if minScore > 0 {
		config.MinScore = minScore
	}
	if maxCandidates > 0 {
		config.MaxCandidates = maxCandidates
	}
	if dateWindowDays > 0 {
		config.DateWindowDays = dateWindowDays
	}
	return config
}

// ProviderOptions carries the shared inputs for building provider runs.
type ProviderOptions struct {
	Year  int
	Month time.Month

	// SessionDir holds one session state file per provider.
	SessionDir string

	// AuthHandoff enables the bounded wait for an external login when a
	// session has expired; disabled, an expired session fails the run.
	AuthHandoff bool
	AuthTimeout time.Duration

	// Base URL overrides, mainly for testing against fixtures.
	AmazonBaseURL  string
	RakutenBaseURL string
	FreeeBaseURL   string
}

// CreateProviderRuns builds the adapter, navigator, and session store
// for each requested provider. Subscription portals are requested as
// "portal:<profile>".
func CreateProviderRuns(names []string, opts ProviderOptions, log logger.Logger) ([]run.ProviderRun, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	var runs []run.ProviderRun
	for _, name := range names {
		pr, err := createProviderRun(strings.TrimSpace(name), opts, log)
		if err != nil {
			return nil, err
		}
		runs = append(runs, pr)
	}
	return runs, nil
}

func createProviderRun(name string, opts ProviderOptions, log logger.Logger) (run.ProviderRun, error) {
	if profileName, ok := strings.CutPrefix(name, "portal:"); ok {
		return createPortalRun(profileName, opts, log)
	}

	var baseURL, probePath string
	switch name {
	case "amazon":
		baseURL = opts.AmazonBaseURL
		if baseURL == "" {
			baseURL = "https://www.amazon.co.jp"
		}
		probePath = "/your-orders/orders"
	case "rakuten":
		baseURL = opts.RakutenBaseURL
		if baseURL == "" {
			baseURL = "https://order.my.rakuten.co.jp"
		}
		probePath = "/purchase-history/order-list"
	case "freee":
		baseURL = opts.FreeeBaseURL
		if baseURL == "" {
			baseURL = "https://secure.ledger.example.com"
		}
		probePath = "/billing/history"
	default:
		return run.ProviderRun{}, fmt.Errorf("unknown provider %q (expected amazon, rakuten, freee, or portal:<profile>)", name)
	}

	nav, store, waiter, err := buildSession(name, baseURL, baseURL+probePath, opts, log)
	if err != nil {
		return run.ProviderRun{}, err
	}

	var adapter providers.Adapter
	switch name {
	case "amazon":
		adapter = amazon.New(nav, amazon.Config{BaseURL: baseURL, AuthWaiter: waiter}, log)
	case "rakuten":
		adapter = rakuten.New(nav, rakuten.Config{BaseURL: baseURL, AuthWaiter: waiter}, log)
	case "freee":
		adapter = freee.New(nav, freee.Config{BaseURL: baseURL, AuthWaiter: waiter}, log)
	}

	return run.ProviderRun{Adapter: adapter, Navigator: nav, Store: store}, nil
}

func createPortalRun(profileName string, opts ProviderOptions, log logger.Logger) (run.ProviderRun, error) {
	profile, err := GetPortalProfile(profileName)
	if err != nil {
		return run.ProviderRun{}, err
	}

	billingURL := fmt.Sprintf(profile.BillingURLFormat, opts.Year, int(opts.Month))
	parsed, err := url.Parse(billingURL)
	if err != nil {
		return run.ProviderRun{}, fmt.Errorf("portal %s: invalid billing URL %s: %w", profileName, billingURL, err)
	}
	baseURL := parsed.Scheme + "://" + parsed.Host

	nav, store, waiter, err := buildSession(profile.Name, baseURL, billingURL, opts, log)
	if err != nil {
		return run.ProviderRun{}, err
	}

	adapter, err := subscription.New(nav, subscription.Config{Profile: profile, AuthWaiter: waiter}, log)
	if err != nil {
		return run.ProviderRun{}, err
	}
	return run.ProviderRun{Adapter: adapter, Navigator: nav, Store: store}, nil
}

// buildSession creates the navigator seeded from the provider's session
// file, plus the store and optional auth waiter that keep it alive.
func buildSession(provider, baseURL, probeURL string, opts ProviderOptions, log logger.Logger) (*webpage.Client, *session.Store, providers.AuthWaiter, error) {
	var store *session.Store
	var state *session.State
	if opts.SessionDir != "" {
		var err error
		store, err = session.NewStore(filepath.Join(opts.SessionDir, provider+".json"), provider)
		if err != nil {
			return nil, nil, nil, err
		}
		state, err = store.Load()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load %s session: %w", provider, err)
		}
	}

	nav, err := webpage.NewClient(webpage.DefaultClientConfig(baseURL), state)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create %s navigator: %w", provider, err)
	}

	var waiter providers.AuthWaiter
	if opts.AuthHandoff {
		handoffConfig := session.DefaultHandoffConfig()
		if opts.AuthTimeout > 0 {
			handoffConfig.Timeout = opts.AuthTimeout
		}
		waiter = run.NewAuthWaiter(nav, store, probeURL, handoffConfig, log)
	}
	return nav, store, waiter, nil
}

// GetPortalProfiles returns the built-in subscription portal profiles.
func GetPortalProfiles() []subscription.Profile {
	return []subscription.Profile{
		{
			Name:               "adobe",
			BillingURLFormat:   "https://account.adobe.com/billing/history?year=%04d&month=%02d",
			InvoiceLinkMarkers: []string{"/invoices/", "請求書"},
			DateLabels:         []string{"請求日", "Invoice date"},
			BillingLabels:      []string{"請求金額", "Amount billed"},
			SummaryLabels:      []string{"合計", "Total"},
		},
		{
			Name:               "github",
			BillingURLFormat:   "https://github.com/settings/billing/payment_history?year=%04d&month=%02d",
			InvoiceLinkMarkers: []string{"/receipts/", "receipt"},
			DateLabels:         []string{"Date", "請求日"},
			BillingLabels:      []string{"Amount", "請求金額"},
			SummaryLabels:      []string{"Total", "合計"},
		},
		{
			Name:               "zoom",
			BillingURLFormat:   "https://zoom.us/billing/history?year=%04d&month=%02d",
			InvoiceLinkMarkers: []string{"/invoice/", "invoice"},
			DateLabels:         []string{"Invoice Date", "請求日"},
			BillingLabels:      []string{"請求金額", "Amount Due"},
			SummaryLabels:      []string{"Total", "合計金額"},
		},
	}
}

// GetPortalProfile returns a portal profile by name.
func GetPortalProfile(name string) (subscription.Profile, error) {
	for _, profile := range GetPortalProfiles() {
		if profile.Name == name {
			return profile, nil
		}
	}
	return subscription.Profile{}, fmt.Errorf("unknown portal profile %q", name)
}
