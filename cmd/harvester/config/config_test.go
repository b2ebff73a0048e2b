package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"receipt-reconciler/internal/ledger"
)

func TestCreateRunConfigDefaultsLedgerPath(t *testing.T) {
	cfg := CreateRunConfig(2026, 1, "", "", "harvest", "", ledger.DefaultMinPDFSuccessRate)
	if cfg.LedgerPath != filepath.Join("harvest", "ledger.jsonl") {
		t.Errorf("LedgerPath = %s", cfg.LedgerPath)
	}
	if cfg.Month != time.January {
		t.Errorf("Month = %v", cfg.Month)
	}

	explicit := CreateRunConfig(2026, 1, "", "/tmp/ledger.jsonl", "harvest", "", 0.8)
	if explicit.LedgerPath != "/tmp/ledger.jsonl" {
		t.Errorf("Explicit ledger path overridden: %s", explicit.LedgerPath)
	}
}

func TestCreateMatchConfigOverrides(t *testing.T) {
	cfg := CreateMatchConfig(0, 0, 0)
	defaults := CreateMatchConfig(0, 0, 0)
	if cfg.MinScore != defaults.MinScore || cfg.MaxCandidates != defaults.MaxCandidates {
		t.Error("Zero overrides changed the defaults")
	}

	cfg = CreateMatchConfig(80, 5, 14)
	if cfg.MinScore != 80 || cfg.MaxCandidates != 5 || cfg.DateWindowDays != 14 {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
}

func TestGetPortalProfile(t *testing.T) {
	profile, err := GetPortalProfile("adobe")
	if err != nil {
		t.Fatalf("GetPortalProfile failed: %v", err)
	}
	if err := profile.Validate(); err != nil {
		t.Errorf("Built-in profile invalid: %v", err)
	}
	if !strings.Contains(profile.BillingURLFormat, "%04d") {
		t.Errorf("BillingURLFormat has no year verb: %s", profile.BillingURLFormat)
	}

	if _, err := GetPortalProfile("nosuch"); err == nil {
		t.Error("Unknown profile did not error")
	}

	for _, p := range GetPortalProfiles() {
		if err := p.Validate(); err != nil {
			t.Errorf("Profile %s invalid: %v", p.Name, err)
		}
	}
}

func TestCreateProviderRuns(t *testing.T) {
	opts := ProviderOptions{
		Year:       2026,
		Month:      time.January,
		SessionDir: t.TempDir(),
	}

	runs, err := CreateProviderRuns([]string{"amazon", "rakuten", "freee", "portal:github"}, opts, nil)
	if err != nil {
		t.Fatalf("CreateProviderRuns failed: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("Runs = %d, want 4", len(runs))
	}

	names := []string{"amazon", "rakuten", "freee", "github"}
	for i, pr := range runs {
		if pr.Adapter.Name() != names[i] {
			t.Errorf("Adapter %d = %s, want %s", i, pr.Adapter.Name(), names[i])
		}
		if pr.Navigator == nil {
			t.Errorf("Adapter %s has no navigator", names[i])
		}
		if pr.Store == nil {
			t.Errorf("Adapter %s has no session store", names[i])
		}
	}

	if _, err := CreateProviderRuns([]string{"ebay"}, opts, nil); err == nil {
		t.Error("Unknown provider did not error")
	}
}
