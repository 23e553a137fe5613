package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"iapkeeper/internal/models"
)

const sample = `
server:
  address: ":9000"
log:
  level: debug
store:
  non_renewable_duration: 168h
  locale: de-DE
vault:
  backend: memory
platform:
  kind: sandbox
network:
  address: "example.com:443"
  interval: 15s
products:
  - id: weekly
    kind: autoRenewableSubscription
    price_minor: 299
    currency: usd
    period: weekly
  - id: superpack
    kind: non_consumable
    display_name: Super pack
    price_minor: 999
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IAP_ADDR", ":7000")
	t.Setenv("IAP_VAULT_BACKEND", "keyring")
	t.Setenv("IAP_SYNC_TIMEOUT", "5s")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Vault.Backend != "keyring" {
		t.Fatalf("backend = %q", cfg.Vault.Backend)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.Store.NonRenewableDuration != 7*24*time.Hour || cfg.Store.Locale != "de-DE" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Store.SyncTimeout != 5*time.Second || cfg.Store.EventBuffer != 16 {
		t.Fatalf("store env/defaults = %+v", cfg.Store)
	}
	if cfg.Network.Interval.Seconds() != 15 {
		t.Fatalf("interval = %v", cfg.Network.Interval)
	}
	if cfg.Platform.SandboxSecret == "" || cfg.Namespace != "iap" {
		t.Fatalf("defaults not applied: %+v", cfg.Platform)
	}

	products, items, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(products) != 2 || len(items) != 2 {
		t.Fatalf("catalog size = %d/%d", len(products), len(items))
	}
	if products[0].Currency != "USD" || products[0].Kind != models.KindAutoRenewableSubscription {
		t.Fatalf("weekly = %+v", products[0])
	}
	if products[1].DisplayName != "Super pack" || products[1].Currency != "USD" {
		t.Fatalf("superpack = %+v", products[1])
	}
	if got := cfg.Subscriptions()["weekly"]; got != models.PeriodWeekly {
		t.Fatalf("period = %q", got)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]string{
		"unknown kind":      "products:\n  - id: a\n    kind: gadget\n",
		"duplicate":         "products:\n  - id: a\n    kind: consumable\n  - id: a\n    kind: consumable\n",
		"missing id":        "products:\n  - kind: consumable\n",
		"bad period":        "products:\n  - id: a\n    kind: auto_renewable\n    period: daily\n",
		"unknown platform":  "platform:\n  kind: steam\n",
		"appstore no roots": "platform:\n  kind: appstore\n",
		"play no package":   "platform:\n  kind: googleplay\n",
		"negative timeout":  "store:\n  sync_timeout: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Platform.Kind != PlatformSandbox || cfg.Server.Address != ":4001" {
		t.Fatalf("defaults = %+v", cfg)
	}
}
