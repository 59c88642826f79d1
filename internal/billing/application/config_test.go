package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	billing "rental-billing/internal/billing/domain"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BILLING_CONFIG", "")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("INVOICE_WORK_DIR", "/tmp/invoice")
	t.Setenv("INVOICE_MAX_ROWS_PER_FILE", "250")
	t.Setenv("RECONCILE_CHUNK_SIZE", "not-a-number")
	t.Setenv("INVOICE_DAILY_AT", "06:30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.Driver != DriverMongo || cfg.Store.MongoDatabase != "elevkontrakt" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Invoice.MaxRowsPerFile != 250 || cfg.Reconcile.ChunkSize != 400 {
		t.Fatalf("unexpected numbers %d %d", cfg.Invoice.MaxRowsPerFile, cfg.Reconcile.ChunkSize)
	}
	if cfg.Invoice.FinishedDir != filepath.Join("/tmp/invoice", "finished") {
		t.Fatalf("unexpected finished dir %s", cfg.Invoice.FinishedDir)
	}
	if cfg.Schedule.InvoiceDailyAt != "06:30" || !cfg.Reconcile.Cutover.Equal(DefaultCutover) {
		t.Fatalf("unexpected schedule/cutover %+v %v", cfg.Schedule, cfg.Reconcile.Cutover)
	}
}

func TestLoadConfigYamlOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	content := `
store:
  driver: postgres
  postgres_dsn: postgres://billing@localhost/billing
invoice:
  max_rows_per_file: 100
  customer_import_grace_days: 0
schools:
  "974568098": Bamble vgs
reconcile:
  cutover: 2025-11-01T00:00:00Z
  chunk_size: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BILLING_CONFIG", path)
	t.Setenv("MONGODB_URI", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Invoice.MaxRowsPerFile != 100 || cfg.Invoice.CustomerImportGraceDays != 0 {
		t.Fatalf("yaml overlay not applied: %+v", cfg)
	}
	if cfg.Invoice.OwnerCode != "39006" {
		t.Fatalf("defaults must survive the overlay, got %q", cfg.Invoice.OwnerCode)
	}
	if !cfg.Reconcile.Cutover.Equal(time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)) || cfg.Reconcile.ChunkSize != 50 {
		t.Fatalf("unexpected reconcile config %+v", cfg.Reconcile)
	}
	if cfg.HeaderInfoFor("974568098") != "Bamble vgs" {
		t.Fatalf("unexpected header info")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(t.TempDir())
	valid.Store = StoreConfig{Driver: DriverMongo, MongoURI: "mongodb://localhost"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	cases := map[string]func(*Config){
		"unknown driver":  func(c *Config) { c.Store.Driver = "sqlite" },
		"missing dsn":     func(c *Config) { c.Store = StoreConfig{Driver: DriverPostgres} },
		"bad month":       func(c *Config) { c.Invoice.SchoolYearStartMonth = 13 },
		"negative max":    func(c *Config) { c.Invoice.MaxRowsPerFile = -1 },
		"zero chunk":      func(c *Config) { c.Reconcile.ChunkSize = 0 },
		"dashed system":   func(c *Config) { c.Serial.System = "J-OT" },
		"bad schedule":    func(c *Config) { c.Schedule.ReconcileDailyAt = "25:99" },
		"missing workdir": func(c *Config) { c.Invoice.WorkDir = "" },
		"text no verb":    func(c *Config) { c.Invoice.TextTemplate = "Leie av elev-PC" },
		"text two verbs":  func(c *Config) { c.Invoice.TextTemplate = "%s - %s" },
		"text other verb": func(c *Config) { c.Invoice.TextTemplate = "Faktura %d for %s" },
	}
	percent := valid
	percent.Invoice.TextTemplate = "Faktura for %s - 100%% leie"
	if err := percent.Validate(); err != nil {
		t.Fatalf("escaped percent must be accepted: %v", err)
	}

	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCollectionName(t *testing.T) {
	store := StoreConfig{
		ContractsCollection:     "contracts",
		MockContractsCollection: "contracts_mock",
		SerialNumbersCollection: "serialnumbers",
		CountersCollection:      "counters",
		SettingsCollection:      "settings",
	}
	name, err := store.CollectionName(billing.CollectionContracts)
	if err != nil || name != "contracts" {
		t.Fatalf("got %q %v", name, err)
	}
	store.UseMockCollection = true
	if name, _ := store.CollectionName(billing.CollectionContracts); name != "contracts_mock" {
		t.Fatalf("mock flag must redirect contracts, got %q", name)
	}
	if _, err := store.CollectionName(billing.Collection("invoices")); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
	store.SettingsCollection = ""
	if _, err := store.CollectionName(billing.CollectionSettings); err == nil {
		t.Fatalf("expected error for unnamed collection")
	}
}

func TestHeaderInfoFallsBackToDefault(t *testing.T) {
	cfg := testConfig(t.TempDir())
	if got := cfg.HeaderInfoFor("000000000"); got != cfg.Invoice.DefaultHeaderInfo {
		t.Fatalf("got %q", got)
	}
}
