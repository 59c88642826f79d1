package application

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	billing "rental-billing/internal/billing/domain"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// DefaultCutover is the first invoicedAt eligible for reconciliation. Earlier
// installments carry legacy serial numbers the ledger cannot resolve.
var DefaultCutover = time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)

// Config defines the billing service configuration.
type Config struct {
	HTTPAddr  string            `yaml:"http_addr"`
	LogMode   string            `yaml:"log_mode"`
	Store     StoreConfig       `yaml:"store"`
	Ledger    LedgerConfig      `yaml:"ledger"`
	Invoice   InvoiceConfig     `yaml:"invoice"`
	Schools   map[string]string `yaml:"schools"`
	Serial    SerialConfig      `yaml:"serial"`
	Reconcile ReconcileConfig   `yaml:"reconcile"`
	Schedule  ScheduleConfig    `yaml:"schedule"`
	Notify    NotifyConfig      `yaml:"notify"`
	Reports   ReportsConfig     `yaml:"reports"`
}

// StoreConfig selects and addresses the contract store.
type StoreConfig struct {
	Driver                  string `yaml:"driver"`
	MongoURI                string `yaml:"mongo_uri"`
	MongoDatabase           string `yaml:"mongo_database"`
	ContractsCollection     string `yaml:"contracts_collection"`
	MockContractsCollection string `yaml:"mock_contracts_collection"`
	SerialNumbersCollection string `yaml:"serial_numbers_collection"`
	CountersCollection      string `yaml:"counters_collection"`
	SettingsCollection      string `yaml:"settings_collection"`
	UseMockCollection       bool   `yaml:"use_mock_collection"`
	PostgresDSN             string `yaml:"postgres_dsn"`
}

// LedgerConfig addresses the ledger API.
type LedgerConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	FileType       string `yaml:"file_type"`
}

// InvoiceConfig holds the fixed invoice row values and file handling.
type InvoiceConfig struct {
	OwnerCode               string `yaml:"owner_code"`
	ImportSystem            string `yaml:"import_system"`
	ProductCode             string `yaml:"product_code"`
	ServiceType             string `yaml:"service_type"`
	SOGroup                 string `yaml:"so_group"`
	ReadyToInvoice          string `yaml:"ready_to_invoice"`
	TextTemplate            string `yaml:"text_template"`
	DefaultHeaderInfo       string `yaml:"default_header_info"`
	HeaderTemplatePath      string `yaml:"header_template_path"`
	WorkDir                 string `yaml:"work_dir"`
	FinishedDir             string `yaml:"finished_dir"`
	MaxRowsPerFile          int    `yaml:"max_rows_per_file"`
	CustomerImportGraceDays int    `yaml:"customer_import_grace_days"`
	SchoolYearStartMonth    int    `yaml:"school_year_start_month"`
}

// SerialConfig configures serial number minting.
type SerialConfig struct {
	System string `yaml:"system"`
}

// ReconcileConfig configures payment reconciliation.
type ReconcileConfig struct {
	Cutover   time.Time `yaml:"cutover"`
	ChunkSize int       `yaml:"chunk_size"`
}

// ScheduleConfig defines daily trigger times in "15:04" UTC. Empty disables a job.
type ScheduleConfig struct {
	InvoiceDailyAt   string `yaml:"invoice_daily_at"`
	ReconcileDailyAt string `yaml:"reconcile_daily_at"`
}

// NotifyConfig addresses the run summary webhook.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ReportsConfig locates generated run reports.
type ReportsConfig struct {
	Dir string `yaml:"dir"`
}

// LoadConfig loads config from env, then overlays the yaml file named by BILLING_CONFIG.
func LoadConfig() (Config, error) {
	workDir := getenvDefault("INVOICE_WORK_DIR", filepath.FromSlash("var/ledger_files/invoice"))
	cfg := Config{
		HTTPAddr: getenvDefault("BILLING_HTTP_ADDR", ":8080"),
		LogMode:  getenvDefault("LOG_MODE", "prod"),
		Store: StoreConfig{
			Driver:                  getenvDefault("STORE_DRIVER", DriverMongo),
			MongoURI:                os.Getenv("MONGODB_URI"),
			MongoDatabase:           getenvDefault("MONGODB_DB_NAME", "elevkontrakt"),
			ContractsCollection:     getenvDefault("MONGODB_CONTRACTS_COLLECTION", "contracts"),
			MockContractsCollection: getenvDefault("MONGODB_CONTRACTS_MOCK_COLLECTION", "contracts_mock"),
			SerialNumbersCollection: getenvDefault("MONGODB_SERIAL_NUMBERS_COLLECTION", "serialnumbers"),
			CountersCollection:      getenvDefault("MONGODB_COUNTERS_COLLECTION", "counters"),
			SettingsCollection:      getenvDefault("MONGODB_SETTINGS_COLLECTION", "settings"),
			UseMockCollection:       getenvBoolDefault("BILLING_USE_MOCK_COLLECTION", false),
			PostgresDSN:             os.Getenv("PG_DSN"),
		},
		Ledger: LedgerConfig{
			BaseURL:        os.Getenv("LEDGER_BASE_URL"),
			Token:          os.Getenv("LEDGER_TOKEN"),
			TimeoutSeconds: getenvIntDefault("LEDGER_TIMEOUT_SECONDS", 30),
			FileType:       getenvDefault("LEDGER_INVOICE_FILE_TYPE", "SO01b_2"),
		},
		Invoice: InvoiceConfig{
			OwnerCode:               "39006",
			ImportSystem:            "Skoleutvikling - JOTNE",
			ProductCode:             "4651000",
			ServiceType:             "465",
			SOGroup:                 "465",
			ReadyToInvoice:          "1",
			TextTemplate:            "Faktura for %s - Leie av elev-PC",
			DefaultHeaderInfo:       "Spørsmål vedrørende faktura, ta kontakt med skolen din",
			HeaderTemplatePath:      os.Getenv("INVOICE_HEADER_TEMPLATE"),
			WorkDir:                 workDir,
			MaxRowsPerFile:          getenvIntDefault("INVOICE_MAX_ROWS_PER_FILE", 0),
			CustomerImportGraceDays: getenvIntDefault("INVOICE_CUSTOMER_IMPORT_GRACE_DAYS", 7),
			SchoolYearStartMonth:    int(billing.DefaultSchoolYearStart),
		},
		Serial: SerialConfig{System: getenvDefault("SERIAL_SYSTEM", billing.DefaultSystem)},
		Reconcile: ReconcileConfig{
			Cutover:   DefaultCutover,
			ChunkSize: getenvIntDefault("RECONCILE_CHUNK_SIZE", 400),
		},
		Notify: NotifyConfig{
			WebhookURL:     os.Getenv("TEAMS_WEBHOOK_URL"),
			TimeoutSeconds: 10,
		},
		Reports: ReportsConfig{Dir: getenvDefault("REPORTS_DIR", filepath.FromSlash("var/reports/billing"))},
	}

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.InvoiceDailyAt == "" {
		cfg.Schedule.InvoiceDailyAt = os.Getenv("INVOICE_DAILY_AT")
	}
	if cfg.Schedule.ReconcileDailyAt == "" {
		cfg.Schedule.ReconcileDailyAt = os.Getenv("RECONCILE_DAILY_AT")
	}
	if cfg.Invoice.FinishedDir == "" {
		cfg.Invoice.FinishedDir = filepath.Join(cfg.Invoice.WorkDir, "finished")
	}
	return cfg, cfg.Validate()
}

// Validate checks the values every job depends on.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("billing config: mongo uri required")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("billing config: postgres dsn required")
		}
	default:
		return fmt.Errorf("billing config: unknown store driver %q", c.Store.Driver)
	}
	if c.Invoice.WorkDir == "" {
		return errors.New("billing config: invoice work dir required")
	}
	if c.Invoice.MaxRowsPerFile < 0 {
		return errors.New("billing config: max rows per file must be >= 0")
	}
	if c.Invoice.SchoolYearStartMonth < 1 || c.Invoice.SchoolYearStartMonth > 12 {
		return errors.New("billing config: school year start month must be 1..12")
	}
	if !validTextTemplate(c.Invoice.TextTemplate) {
		return errors.New("billing config: invoice text template must contain exactly one %s and no other verbs")
	}
	if c.Reconcile.ChunkSize <= 0 {
		return errors.New("billing config: reconcile chunk size must be > 0")
	}
	if strings.TrimSpace(c.Serial.System) == "" || strings.Contains(c.Serial.System, "-") {
		return errors.New("billing config: serial system must be non-empty without '-'")
	}
	for _, at := range []string{c.Schedule.InvoiceDailyAt, c.Schedule.ReconcileDailyAt} {
		if at == "" {
			continue
		}
		if _, _, err := parseDailyAt(at); err != nil {
			return fmt.Errorf("billing config: schedule %q: %w", at, err)
		}
	}
	return nil
}

// validTextTemplate accepts a template with a single %s for the student name.
// Literal percent signs must be written as %%.
func validTextTemplate(tpl string) bool {
	rest := strings.ReplaceAll(tpl, "%%", "")
	return strings.Count(rest, "%s") == 1 && strings.Count(rest, "%") == 1
}

// CollectionName maps a collection tag to its configured name.
func (s StoreConfig) CollectionName(c billing.Collection) (string, error) {
	var name string
	switch c {
	case billing.CollectionContracts:
		name = s.ContractsCollection
		if s.UseMockCollection {
			name = s.MockContractsCollection
		}
	case billing.CollectionMockContracts:
		name = s.MockContractsCollection
	case billing.CollectionSerialNumbers:
		name = s.SerialNumbersCollection
	case billing.CollectionCounters:
		name = s.CountersCollection
	case billing.CollectionSettings:
		name = s.SettingsCollection
	default:
		return "", fmt.Errorf("billing config: unknown collection %q", c)
	}
	if name == "" {
		return "", fmt.Errorf("billing config: collection %q has no name", c)
	}
	return name, nil
}

// HeaderInfoFor returns the invoice header text for a school org number.
func (c Config) HeaderInfoFor(orgNr string) string {
	if text, ok := c.Schools[strings.TrimSpace(orgNr)]; ok && text != "" {
		return text
	}
	return c.Invoice.DefaultHeaderInfo
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
