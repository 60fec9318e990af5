package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all provisioner configuration
type Config struct {
	Odoo          OdooConfig
	Data          DataConfig
	Log           LogConfig
	AuditStore    AuditStoreConfig
	Cache         CacheConfig
	Storage       StorageConfig
	Telemetry     TelemetryConfig
	Manufacturing ManufacturingConfig
	Mail          MailConfig
}

// OdooConfig holds the ERP connection settings
type OdooConfig struct {
	URL           string        `validate:"required,url"`
	DB            string        `validate:"required"`
	User          string        `validate:"required"`
	Password      string        `validate:"required"`
	Protocol      string        `validate:"oneof=xmlrpc jsonrpc"`
	Timeout       time.Duration `validate:"gt=0"`
	MaxRetries    int           `validate:"min=1,max=20"`
	BackoffFactor float64       `validate:"gt=0"`
	BatchSize     int           `validate:"min=1"`
	SearchLimit   int           `validate:"min=1"`
	RateLimit     float64       `validate:"min=0"` // requests per second, 0 = unlimited
	AuthTTL       time.Duration `validate:"gt=0"`
}

// DataConfig holds the input and output directories
type DataConfig struct {
	DataDir      string `validate:"required"`
	AuditDir     string
	ReportDir    string
	QualityFiles []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"` // debug, info, warn, error
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AuditStoreConfig holds the run history database settings
type AuditStoreConfig struct {
	Driver string `validate:"oneof=sqlite postgres none"`
	DSN    string `validate:"required_if=Driver postgres"` // sqlite defaults to <AuditDir>/provisioner.db
}

// CacheConfig holds the lookup cache settings
type CacheConfig struct {
	Driver   string `validate:"oneof=memory redis"`
	Host     string `validate:"required_if=Driver redis"`
	Port     int    `validate:"min=0,max=65535"`
	Password string
	DB       int `validate:"min=0"`
	TTL      time.Duration
}

// StorageConfig holds the S3-compatible artifact upload settings
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string `validate:"required_if=Enabled true"`
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// TelemetryConfig holds OpenTelemetry and metrics configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to enable OpenTelemetry
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64       `validate:"min=0,max=1"`
	ServiceName       string
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	ExportLogs        bool          // Forward log entries to the collector as well
	ExportMetrics     bool          // Push run metrics to the collector as well
	MetricInterval    time.Duration `validate:"min=0"`
	MetricsFile       string        // Prometheus textfile written at exit, empty = off
}

// WorkcenterConfig is a workcenter created when no workcenter CSV exists
type WorkcenterConfig struct {
	Code        string  `mapstructure:"code" validate:"required"`
	Name        string  `mapstructure:"name" validate:"required"`
	Capacity    float64 `mapstructure:"capacity" validate:"gt=0,lte=1000"`
	Efficiency  float64 `mapstructure:"efficiency" validate:"gt=0,lte=1"`
	CostPerHour float64 `mapstructure:"cost_per_hour" validate:"min=0"`
}

// ManufacturingConfig holds manufacturing defaults
type ManufacturingConfig struct {
	Workcenters         []WorkcenterConfig `validate:"dive"`
	FallbackWorkcenters []string
	MOSequencePrefix    string `validate:"required"`
	MOSequencePadding   int    `validate:"min=1,max=20"`
	MOSequenceCode      string `validate:"required"`
	ProductCodes        []string
	CategoryTracking    []CategoryTrackingConfig `validate:"dive"`
}

// CategoryTrackingConfig sets the tracking of every product in a category
type CategoryTrackingConfig struct {
	Category string `mapstructure:"category" validate:"required"`
	Tracking string `mapstructure:"tracking" validate:"oneof=serial lot none"`
}

// MailServerConfig is one outgoing (smtp) or incoming (imap) mail server.
// String values may hold ${ENV_VAR} placeholders.
type MailServerConfig struct {
	Type           string `mapstructure:"type" validate:"oneof=smtp imap"`
	Name           string `mapstructure:"name"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"min=0,max=65535"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Encryption     string `mapstructure:"encryption"`
	From           string `mapstructure:"from"`
	SSL            bool   `mapstructure:"ssl"`
	Priority       int    `mapstructure:"priority"`
	Active         *bool  `mapstructure:"active"`
	TestConnection bool   `mapstructure:"test_connection"`
}

// MailConfig holds mail servers and system parameters
type MailConfig struct {
	Servers    []MailServerConfig `validate:"dive"`
	Parameters []MailParameterConfig `validate:"dive"`
}

// MailParameterConfig is one ir.config_parameter entry
type MailParameterConfig struct {
	Key   string `mapstructure:"key" validate:"required"`
	Value string `mapstructure:"value"`
}

// Load loads configuration from a TOML file and environment variables.
// An empty path searches for config.toml in the usual places.
// Priority (highest to lowest):
// 1. Environment variables with PROVISIONER_ prefix (e.g., PROVISIONER_ODOO_URL),
// then the bare ODOO_URL, ODOO_DB, ODOO_USER and ODOO_PASSWORD
// 2. config.toml
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/provisioner")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetDefault("telemetry.export_logs", true)
	v.SetDefault("telemetry.export_metrics", true)

	v.SetEnvPrefix("PROVISIONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, bare := range map[string]string{
		"odoo.url":      "ODOO_URL",
		"odoo.db":       "ODOO_DB",
		"odoo.user":     "ODOO_USER",
		"odoo.password": "ODOO_PASSWORD",
	} {
		envKey := "PROVISIONER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, bare); err != nil {
			return nil, fmt.Errorf("binding %s: %w", bare, err)
		}
	}

	cfg := &Config{
		Odoo: OdooConfig{
			URL:           v.GetString("odoo.url"),
			DB:            v.GetString("odoo.db"),
			User:          v.GetString("odoo.user"),
			Password:      v.GetString("odoo.password"),
			Protocol:      v.GetString("odoo.protocol"),
			Timeout:       v.GetDuration("odoo.timeout"),
			MaxRetries:    v.GetInt("odoo.max_retries"),
			BackoffFactor: v.GetFloat64("odoo.backoff_factor"),
			BatchSize:     v.GetInt("odoo.batch_size"),
			SearchLimit:   v.GetInt("odoo.search_limit"),
			RateLimit:     v.GetFloat64("odoo.rate_limit"),
			AuthTTL:       v.GetDuration("odoo.auth_ttl"),
		},
		Data: DataConfig{
			DataDir:      v.GetString("data.data_dir"),
			AuditDir:     v.GetString("data.audit_dir"),
			ReportDir:    v.GetString("data.report_dir"),
			QualityFiles: v.GetStringSlice("data.quality_files"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		AuditStore: AuditStoreConfig{
			Driver: v.GetString("audit_store.driver"),
			DSN:    v.GetString("audit_store.dsn"),
		},
		Cache: CacheConfig{
			Driver:   v.GetString("cache.driver"),
			Host:     v.GetString("cache.host"),
			Port:     v.GetInt("cache.port"),
			Password: v.GetString("cache.password"),
			DB:       v.GetInt("cache.db"),
			TTL:      v.GetDuration("cache.ttl"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportLogs:        v.GetBool("telemetry.export_logs"),
			ExportMetrics:     v.GetBool("telemetry.export_metrics"),
			MetricInterval:    v.GetDuration("telemetry.metric_interval"),
			MetricsFile:       v.GetString("telemetry.metrics_file"),
		},
		Manufacturing: ManufacturingConfig{
			FallbackWorkcenters: v.GetStringSlice("manufacturing.fallback_workcenters"),
			MOSequencePrefix:    v.GetString("manufacturing.mo_sequence_prefix"),
			MOSequencePadding:   v.GetInt("manufacturing.mo_sequence_padding"),
			MOSequenceCode:      v.GetString("manufacturing.mo_sequence_code"),
			ProductCodes:        v.GetStringSlice("manufacturing.product_codes"),
		},
	}
	if err := v.UnmarshalKey("manufacturing.workcenters", &cfg.Manufacturing.Workcenters); err != nil {
		return nil, fmt.Errorf("error decoding manufacturing.workcenters: %w", err)
	}
	if err := v.UnmarshalKey("manufacturing.category_tracking", &cfg.Manufacturing.CategoryTracking); err != nil {
		return nil, fmt.Errorf("error decoding manufacturing.category_tracking: %w", err)
	}
	if err := v.UnmarshalKey("mail.servers", &cfg.Mail.Servers); err != nil {
		return nil, fmt.Errorf("error decoding mail.servers: %w", err)
	}
	if err := v.UnmarshalKey("mail.parameters", &cfg.Mail.Parameters); err != nil {
		return nil, fmt.Errorf("error decoding mail.parameters: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultWorkcenters are the production workcenters of the drone line
func DefaultWorkcenters() []WorkcenterConfig {
	return []WorkcenterConfig{
		{Code: "WC-3D", Name: "3D-Drucker", Capacity: 10, Efficiency: 0.95},
		{Code: "WC-LC", Name: "Lasercutter", Capacity: 5, Efficiency: 0.98},
		{Code: "WC-NACH", Name: "Nacharbeit", Capacity: 8, Efficiency: 0.90},
		{Code: "WC-WTB", Name: "WT bestücken", Capacity: 15, Efficiency: 0.92},
		{Code: "WC-LOET", Name: "Löten Elektronik", Capacity: 6, Efficiency: 0.88},
		{Code: "WC-MONT", Name: "Montage Elektronik", Capacity: 12, Efficiency: 0.93},
		{Code: "WC-FLASH", Name: "Flashen Flugcontroller", Capacity: 20, Efficiency: 0.99},
		{Code: "WC-MONT2", Name: "Montage Gehäuse Rotoren", Capacity: 10, Efficiency: 0.94},
		{Code: "WC-QM-END", Name: "End-Qualitätskontrolle", Capacity: 8, Efficiency: 0.96},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	cfg.Odoo.URL = strings.TrimRight(strings.TrimSpace(cfg.Odoo.URL), "/")
	if cfg.Odoo.Protocol == "" {
		cfg.Odoo.Protocol = "xmlrpc"
	}
	if cfg.Odoo.Timeout == 0 {
		cfg.Odoo.Timeout = 60 * time.Second
	}
	if cfg.Odoo.MaxRetries == 0 {
		cfg.Odoo.MaxRetries = 5
	}
	if cfg.Odoo.BackoffFactor == 0 {
		cfg.Odoo.BackoffFactor = 1.5
	}
	if cfg.Odoo.BatchSize == 0 {
		cfg.Odoo.BatchSize = 500
	}
	if cfg.Odoo.SearchLimit == 0 {
		cfg.Odoo.SearchLimit = 100
	}
	if cfg.Odoo.AuthTTL == 0 {
		cfg.Odoo.AuthTTL = time.Hour
	}

	if cfg.Data.DataDir == "" {
		cfg.Data.DataDir = "./data"
	}
	cfg.Data.ApplyDataDir(cfg.Data.DataDir)
	if len(cfg.Data.QualityFiles) == 0 {
		cfg.Data.QualityFiles = []string{"quality/quality_points.csv"}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}

	if cfg.AuditStore.Driver == "" {
		cfg.AuditStore.Driver = "sqlite"
	}

	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "memory"
	}
	if cfg.Cache.Host == "" {
		cfg.Cache.Host = "localhost"
	}
	if cfg.Cache.Port == 0 {
		cfg.Cache.Port = 6379
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "provisioner"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = 15 * time.Second
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erp-provisioner"
	}

	m := &cfg.Manufacturing
	if len(m.Workcenters) == 0 {
		m.Workcenters = DefaultWorkcenters()
	}
	if len(m.FallbackWorkcenters) == 0 {
		m.FallbackWorkcenters = []string{"WC-QM-END", "WC-3D", "WC-NACH"}
	}
	if m.MOSequencePrefix == "" {
		m.MOSequencePrefix = "MO"
	}
	if m.MOSequencePadding == 0 {
		m.MOSequencePadding = 7
	}
	if m.MOSequenceCode == "" {
		m.MOSequenceCode = "mrp.production"
	}
	if len(m.ProductCodes) == 0 {
		m.ProductCodes = []string{"EVO 029.3.000", "EVO 029.3.001", "EVO 029.3.002"}
	}
	if len(m.CategoryTracking) == 0 {
		m.CategoryTracking = []CategoryTrackingConfig{
			{Category: "Drohnen", Tracking: "serial"},
			{Category: "Elektronik", Tracking: "lot"},
			{Category: "Kernkomponenten", Tracking: "lot"},
			{Category: "Verpackung", Tracking: "none"},
		}
	}

	if len(cfg.Mail.Parameters) == 0 {
		cfg.Mail.Parameters = []MailParameterConfig{
			{Key: "mail.catchall.domain", Value: "drohnen-gmbh.de"},
			{Key: "mail.bounce.alias", Value: "bounce"},
			{Key: "mail.reply.alias", Value: "reply"},
			{Key: "mail.use_alias", Value: "True"},
		}
	}
	for i := range cfg.Mail.Servers {
		s := &cfg.Mail.Servers[i]
		if s.Port == 0 {
			if s.Type == "imap" {
				s.Port = 993
			} else {
				s.Port = 587
			}
		}
		if s.Type == "smtp" && s.Encryption == "" {
			s.Encryption = "starttls"
		}
	}
}

// ApplyDataDir points the data directory and the output directories below
// it at dir. Output directories set explicitly elsewhere are kept.
func (d *DataConfig) ApplyDataDir(dir string) {
	old := d.DataDir
	d.DataDir = dir
	if d.AuditDir == "" || d.AuditDir == filepath.Join(old, "audit") {
		d.AuditDir = filepath.Join(dir, "audit")
	}
	if d.ReportDir == "" || d.ReportDir == filepath.Join(old, "reports") {
		d.ReportDir = filepath.Join(dir, "reports")
	}
}

var validate = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"ODOO_URL", c.Odoo.URL},
		{"ODOO_DB", c.Odoo.DB},
		{"ODOO_USER", c.Odoo.User},
		{"ODOO_PASSWORD", c.Odoo.Password},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.Odoo.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("odoo.url must be an absolute URL with scheme and host, got %q", c.Odoo.URL)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), redact(fe)))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func redact(fe validator.FieldError) any {
	switch fe.Field() {
	case "Password", "SecretKey", "AccessKey":
		return "***"
	}
	return fe.Value()
}

// AuditDSN returns the run history DSN, defaulting the sqlite file into the
// audit directory.
func (c *Config) AuditDSN() string {
	if c.AuditStore.DSN == "" && c.AuditStore.Driver == "sqlite" {
		return filepath.Join(c.Data.AuditDir, "provisioner.db")
	}
	return c.AuditStore.DSN
}

// Addr returns the redis host:port
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
