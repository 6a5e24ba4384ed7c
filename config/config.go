package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the scholar service.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Federation FederationConfig `mapstructure:"federation"`
	Engagement EngagementConfig `mapstructure:"engagement"`
	Records    RecordsConfig    `mapstructure:"records"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	// WorkDir receives per-run intermediate files (crops, converted sheets).
	WorkDir string `mapstructure:"work_dir"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LLMConfig configures the OpenAI-compatible endpoint and per-task models.
type LLMConfig struct {
	BaseURL     string           `mapstructure:"base_url"`
	APIKey      string           `mapstructure:"api_key"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	MaxRetries  int              `mapstructure:"max_retries"`
	Temperature float64          `mapstructure:"temperature"`
	Routing     LLMRoutingConfig `mapstructure:"routing"`
	Budget      LLMBudgetConfig  `mapstructure:"budget"`
}

// LLMBudgetConfig caps oracle usage per question. Zero means unlimited.
type LLMBudgetConfig struct {
	MaxTokens int64 `mapstructure:"max_tokens"`
	MaxCalls  int   `mapstructure:"max_calls"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Planning       string `mapstructure:"planning"`
	Classification string `mapstructure:"classification"`
	Analysis       string `mapstructure:"analysis"`
	Synthesis      string `mapstructure:"synthesis"`
	Fallback       string `mapstructure:"fallback"`
}

// Model returns the routed model name for task, or the fallback.
func (r LLMRoutingConfig) Model(task string) string {
	var m string
	switch task {
	case "planning":
		m = r.Planning
	case "classification":
		m = r.Classification
	case "analysis":
		m = r.Analysis
	case "synthesis":
		m = r.Synthesis
	}
	if strings.TrimSpace(m) == "" {
		return r.Fallback
	}
	return m
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (b LLMBudgetConfig) Validate() error {
	if b.MaxTokens < 0 || b.MaxCalls < 0 {
		return fmt.Errorf("llm.budget limits cannot be negative")
	}
	return nil
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// PlannerConfig bounds the plan design call.
type PlannerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExecutorConfig controls step execution.
type ExecutorConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Checkpoints bool          `mapstructure:"checkpoints"`
}

// FederationConfig bounds each stage of a federated run.
type FederationConfig struct {
	ClassifyTimeout    time.Duration `mapstructure:"classify_timeout"`
	DomainTimeout      time.Duration `mapstructure:"domain_timeout"`
	SynthesisTimeout   time.Duration `mapstructure:"synthesis_timeout"`
	SynthesisMaxTokens int           `mapstructure:"synthesis_max_tokens"`
}

func (f FederationConfig) Validate() error {
	if f.ClassifyTimeout < 0 || f.DomainTimeout < 0 || f.SynthesisTimeout < 0 {
		return fmt.Errorf("federation timeouts cannot be negative")
	}
	return nil
}

// EngagementConfig wires the classroom image domain.
type EngagementConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	StudentsDir    string        `mapstructure:"students_dir"`
	DetectorURL    string        `mapstructure:"detector_url"`
	DetectorAPIKey string        `mapstructure:"detector_api_key"`
	MinScore       float64       `mapstructure:"min_score"`
	EmotionURL     string        `mapstructure:"emotion_url"`
	EmotionToken   string        `mapstructure:"emotion_token"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	HTTPRetries    int           `mapstructure:"http_retries"`
}

func (e EngagementConfig) Validate() error {
	if e.MinScore < 0 || e.MinScore > 1 {
		return fmt.Errorf("engagement.min_score must be within [0,1]")
	}
	return nil
}

// RecordsConfig wires the school records domain.
type RecordsConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	RecordsDir       string   `mapstructure:"records_dir"`
	AccumulateFields []string `mapstructure:"accumulate_fields"`
	NumericMerge     string   `mapstructure:"numeric_merge"`
	MaxAssessed      int      `mapstructure:"max_assessed"`
}

func (r RecordsConfig) Validate() error {
	switch r.NumericMerge {
	case "", "first", "average":
		return nil
	}
	return fmt.Errorf("records.numeric_merge must be first or average, got %q", r.NumericMerge)
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Stream      string        `mapstructure:"stream"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether any connection target is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN returns URL when set, otherwise a DSN assembled from the parts.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) == "" {
		return nil
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	return errors.Join(
		c.LLM.Budget.Validate(),
		c.Telemetry.Validate(),
		c.Federation.Validate(),
		c.Engagement.Validate(),
		c.Records.Validate(),
		c.Storage.Redis.Validate(),
		c.Storage.Postgres.Validate(),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.work_dir", filepath.Join(os.TempDir(), "scholar"))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("llm.budget.max_tokens", 0)
	v.SetDefault("llm.budget.max_calls", 0)
	v.SetDefault("planner.timeout", 60*time.Second)
	v.SetDefault("executor.step_timeout", 2*time.Minute)
	v.SetDefault("executor.retry_delay", time.Second)
	v.SetDefault("federation.classify_timeout", 30*time.Second)
	v.SetDefault("federation.domain_timeout", 5*time.Minute)
	v.SetDefault("federation.synthesis_timeout", 60*time.Second)
	v.SetDefault("federation.synthesis_max_tokens", 1500)
	v.SetDefault("engagement.enabled", true)
	v.SetDefault("engagement.min_score", 0.5)
	v.SetDefault("engagement.http_timeout", time.Minute)
	v.SetDefault("engagement.http_retries", 2)
	v.SetDefault("records.enabled", true)
	v.SetDefault("records.accumulate_fields", []string{"feedback", "comments"})
	v.SetDefault("records.numeric_merge", "first")
	v.SetDefault("records.max_assessed", 5)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.stream", "scholar:runs")
	v.SetDefault("storage.redis.snapshot_ttl", 24*time.Hour)
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
}

// LoadConfig reads config from path, or searches the usual locations when
// path is empty. A missing file is not an error in search mode; SCHOLAR_*
// environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SCHOLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
