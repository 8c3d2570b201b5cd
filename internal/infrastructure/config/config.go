package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the application's full configuration surface.
type Config struct {
	BotIdentity string           `mapstructure:"bot_identity"`
	Admin       AdminConfig      `mapstructure:"admin"`
	Credentials CredentialConfig `mapstructure:"credentials"`
	LLM         LLMConfig        `mapstructure:"llm"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Stamina     StaminaConfig    `mapstructure:"stamina"`
	TaskRunner  TaskRunnerConfig `mapstructure:"task_runner"`
	Correlator  CorrelatorConfig `mapstructure:"correlator"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Log         LogConfig        `mapstructure:"log"`
}

// AdminConfig identifies the sender id treated as the administrative
// channel for the command surface.
type AdminConfig struct {
	SenderID string `mapstructure:"sender_id"`
}

// CredentialConfig lists the LLM API keys C1 rotates across. Secrets are
// split primary/backup: both lists are merged, primaries first, into one
// deduplicated rotation order (see credential.Pool).
type CredentialConfig struct {
	PrimarySecrets []string `mapstructure:"primary_secrets"`
	BackupSecrets  []string `mapstructure:"backup_secrets"`
}

// LLMConfig configures the prompt and the backend C2 calls.
type LLMConfig struct {
	Model          string   `mapstructure:"model"`
	BackendBaseURL string   `mapstructure:"backend_base_url"`
	PersonaText    string   `mapstructure:"persona_text"`
	TraitGuidance  []string `mapstructure:"trait_guidance"`
}

// SchedulerConfig is C4's hot-reloadable trigger policy, mirroring
// queue.Config.
type SchedulerConfig struct {
	SilenceSeconds     int  `mapstructure:"silence_seconds"`
	MaxQueueSize       int  `mapstructure:"max_queue_size"`
	MaxQueueAgeSeconds int  `mapstructure:"max_queue_age_seconds"`
	DrainOnCritical    bool `mapstructure:"drain_on_critical"`
}

// StaminaConfig is C3's hot-reloadable model parameters, mirroring
// stamina.Config.
type StaminaConfig struct {
	Max            float64       `mapstructure:"max"`
	ConsumeK       float64       `mapstructure:"consume_k"`
	ConsumeP       float64       `mapstructure:"consume_p"`
	MomentumAlpha  float64       `mapstructure:"momentum_alpha"`
	MomentumBeta   float64       `mapstructure:"momentum_beta"`
	MomentumGamma  float64       `mapstructure:"momentum_gamma"`
	RecoverRate    float64       `mapstructure:"recover_rate"`
	RegenInterval  time.Duration `mapstructure:"regen_interval"`
	LowThreshold   float64       `mapstructure:"low_threshold"`
	CriticalThresh float64       `mapstructure:"critical_threshold"`
}

// TaskRunnerConfig sets the retry budget for C6's auxiliary tasks.
type TaskRunnerConfig struct {
	DeliverReplyMaxAttempts  int `mapstructure:"deliver_reply_max_attempts"`
	RecordThoughtMaxAttempts int `mapstructure:"record_thought_max_attempts"`
}

// CorrelatorConfig configures C7's ambiguity policy and eviction window.
type CorrelatorConfig struct {
	TTLMinutes                       int  `mapstructure:"ttl_minutes"`
	FailClosedOnAmbiguousCorrelation bool `mapstructure:"fail_closed_on_ambiguous_correlation"`
}

// DatabaseConfig selects the gorm dialector for the audit/dead-letter store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads layered configuration: built-in defaults, then
// ~/.mediator/config.yaml, then ./config/config.yaml (or, if absent,
// ./config.yaml), then NGOCLAW_-less MEDIATOR_-prefixed environment variables, each layer
// overriding the one before it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("MEDIATOR")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin.sender_id", "")

	v.SetDefault("llm.model", "")
	v.SetDefault("llm.backend_base_url", "")
	v.SetDefault("llm.persona_text", "")

	v.SetDefault("scheduler.silence_seconds", 8)
	v.SetDefault("scheduler.max_queue_size", 10)
	v.SetDefault("scheduler.max_queue_age_seconds", 30)
	v.SetDefault("scheduler.drain_on_critical", true)

	v.SetDefault("stamina.max", 100)
	v.SetDefault("stamina.consume_k", 1)
	v.SetDefault("stamina.consume_p", 1)
	v.SetDefault("stamina.momentum_alpha", 0.5)
	v.SetDefault("stamina.momentum_beta", 0.1)
	v.SetDefault("stamina.momentum_gamma", 0.4)
	v.SetDefault("stamina.recover_rate", 5)
	v.SetDefault("stamina.regen_interval", "1s")
	v.SetDefault("stamina.low_threshold", 30)
	v.SetDefault("stamina.critical_threshold", 10)

	v.SetDefault("task_runner.deliver_reply_max_attempts", 3)
	v.SetDefault("task_runner.record_thought_max_attempts", 1)

	v.SetDefault("correlator.ttl_minutes", 30)
	v.SetDefault("correlator.fail_closed_on_ambiguous_correlation", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "mediator.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
