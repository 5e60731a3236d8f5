package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/oppfinder/pipeline/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	app       = "oppfinder"
	envPrefix = "OPPFINDER"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AI         AIConfig         `mapstructure:"ai"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// URL is optional. Without it throttles are process local and the
	// worker cannot run.
	URL string `mapstructure:"url"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Chain    []string      `mapstructure:"chain"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	Groq     GroqConfig    `mapstructure:"groq"`
	Ollama   OllamaConfig  `mapstructure:"ollama"`
}

type GeminiConfig struct {
	APIKeys      []string      `mapstructure:"api-keys"`
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	RPMLimit     int           `mapstructure:"rpm-limit"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	LockTTL      time.Duration `mapstructure:"lock-ttl"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type GroqConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
}

type OllamaConfig struct {
	BaseURL string `mapstructure:"base-url"`
	Model   string `mapstructure:"model"`
}

type ProcessingConfig struct {
	BatchSize           int           `mapstructure:"batch-size"`
	MinAlpha            int           `mapstructure:"min-alpha"`
	MinLatinRatio       float64       `mapstructure:"min-latin-ratio"`
	LegacyScanLimit     int           `mapstructure:"legacy-scan-limit"`
	LocationPromptLimit int           `mapstructure:"location-prompt-limit"`
	MatchDelay          time.Duration `mapstructure:"match-delay"`
}

type MatchingConfig struct {
	Threshold           float64       `mapstructure:"threshold"`
	MaxStage1Candidates int           `mapstructure:"max-stage1-candidates"`
	HoursBack           time.Duration `mapstructure:"hours-back"`
	BatchSize           int           `mapstructure:"batch-size"`
}

type IngestionConfig struct {
	LimitPerSource int           `mapstructure:"limit-per-source"`
	UserAgent      string        `mapstructure:"user-agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	PollInterval time.Duration  `mapstructure:"poll-interval"`
	MaxAttempts  int            `mapstructure:"max-attempts"`
	Schedule     ScheduleConfig `mapstructure:"schedule"`
}

// ScheduleConfig holds cron specs. An empty spec disables the job.
type ScheduleConfig struct {
	Ingest  string `mapstructure:"ingest"`
	Extract string `mapstructure:"extract"`
	Match   string `mapstructure:"match"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "oppfinder ingests opportunity postings, extracts them with AI providers and matches them to users",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is oppfinder.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	// empty defaults make the keys visible to env overrides on Unmarshal
	for _, key := range []string{
		"database.url", "redis.url",
		"ai.gemini.api-keys", "ai.gemini.api-key-file", "ai.gemini.model",
		"ai.groq.api-key", "ai.groq.api-key-file", "ai.groq.base-url", "ai.groq.model",
		"ai.ollama.model", "ingestion.user-agent",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.chain", []string{"gemini", "groq"})
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.gemini.rpm-limit", 15)
	v.SetDefault("ai.gemini.cooldown", 60*time.Second)
	v.SetDefault("ai.gemini.lock-ttl", 2*time.Minute)
	v.SetDefault("ai.gemini.max-log-length", 200)
	v.SetDefault("ai.ollama.base-url", "http://localhost:11434")

	v.SetDefault("processing.batch-size", 25)
	v.SetDefault("processing.legacy-scan-limit", 250)
	v.SetDefault("processing.location-prompt-limit", 400)
	v.SetDefault("processing.match-delay", 30*time.Second)

	v.SetDefault("matching.threshold", 7.0)
	v.SetDefault("matching.max-stage1-candidates", 20)
	v.SetDefault("matching.hours-back", 24*time.Hour)
	v.SetDefault("matching.batch-size", 10)

	v.SetDefault("ingestion.limit-per-source", 20)
	v.SetDefault("ingestion.timeout", 20*time.Second)

	v.SetDefault("worker.poll-interval", 2*time.Second)
	v.SetDefault("worker.max-attempts", 5)
	v.SetDefault("worker.schedule.ingest", "@every 5m")
	v.SetDefault("worker.schedule.extract", "@every 2m")
	v.SetDefault("worker.schedule.match", "@every 10m")
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// the default file is optional, an explicit one is not
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

func newLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"),
		logger.StringField{Key: "app", Value: app},
		logger.StringField{Key: "version", Value: version},
	)
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}
