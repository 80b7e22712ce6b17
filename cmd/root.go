package cmd

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/mock-interviewer/internal/monitor"
)

const (
	app = "mock-interviewer"
)

type Config struct {
	Listen       string          `mapstructure:"listen"`
	DataDir      string          `mapstructure:"data_dir"`
	StorageQuota int64           `mapstructure:"storage_quota"`
	Gemini       GeminiConfig    `mapstructure:"gemini"`
	OpenAI       OpenAIConfig    `mapstructure:"openai"`
	Monitor      MonitorConfig   `mapstructure:"monitor"`
	Interview    InterviewConfig `mapstructure:"interview"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APIKeyFile string `mapstructure:"api_key_file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type OpenAIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	APIKeyFile         string        `mapstructure:"api_key_file"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	Voice              string        `mapstructure:"voice"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ICEServers         []string      `mapstructure:"ice_servers"`
}

type MonitorConfig struct {
	Dir     string             `mapstructure:"dir"`
	TTL     time.Duration      `mapstructure:"ttl"`
	Keep    int                `mapstructure:"keep"`
	Archive monitor.BlobConfig `mapstructure:"archive"`
}

type InterviewConfig struct {
	SpeakDwell      time.Duration `mapstructure:"speak_dwell"`
	EndDelay        time.Duration `mapstructure:"end_delay"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	OpeningTurn     bool          `mapstructure:"opening_turn"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "mock-interviewer prepares and runs AI mock job interviews from a résumé and a job posting",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	for key, env := range map[string]string{
		"gemini.api_key_file": "GEMINI_API_KEY_FILE",
		"openai.api_key_file": "OPENAI_API_KEY_FILE",
		"listen":              "MOCK_INTERVIEWER_LISTEN",
		"data_dir":            "MOCK_INTERVIEWER_DATA_DIR",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetDefault("listen", "127.0.0.1:8080")
	viper.SetDefault("data_dir", ".mock-interviewer")
	viper.SetDefault("storage_quota", 5<<20)
	viper.SetDefault("monitor.ttl", monitor.DefaultTTL)
	viper.SetDefault("monitor.keep", monitor.DefaultKeep)
	viper.SetDefault("interview.opening_turn", true)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is mock-interviewer.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Every setting has a default, so only an explicit or broken config is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return config, err
	}

	return config, nil
}
