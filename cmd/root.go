package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/catalog"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/logger"
	"github.com/spigell/apprentice/internal/media"
	"github.com/spigell/apprentice/internal/secrets"
)

const (
	app = "apprentice"
)

type Config struct {
	Evaluator *EvaluatorConfig   `mapstructure:"evaluator"`
	Recording media.FFmpegConfig `mapstructure:"recording"`
	Playback  *PlaybackConfig    `mapstructure:"playback"`
	AI        *AIConfig          `mapstructure:"ai"`
	// Positions is decoded by the catalog, which accepts looser shapes.
	Positions any `mapstructure:"positions"`
}

type EvaluatorConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	TokenFile    string        `mapstructure:"token-file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CompletePath string        `mapstructure:"complete-path"`
	ResumeAsText bool          `mapstructure:"resume-as-text"`
	UserAgent    string        `mapstructure:"user-agent"`
}

type PlaybackConfig struct {
	FFplay string `mapstructure:"ffplay"`
}

type AIConfig struct {
	Speech *SpeechConfig `mapstructure:"speech"`
}

type SpeechConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	Voice      string `mapstructure:"voice"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "apprentice walks a candidate through the AI-graded evaluation: apply, submit code, record the interview and get the report",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"evaluator.url":           "APPRENTICE_EVALUATOR_URL",
		"evaluator.token-file":    "APPRENTICE_TOKEN_FILE",
		"ai.speech.api-key-file":  "GEMINI_API_KEY_FILE",
		"evaluator.complete-path": "APPRENTICE_COMPLETE_PATH",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is apprentice.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if versionCmd.CalledAs() != "" {
		return
	}

	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// An explicit config must parse. Without one, env bindings may be enough.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
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

	if config == nil {
		config = &Config{}
	}
	if config.Evaluator == nil {
		config.Evaluator = &EvaluatorConfig{}
	}
	if config.Playback == nil {
		config.Playback = &PlaybackConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Speech == nil {
		config.AI.Speech = &SpeechConfig{}
	}

	return config, nil
}

// bootstrap builds the logger and the config every command starts with.
func bootstrap() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return logger, config
}

func newEvaluatorClient(config *Config, logger *zap.Logger) (*evaluator.Client, error) {
	cfg := config.Evaluator

	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	client := evaluator.New(logger.Named("evaluator"), cfg.URL, token)
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	if path := strings.TrimSpace(cfg.CompletePath); path != "" {
		client.CompletePath = path
	}
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}

	logger.Debug("evaluator client configured",
		zap.String("url", client.BaseURL()),
		zap.String("complete_path", client.CompletePath),
		zap.Bool("authenticated", token != ""),
	)

	return client, nil
}

// resolveToken loads the evaluator token. The token is optional; a
// configured but unreadable token file is an error.
func resolveToken(cfg *EvaluatorConfig) (string, error) {
	src := secrets.Source{
		Name:  "evaluator token",
		Value: cfg.Token,
		Env:   "APPRENTICE_TOKEN",
		File:  cfg.TokenFile,
	}
	if !secrets.Configured(src) {
		return "", nil
	}

	token, err := secrets.Load(src)
	if err != nil {
		return "", fmt.Errorf("%w (set evaluator.token-file or APPRENTICE_TOKEN_FILE)", err)
	}
	return token, nil
}

func loadPositions(config *Config, file string) (*catalog.Positions, error) {
	if file = strings.TrimSpace(file); file != "" {
		return catalog.FromFile(file)
	}
	if config.Positions == nil {
		return nil, errors.New("no positions configured (set positions in the config or pass --positions-file)")
	}
	return catalog.Decode(config.Positions)
}

func redacted(config *Config) *Config {
	c := *config
	if c.Evaluator != nil && c.Evaluator.Token != "" {
		ev := *c.Evaluator
		ev.Token = "***"
		c.Evaluator = &ev
	}
	if c.AI != nil && c.AI.Speech != nil && c.AI.Speech.APIKey != "" {
		speech := *c.AI.Speech
		speech.APIKey = "***"
		c.AI = &AIConfig{Speech: &speech}
	}
	c.Positions = nil
	return &c
}
