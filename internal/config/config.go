package config

import (
	"errors"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Store    StoreConfig    `mapstructure:"store"`
	Identity IdentityConfig `mapstructure:"identity"`
	UI       UIConfig       `mapstructure:"ui"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	File   string `mapstructure:"file"`
}

// LLMConfig holds the answer provider configuration
type LLMConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=gemini openai ollama"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey   string `mapstructure:"api_key" validate:"required_unless=Provider ollama"`
	Model    string `mapstructure:"model" validate:"required"`
}

// StoreConfig selects the conversation store backend
type StoreConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=sqlite memory firestore"`
	Path      string `mapstructure:"path" validate:"required_if=Backend sqlite"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=Backend firestore"`
}

// IdentityConfig holds the local identity configuration
type IdentityConfig struct {
	User string `mapstructure:"user"`
}

// UIConfig holds terminal client options
type UIConfig struct {
	Mobile bool `mapstructure:"mobile"`
	Color  bool `mapstructure:"color"`
}

const envPrefix = "FLOATCHAT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "data/floatchat.db")
	v.SetDefault("store.project_id", "")
	v.SetDefault("identity.user", "")
	v.SetDefault("ui.mobile", false)
	v.SetDefault("ui.color", true)
}

// Load loads the configuration from config.yaml (or CONFIG_PATH), applying
// FLOATCHAT_* environment overrides. A missing config.yaml is not an error.
func Load() (*Config, error) {
	viper.Reset()
	v := viper.GetViper()
	errs := oops.In("config")

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.Code("read_failed").With("file", v.ConfigFileUsed()).Wrapf(err, "read config file")
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	errs := oops.In("config")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Code("parse_failed").Wrapf(err, "parse config")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errs.Code("invalid").Wrapf(err, "validate config")
	}
	return &cfg, nil
}

// Watch re-reads the config file on every change and passes the new config
// to fn. Invalid edits are reported through onErr and otherwise ignored.
func Watch(fn func(*Config), onErr func(error)) {
	v := viper.GetViper()
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(oops.In("config").With("file", e.Name).Wrap(err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}
