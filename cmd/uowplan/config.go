package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "uowplan"
	configFileType = "yaml"
	envPrefix      = "UOWPLAN"

	cfgKeyModel        = "model"
	cfgKeyLogLevel     = "log_level"
	cfgKeyDialect      = "dialect"
	cfgKeyDSN          = "dsn"
	cfgKeyBlockSize    = "block_size"
	cfgKeyCreateTables = "create_tables"
	cfgKeyReadOnly     = "read_only"
	cfgKeySessionVars  = "session_vars"

	dialectMemory = "memory"
)

// flagKeys maps configuration keys to the flags overriding them.
var flagKeys = map[string]string{
	cfgKeyModel:        "model",
	cfgKeyLogLevel:     "log-level",
	cfgKeyDialect:      "dialect",
	cfgKeyDSN:          "dsn",
	cfgKeyBlockSize:    "block-size",
	cfgKeyCreateTables: "create-tables",
	cfgKeyReadOnly:     "read-only",
	cfgKeySessionVars:  "set",
}

// loadConfig merges, from lowest to highest precedence, defaults, the
// config file, UOWPLAN_* environment variables and command line flags.
// A missing default config file is not an error.
func loadConfig(file string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetDefault(cfgKeyDialect, dialectMemory)
	v.SetDefault(cfgKeyBlockSize, 1)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	for key, name := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
