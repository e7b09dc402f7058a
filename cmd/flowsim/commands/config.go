package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SimConfig holds the timings a run uses when flags leave them unset.
type SimConfig struct {
	LoadingTimeout       time.Duration `mapstructure:"loading-timeout"`
	LegitimateCloseAfter time.Duration `mapstructure:"legitimate-close-after"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// LoadConfig merges defaults, an optional config file, FLOWSIM_* env vars
// and changed flags, in increasing order of precedence.
func LoadConfig(configFile string, flags *pflag.FlagSet) (SimConfig, error) {
	v := viper.New()
	defaults := flowDefaults()
	v.SetDefault("loading-timeout", defaults.LoadingTimeout)
	v.SetDefault("legitimate-close-after", defaults.LegitimateCloseAfter)
	v.SetDefault("timeout", 30*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("FLOWSIM")
	v.AutomaticEnv()

	if flags != nil {
		for _, name := range []string{"loading-timeout", "legitimate-close-after", "timeout"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(name, f); err != nil {
					return SimConfig{}, fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}
	}

	path, err := resolveConfigFile(configFile)
	if err != nil {
		return SimConfig{}, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return SimConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg SimConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SimConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("config file not found: %s", explicit)
			}
			return "", fmt.Errorf("config file error: %w", err)
		}
		return explicit, nil
	}

	candidates := []string{"./flowsim.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "flowsim", "config.yaml"))
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil
	}
	return "", nil
}
