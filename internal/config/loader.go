package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// EnvPrefix prefixes every environment override, e.g.
// DISPATCH_COORDINATOR_CANCEL_TIMEOUT=30s.
const EnvPrefix = "DISPATCH"

// ViperLoader layers an optional config file and DISPATCH_ environment
// variables over Default.
type ViperLoader struct {
	path string
	v    *viper.Viper
}

// NewViperLoader creates a loader reading path when it is non-empty.
func NewViperLoader(path string) *ViperLoader {
	return &ViperLoader{path: path, v: viper.New()}
}

// Load resolves and validates the configuration.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := l.v
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, "", reflect.ValueOf(Default()))

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf of def under its mapstructure key so that
// AutomaticEnv can resolve keys that appear in no config file.
func setDefaults(v *viper.Viper, prefix string, def reflect.Value) {
	t := def.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct && field.Type.String() != "time.Duration" {
			setDefaults(v, key, def.Field(i))
			continue
		}
		v.SetDefault(key, def.Field(i).Interface())
	}
}
