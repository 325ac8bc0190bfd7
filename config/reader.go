package config

import (
	"io"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/elliot2/motioncore/logging"
)

// EnvPrefix prefixes environment overrides, e.g. MOTIONCORE_GPS_CPR=410.
const EnvPrefix = "MOTIONCORE"

// Read reads a JSON config from the given path, applies defaults and environment overrides and
// validates the result. An empty path yields the defaults with overrides applied.
func Read(path string, logger logging.Logger) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "cannot read config file %q", path)
		}
		logger.Debugw("read config", "path", path)
	}
	return finish(v, path)
}

// FromReader reads a JSON config from r, applying the same defaults, overrides and validation as
// Read.
func FromReader(r io.Reader, logger logging.Logger) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	logger.Debug("read config from reader")
	return finish(v, "")
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("json")

	var defaults map[string]interface{}
	if err := mapstructure.Decode(Default(), &defaults); err != nil {
		return nil, errors.Wrap(err, "cannot encode config defaults")
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, path string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}
