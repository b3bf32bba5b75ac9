package config

import (
	"bytes"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rowforge/rowforge/pkg/errors"
)

// Load reads a YAML file into config. Environment references like
// ${STORE_PASSWORD} are expanded before parsing, and durations accept
// forms like "200ms" or "1m30s".
func Load(path string, config *ClientConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfiguration, "read config %s", path)
	}
	expanded := os.Expand(string(data), os.Getenv)

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfiguration, "parse config %s", path)
	}
	if err := v.Unmarshal(config, yamlTags); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfiguration, "decode config %s", path)
	}
	return nil
}

// yamlTags makes viper decode against the same field names the yaml
// tags declare.
func yamlTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

// Save writes config to a YAML file.
func Save(path string, config *ClientConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfiguration, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfiguration, "write config %s", path)
	}
	return nil
}
