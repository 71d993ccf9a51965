// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines vfsctl's configuration surface: flags bound
// through cobra/pflag, overridable by a YAML file loaded with viper,
// and decoded into a typed Config with mapstructure.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is vfsctl's fully resolved configuration.
type Config struct {
	Mount  MountConfig  `mapstructure:"mount"`
	Log    LogConfig    `mapstructure:"log"`
	Metric MetricConfig `mapstructure:"metric"`
}

// MountConfig controls the initial root mount.
type MountConfig struct {
	Driver   string `mapstructure:"driver"`
	ReadOnly bool   `mapstructure:"read-only"`
}

// LogConfig controls internal/vfslog's output.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
}

// MetricConfig controls the Prometheus endpoint.
type MetricConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// BindFlags registers one pflag per setting on flagSet and binds each
// into viper under the matching dotted key, mirroring cfg.BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("mount.driver", "memfs", "Filesystem driver to mount at the namespace root.")
	flagSet.Bool("mount.read-only", false, "Mount the root filesystem read-only.")
	flagSet.String("log.format", "text", "Log format: text or json.")
	flagSet.String("log.level", "info", "Log level: debug, info, warn, or error.")
	flagSet.String("log.file", "", "Log file path; empty means stderr.")
	flagSet.Bool("metric.enabled", false, "Serve Prometheus metrics.")
	flagSet.String("metric.addr", ":9090", "Address for the Prometheus metrics endpoint.")

	for _, key := range []string{
		"mount.driver", "mount.read-only",
		"log.format", "log.level", "log.file",
		"metric.enabled", "metric.addr",
	} {
		if err := viper.BindPFlag(key, flagSet.Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

// Load decodes viper's current settings (flags, optionally overlaid by
// a config file viper.ReadInConfig already loaded) into a Config.
func Load() (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
