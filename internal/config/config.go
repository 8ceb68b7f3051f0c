// Copyright 2025 Circleworks Software
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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the daemon-level configuration, loaded from an optional YAML
// file with environment variable overrides
type Config struct {
	DataDir              string        `yaml:"dataDir"              envconfig:"DATA_DIR"`
	LogLevel             string        `yaml:"logLevel"             envconfig:"LOG_LEVEL"`
	MetricsListenAddress string        `yaml:"metricsListenAddress" envconfig:"METRICS_LISTEN_ADDRESS"`
	ProcessingInterval   time.Duration `yaml:"processingInterval"   envconfig:"PROCESSING_INTERVAL"`
	ProcessingBatchSize  int           `yaml:"processingBatchSize"  envconfig:"PROCESSING_BATCH_SIZE"`
	Tracing              bool          `yaml:"tracing"              envconfig:"TRACING"`
	TracingStdout        bool          `yaml:"tracingStdout"        envconfig:"TRACING_STDOUT"`
	SeedDefaultConfig    bool          `yaml:"seedDefaultConfig"    envconfig:"SEED_DEFAULT_CONFIG"`
}

func defaultConfig() *Config {
	return &Config{
		DataDir:              "./.trustengine",
		LogLevel:             "info",
		MetricsListenAddress: "127.0.0.1:12799",
		ProcessingInterval:   time.Minute,
		ProcessingBatchSize:  100,
		SeedDefaultConfig:    true,
	}
}

// Load reads the optional YAML config file and applies TRUSTENGINE_*
// environment variable overrides on top
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("trustengine", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return cfg, nil
}
