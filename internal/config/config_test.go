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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./.trustengine", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:12799", cfg.MetricsListenAddress)
	assert.Equal(t, time.Minute, cfg.ProcessingInterval)
	assert.Equal(t, 100, cfg.ProcessingBatchSize)
	assert.True(t, cfg.SeedDefaultConfig)
}

func TestLoadYamlFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(
		"dataDir: /var/lib/trustengine\n" +
			"logLevel: debug\n" +
			"processingInterval: 30s\n" +
			"processingBatchSize: 250\n",
	)
	require.NoError(t, os.WriteFile(configFile, content, 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/trustengine", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ProcessingInterval)
	assert.Equal(t, 250, cfg.ProcessingBatchSize)
	// Untouched keys keep their defaults
	assert.Equal(t, "127.0.0.1:12799", cfg.MetricsListenAddress)
}

func TestLoadEnvOverride(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("logLevel: debug\n"), 0o644))
	t.Setenv("TRUSTENGINE_LOG_LEVEL", "warn")
	t.Setenv("TRUSTENGINE_PROCESSING_BATCH_SIZE", "42")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	// Environment wins over the file
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 42, cfg.ProcessingBatchSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
