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

package trustengine

import (
	"log/slog"
	"time"

	"github.com/circleworks/trustengine/directory"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultProcessingInterval  = time.Minute
	DefaultProcessingBatchSize = 100
	DefaultShutdownTimeout     = 30 * time.Second
)

type Config struct {
	promRegistry        prometheus.Registerer
	logger              *slog.Logger
	users               directory.UserDirectory
	activity            directory.ActivitySource
	events              directory.EventAttendance
	communities         directory.Communities
	notifier            directory.Notifier
	dataDir             string
	processingInterval  time.Duration
	processingBatchSize int
	shutdownTimeout     time.Duration
	tracing             bool
	tracingStdout       bool
	seedDefaultConfig   bool
}

type ConfigOptionFunc func(*Config)

// NewConfig creates a new engine config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		processingInterval:  DefaultProcessingInterval,
		processingBatchSize: DefaultProcessingBatchSize,
		shutdownTimeout:     DefaultShutdownTimeout,
		notifier:            directory.NopNotifier{},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. Defaults to discarding log output.
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDataDir specifies the persistent data directory. An empty data dir
// uses in-memory storage.
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithUserDirectory specifies the external user directory that owns profile
// records and the stored trust score
func WithUserDirectory(users directory.UserDirectory) ConfigOptionFunc {
	return func(c *Config) {
		c.users = users
	}
}

// WithActivitySource specifies the external activity signal provider
func WithActivitySource(activity directory.ActivitySource) ConfigOptionFunc {
	return func(c *Config) {
		c.activity = activity
	}
}

// WithEventAttendance specifies the external event attendance provider used
// by auto-vouch eligibility
func WithEventAttendance(events directory.EventAttendance) ConfigOptionFunc {
	return func(c *Config) {
		c.events = events
	}
}

// WithCommunities specifies the external community membership provider that
// authorizes community vouches
func WithCommunities(communities directory.Communities) ConfigOptionFunc {
	return func(c *Config) {
		c.communities = communities
	}
}

// WithNotifier specifies the notification dispatcher for vouch state
// changes. Defaults to dropping notifications.
func WithNotifier(notifier directory.Notifier) ConfigOptionFunc {
	return func(c *Config) {
		c.notifier = notifier
	}
}

// WithProcessingInterval specifies how often pending accountability entries
// are folded into trust scores. The default is one minute.
func WithProcessingInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.processingInterval = interval
	}
}

// WithProcessingBatchSize specifies the max entries per processing run
func WithProcessingBatchSize(batchSize int) ConfigOptionFunc {
	return func(c *Config) {
		c.processingBatchSize = batchSize
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithSeedDefaultConfig seeds the default vouch policy when the database has
// no config rows. Without it, a fresh database fails every operation with a
// missing-config error until a policy is added.
func WithSeedDefaultConfig(seed bool) ConfigOptionFunc {
	return func(c *Config) {
		c.seedDefaultConfig = seed
	}
}
