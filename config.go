// Copyright 2025 Blink Labs Software
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

package flightsurety

import (
	"io"
	"log/slog"

	"github.com/FentonA/flightsurety/governance"
	"github.com/FentonA/flightsurety/ledger"
	"github.com/FentonA/flightsurety/oracle"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultOracleFee     = 100
	DefaultMinFunding    = 1000
	DefaultMinPremium    = 10
	DefaultPayoutPercent = 150
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	entropy         oracle.EntropyProvider
	balances        ledger.BalanceStore
	dataDir         string
	genesisName     string
	genesisAccount  string
	payableStatuses []ledger.FlightStatus
	founderQuota    int
	minResponses    int
	oracleFee       uint64
	minFunding      uint64
	minPremium      uint64
	payoutPercent   uint64
	strictResponses bool
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new engine config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		founderQuota:    governance.DefaultFounderQuota,
		minResponses:    oracle.DefaultMinResponses,
		oracleFee:       DefaultOracleFee,
		minFunding:      DefaultMinFunding,
		minPremium:      DefaultMinPremium,
		payoutPercent:   DefaultPayoutPercent,
		payableStatuses: []ledger.FlightStatus{ledger.StatusLateAirline},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDataDir specifies the persistent data directory for the balance
// store. The default is to store balances in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithGenesisAirline specifies the participant seeded at construction.
// Without a seeded participant no proposer could ever admit another.
func WithGenesisAirline(name, account string) ConfigOptionFunc {
	return func(c *Config) {
		c.genesisName = name
		c.genesisAccount = account
	}
}

// WithFounderQuota specifies the membership size reached without voting
func WithFounderQuota(quota int) ConfigOptionFunc {
	return func(c *Config) {
		c.founderQuota = quota
	}
}

// WithMinResponses specifies the consensus quorum of distinct attestors
func WithMinResponses(minResponses int) ConfigOptionFunc {
	return func(c *Config) {
		c.minResponses = minResponses
	}
}

// WithOracleFee specifies the attestor registration fee
func WithOracleFee(fee uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.oracleFee = fee
	}
}

// WithMinAirlineFunding specifies the fund balance at which a participant
// counts as funded
func WithMinAirlineFunding(minFunding uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.minFunding = minFunding
	}
}

// WithMinPremium specifies the smallest accepted coverage purchase
func WithMinPremium(minPremium uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.minPremium = minPremium
	}
}

// WithPayoutPercent specifies the percentage applied to coverage amounts
// during the credit pass
func WithPayoutPercent(percent uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.payoutPercent = percent
	}
}

// WithPayableStatuses specifies which finalized outcomes trigger a credit pass
func WithPayableStatuses(statuses ...ledger.FlightStatus) ConfigOptionFunc {
	return func(c *Config) {
		c.payableStatuses = statuses
	}
}

// WithStrictResponses rejects repeat attestor submissions of the same
// status instead of tolerating them
func WithStrictResponses(strict bool) ConfigOptionFunc {
	return func(c *Config) {
		c.strictResponses = strict
	}
}

// WithEntropyProvider specifies the entropy source for oracle index
// assignment. This defaults to an OS-seeded ring; tests supply fixed
// sequences
func WithEntropyProvider(entropy oracle.EntropyProvider) ConfigOptionFunc {
	return func(c *Config) {
		c.entropy = entropy
	}
}

// WithBalanceStore specifies the external balance store. This defaults to
// the built-in SQLite store under the configured data directory
func WithBalanceStore(balances ledger.BalanceStore) ConfigOptionFunc {
	return func(c *Config) {
		c.balances = balances
	}
}
