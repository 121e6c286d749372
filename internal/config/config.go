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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flightsurety "github.com/FentonA/flightsurety"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "flightsurety.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	BindAddr              string `yaml:"bindAddr"                                                            split_words:"true"`
	DataDir               string `yaml:"dataDir"               envconfig:"FLIGHTSURETY_DATA_DIR"`
	GenesisAirlineName    string `yaml:"genesisAirlineName"    envconfig:"FLIGHTSURETY_GENESIS_AIRLINE_NAME"`
	GenesisAirlineAccount string `yaml:"genesisAirlineAccount" envconfig:"FLIGHTSURETY_GENESIS_AIRLINE_ACCOUNT"`
	ShutdownTimeout       string `yaml:"shutdownTimeout"                                                     split_words:"true"`
	MetricsPort           uint   `yaml:"metricsPort"                                                         split_words:"true"`
	FounderQuota          int    `yaml:"founderQuota"          envconfig:"FLIGHTSURETY_FOUNDER_QUOTA"`
	MinResponses          int    `yaml:"minResponses"          envconfig:"FLIGHTSURETY_MIN_RESPONSES"`
	OracleFee             uint64 `yaml:"oracleFee"             envconfig:"FLIGHTSURETY_ORACLE_FEE"`
	MinAirlineFunding     uint64 `yaml:"minAirlineFunding"     envconfig:"FLIGHTSURETY_MIN_AIRLINE_FUNDING"`
	MinPremium            uint64 `yaml:"minPremium"            envconfig:"FLIGHTSURETY_MIN_PREMIUM"`
	PayoutPercent         uint64 `yaml:"payoutPercent"         envconfig:"FLIGHTSURETY_PAYOUT_PERCENT"`
	SessionExpiry         string `yaml:"sessionExpiry"         envconfig:"FLIGHTSURETY_SESSION_EXPIRY"`
	StrictResponses       bool   `yaml:"strictResponses"       envconfig:"FLIGHTSURETY_STRICT_RESPONSES"`
}

var globalConfig = &Config{
	BindAddr:          "0.0.0.0",
	DataDir:           ".flightsurety",
	MetricsPort:       12798,
	OracleFee:         flightsurety.DefaultOracleFee,
	MinAirlineFunding: flightsurety.DefaultMinFunding,
	MinPremium:        flightsurety.DefaultMinPremium,
	PayoutPercent:     flightsurety.DefaultPayoutPercent,
	SessionExpiry:     "1h",
	ShutdownTimeout:   DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.flightsurety/flightsurety.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(
				homeDir,
				".flightsurety",
				"flightsurety.yaml",
			)
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/flightsurety/flightsurety.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/flightsurety/flightsurety.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("flightsurety", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	if globalConfig.GenesisAirlineAccount == "" {
		return nil, fmt.Errorf("no genesis airline account configured")
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
