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

// Package registry records marketplace participants (airlines) and their
// membership and funding state. Participants are admitted exactly once and
// never deleted. Admission policy lives in the governance package; the
// registry only enforces uniqueness.
package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/FentonA/flightsurety/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	AirlineAdmittedEventType event.EventType = "registry.airline_admitted"
	AirlineFundedEventType   event.EventType = "registry.airline_funded"
)

var (
	ErrAlreadyMember = errors.New("account is already a registered member")
	ErrNotAMember    = errors.New("account is not a registered member")
)

type AirlineAdmittedEvent struct {
	Name    string
	Account string
	Members int
}

type AirlineFundedEvent struct {
	Account string
	Balance uint64
}

// Airline is a marketplace participant. FundBalance accumulates explicit
// funding and collected premiums; IsFunded latches true once the balance
// first reaches the configured minimum.
type Airline struct {
	Name         string
	Account      string
	IsRegistered bool
	IsFunded     bool
	FundBalance  uint64
	AdmittedAt   time.Time
}

type RegistryConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	// MinFunding is the balance at which a participant counts as funded
	MinFunding uint64
}

type Registry struct {
	config   RegistryConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	airlines map[string]*Airline
	metrics  struct {
		membersTotal prometheus.Gauge
		fundedTotal  prometheus.Gauge
	}
	sync.RWMutex
}

func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config:   config,
		eventBus: config.EventBus,
		airlines: make(map[string]*Airline),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		r.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	r.metrics.membersTotal = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_registry_members",
		Help: "current count of registered participants",
	})
	r.metrics.fundedTotal = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_registry_funded_members",
		Help: "current count of funded participants",
	})
	return r
}

// IsMember returns whether the given account is a registered participant
func (r *Registry) IsMember(account string) bool {
	r.RLock()
	defer r.RUnlock()
	_, ok := r.airlines[account]
	return ok
}

// IsFunded returns whether the given account is a registered and funded participant
func (r *Registry) IsFunded(account string) bool {
	r.RLock()
	defer r.RUnlock()
	airline, ok := r.airlines[account]
	return ok && airline.IsFunded
}

// MemberCount returns the current number of registered participants
func (r *Registry) MemberCount() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.airlines)
}

// Airline returns a copy of the participant record for the given account
func (r *Registry) Airline(account string) (Airline, error) {
	r.RLock()
	defer r.RUnlock()
	airline, ok := r.airlines[account]
	if !ok {
		return Airline{}, ErrNotAMember
	}
	return *airline, nil
}

// Admit registers a new participant. New participants start unfunded.
func (r *Registry) Admit(name, account string) error {
	r.Lock()
	if _, ok := r.airlines[account]; ok {
		r.Unlock()
		return ErrAlreadyMember
	}
	r.airlines[account] = &Airline{
		Name:         name,
		Account:      account,
		IsRegistered: true,
		AdmittedAt:   time.Now(),
	}
	members := len(r.airlines)
	r.Unlock()
	r.metrics.membersTotal.Inc()
	r.logger.Info(
		"admitted participant",
		"component", "registry",
		"name", name,
		"account", account,
		"members", members,
	)
	if r.eventBus != nil {
		r.eventBus.Publish(
			AirlineAdmittedEventType,
			event.NewEvent(
				AirlineAdmittedEventType,
				AirlineAdmittedEvent{
					Name:    name,
					Account: account,
					Members: members,
				},
			),
		)
	}
	return nil
}

// Fund adds to a participant's fund balance. The participant becomes funded
// once the balance reaches the configured minimum; the flag never clears.
func (r *Registry) Fund(account string, amount uint64) error {
	r.Lock()
	airline, ok := r.airlines[account]
	if !ok {
		r.Unlock()
		return ErrNotAMember
	}
	airline.FundBalance += amount
	newlyFunded := false
	if !airline.IsFunded && airline.FundBalance >= r.config.MinFunding {
		airline.IsFunded = true
		newlyFunded = true
	}
	balance := airline.FundBalance
	r.Unlock()
	if newlyFunded {
		r.metrics.fundedTotal.Inc()
	}
	r.logger.Debug(
		"funded participant",
		"component", "registry",
		"account", account,
		"amount", amount,
		"balance", balance,
	)
	if newlyFunded && r.eventBus != nil {
		r.eventBus.Publish(
			AirlineFundedEventType,
			event.NewEvent(
				AirlineFundedEventType,
				AirlineFundedEvent{
					Account: account,
					Balance: balance,
				},
			),
		)
	}
	return nil
}

// Debit removes up to amount from a participant's fund balance, saturating
// at zero. It returns the amount actually removed.
func (r *Registry) Debit(account string, amount uint64) (uint64, error) {
	r.Lock()
	airline, ok := r.airlines[account]
	if !ok {
		r.Unlock()
		return 0, ErrNotAMember
	}
	debited := amount
	if debited > airline.FundBalance {
		debited = airline.FundBalance
	}
	airline.FundBalance -= debited
	balance := airline.FundBalance
	r.Unlock()
	if debited < amount {
		r.logger.Warn(
			"participant fund shortfall during debit",
			"component", "registry",
			"account", account,
			"requested", amount,
			"debited", debited,
			"balance", balance,
		)
	}
	return debited, nil
}
