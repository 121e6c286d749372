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

// Package flightsurety wires the participant registry, governance voting,
// oracle consensus and insurance ledger into one engine behind an
// operational gate. All state-changing entry points run through the Node;
// withdrawal stays available while the gate is closed so credited funds
// remain retrievable.
package flightsurety

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FentonA/flightsurety/database"
	"github.com/FentonA/flightsurety/event"
	"github.com/FentonA/flightsurety/governance"
	"github.com/FentonA/flightsurety/ledger"
	"github.com/FentonA/flightsurety/oracle"
	"github.com/FentonA/flightsurety/registry"
)

var ErrNotOperational = errors.New("engine is not operational")

type Node struct {
	config      Config
	eventBus    *event.EventBus
	registry    *registry.Registry
	governance  *governance.Engine
	oracles     *oracle.Oracles
	ledger      *ledger.Ledger
	db          *database.Store
	operational bool
	opMutex     sync.RWMutex
}

func New(cfg Config) (*Node, error) {
	if cfg.genesisAccount == "" {
		return nil, errors.New("no genesis airline configured")
	}
	n := &Node{
		config:      cfg,
		eventBus:    event.NewEventBus(cfg.promRegistry, cfg.logger),
		operational: true,
	}
	balances := cfg.balances
	if balances == nil {
		db, err := database.New(&database.Config{
			DataDir:      cfg.dataDir,
			Logger:       cfg.logger,
			PromRegistry: cfg.promRegistry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open balance store: %w", err)
		}
		n.db = db
		balances = db
	}
	entropy := cfg.entropy
	if entropy == nil {
		tmpEntropy, err := oracle.NewRingEntropy()
		if err != nil {
			return nil, fmt.Errorf("failed to seed entropy: %w", err)
		}
		entropy = tmpEntropy
	}
	n.registry = registry.NewRegistry(registry.RegistryConfig{
		PromRegistry: cfg.promRegistry,
		Logger:       cfg.logger,
		EventBus:     n.eventBus,
		MinFunding:   cfg.minFunding,
	})
	n.governance = governance.NewEngine(governance.EngineConfig{
		PromRegistry: cfg.promRegistry,
		Logger:       cfg.logger,
		EventBus:     n.eventBus,
		Registry:     n.registry,
		FounderQuota: cfg.founderQuota,
	})
	n.ledger = ledger.NewLedger(ledger.LedgerConfig{
		PromRegistry:    cfg.promRegistry,
		Logger:          cfg.logger,
		EventBus:        n.eventBus,
		Balances:        balances,
		Airlines:        n.registry,
		MinPremium:      cfg.minPremium,
		PayoutPercent:   cfg.payoutPercent,
		PayableStatuses: cfg.payableStatuses,
	})
	n.oracles = oracle.NewOracles(oracle.OraclesConfig{
		PromRegistry:    cfg.promRegistry,
		Logger:          cfg.logger,
		EventBus:        n.eventBus,
		Entropy:         entropy,
		Flights:         n.ledger,
		RegistrationFee: cfg.oracleFee,
		MinResponses:    cfg.minResponses,
		StrictResponses: cfg.strictResponses,
	})
	if err := n.registry.Admit(cfg.genesisName, cfg.genesisAccount); err != nil {
		return nil, fmt.Errorf("failed to seed genesis airline: %w", err)
	}
	return n, nil
}

// Stop shuts down the event bus and closes the balance store
func (n *Node) Stop() error {
	n.eventBus.Stop()
	if n.db != nil {
		return n.db.Close()
	}
	return nil
}

// IsOperational returns the state of the administrative gate
func (n *Node) IsOperational() bool {
	n.opMutex.RLock()
	defer n.opMutex.RUnlock()
	return n.operational
}

// SetOperational toggles the administrative gate. The gate itself and
// withdrawals are the only entry points exempt from it.
func (n *Node) SetOperational(operational bool) {
	n.opMutex.Lock()
	n.operational = operational
	n.opMutex.Unlock()
	n.config.logger.Info(
		"operational gate changed",
		"component", "node",
		"operational", operational,
	)
}

func (n *Node) requireOperational() error {
	if !n.IsOperational() {
		return ErrNotOperational
	}
	return nil
}

// RegisterAirline proposes a candidate participant. During the founder
// phase the candidate is admitted immediately; afterward this casts the
// proposer's admission vote.
func (n *Node) RegisterAirline(
	candidateName, candidateAccount, proposerAccount string,
) (bool, int, error) {
	if err := n.requireOperational(); err != nil {
		return false, 0, err
	}
	return n.governance.ProposeOrAdmit(
		candidateName,
		candidateAccount,
		proposerAccount,
	)
}

// FundAirline adds to a participant's fund balance
func (n *Node) FundAirline(account string, amount uint64) error {
	if err := n.requireOperational(); err != nil {
		return err
	}
	return n.registry.Fund(account, amount)
}

// RegisterFlight creates a flight record for a funded airline
func (n *Node) RegisterFlight(
	airline, flight string,
	timestamp int64,
) (ledger.FlightKey, error) {
	if err := n.requireOperational(); err != nil {
		return ledger.FlightKey{}, err
	}
	return n.ledger.RegisterFlight(airline, flight, timestamp)
}

// BuyCoverage records an escrow coverage purchase against a flight
func (n *Node) BuyCoverage(
	ctx context.Context,
	buyer, airline, flight string,
	timestamp int64,
	amount uint64,
) error {
	if err := n.requireOperational(); err != nil {
		return err
	}
	return n.ledger.BuyCoverage(ctx, buyer, airline, flight, timestamp, amount)
}

// RegisterOracle admits a new attestor with a paid registration fee
func (n *Node) RegisterOracle(account string, paidFee uint64) error {
	if err := n.requireOperational(); err != nil {
		return err
	}
	return n.oracles.Register(account, paidFee)
}

// OracleIndexes returns an attestor's assigned response indexes
func (n *Node) OracleIndexes(account string) ([oracle.IndexCount]uint8, error) {
	return n.oracles.Indexes(account)
}

// FetchFlightStatus opens a consensus session and broadcasts the request
// to attestor clients
func (n *Node) FetchFlightStatus(
	airline, flight string,
	timestamp int64,
	requester string,
) (uint8, error) {
	if err := n.requireOperational(); err != nil {
		return 0, err
	}
	return n.oracles.IssueRequest(airline, flight, timestamp, requester)
}

// SubmitOracleResponse records one attestation response, finalizing the
// session when a status reaches quorum
func (n *Node) SubmitOracleResponse(
	account string,
	index uint8,
	airline, flight string,
	timestamp int64,
	status ledger.FlightStatus,
) (bool, error) {
	if err := n.requireOperational(); err != nil {
		return false, err
	}
	return n.oracles.SubmitResponse(
		account,
		index,
		airline,
		flight,
		timestamp,
		status,
	)
}

// Withdraw pays out an account's credited balance. Exempt from the
// operational gate: funds already credited must remain retrievable.
func (n *Node) Withdraw(
	ctx context.Context,
	account string,
) (uint64, error) {
	return n.ledger.Withdraw(ctx, account)
}

// EventBus returns the engine's event bus for attestor clients and observers
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

// Registry returns the participant registry
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Ledger returns the insurance ledger
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Oracles returns the attestor and consensus component
func (n *Node) Oracles() *oracle.Oracles {
	return n.oracles
}

// BalanceStore returns the built-in balance store, or nil when an external
// store was injected
func (n *Node) BalanceStore() *database.Store {
	return n.db
}
