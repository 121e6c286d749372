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

// Package ledger tracks flights, escrow coverage purchases and payable
// credits. A finalized flight outcome is applied at most once per flight
// key, and the credit pass it triggers runs at most once per flight key.
// Balance-store I/O happens outside any held lock.
package ledger

import (
	"context"
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
	FlightRegisteredEventType  event.EventType = "ledger.flight_registered"
	CoveragePurchasedEventType event.EventType = "ledger.coverage_purchased"
	InsureesCreditedEventType  event.EventType = "ledger.insurees_credited"
	WithdrawalEventType        event.EventType = "ledger.withdrawal"
)

var (
	ErrFlightExists        = errors.New("flight is already registered")
	ErrFlightNotRegistered = errors.New("flight is not registered")
	ErrAirlineNotFunded    = errors.New("airline is not a funded participant")
	ErrBelowMinimumPremium = errors.New("premium is below the minimum")
	ErrAlreadyCredited     = errors.New("insurees have already been credited for this flight")
	ErrNothingToWithdraw   = errors.New("no credited balance to withdraw")
)

type FlightRegisteredEvent struct {
	Key       FlightKey
	Airline   string
	Flight    string
	Timestamp int64
}

type CoveragePurchasedEvent struct {
	Key     FlightKey
	Insured string
	Amount  uint64
}

type InsureesCreditedEvent struct {
	Key      FlightKey
	Airline  string
	Insurees int
	Total    uint64
	Percent  uint64
}

type WithdrawalEvent struct {
	Account string
	Amount  uint64
}

// BalanceStore is the external account-balance collaborator. The ledger
// calls it only on coverage purchase (premium capture) and on withdrawal.
type BalanceStore interface {
	Transfer(ctx context.Context, account string, amount uint64) error
	DepositFrom(ctx context.Context, account string, amount uint64) error
}

// AirlineFunds is the view of the participant registry the ledger uses to
// move premium and payout amounts through airline fund balances.
type AirlineFunds interface {
	IsFunded(account string) bool
	Fund(account string, amount uint64) error
	Debit(account string, amount uint64) (uint64, error)
}

type LedgerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Balances     BalanceStore
	Airlines     AirlineFunds
	// MinPremium is the smallest accepted coverage purchase
	MinPremium uint64
	// PayoutPercent is applied to each coverage amount during the credit pass
	PayoutPercent uint64
	// PayableStatuses is the set of finalized outcomes that trigger a credit pass
	PayableStatuses []FlightStatus
}

type Ledger struct {
	config    LedgerConfig
	logger    *slog.Logger
	eventBus  *event.EventBus
	balances  BalanceStore
	airlines  AirlineFunds
	flights   map[FlightKey]*Flight
	coverages map[FlightKey][]*Coverage
	credits   map[string]uint64
	credited  map[FlightKey]bool
	metrics   struct {
		flightsRegistered prometheus.Counter
		coveragesSold     prometheus.Counter
		creditsApplied    prometheus.Counter
		withdrawals       prometheus.Counter
	}
	sync.Mutex
}

func NewLedger(config LedgerConfig) *Ledger {
	l := &Ledger{
		config:    config,
		eventBus:  config.EventBus,
		balances:  config.Balances,
		airlines:  config.Airlines,
		flights:   make(map[FlightKey]*Flight),
		coverages: make(map[FlightKey][]*Coverage),
		credits:   make(map[string]uint64),
		credited:  make(map[FlightKey]bool),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		l.logger = config.Logger
	}
	promautoFactory := promauto.With(config.PromRegistry)
	l.metrics.flightsRegistered = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_ledger_flights_registered_total",
			Help: "total flights registered",
		},
	)
	l.metrics.coveragesSold = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_ledger_coverages_sold_total",
			Help: "total coverage purchases",
		},
	)
	l.metrics.creditsApplied = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_ledger_credit_passes_total",
			Help: "total credit passes applied",
		},
	)
	l.metrics.withdrawals = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_ledger_withdrawals_total",
			Help: "total completed withdrawals",
		},
	)
	return l
}

// RegisterFlight creates a flight record for a funded airline
func (l *Ledger) RegisterFlight(
	airline, flight string,
	timestamp int64,
) (FlightKey, error) {
	key := NewFlightKey(airline, flight, timestamp)
	if l.airlines != nil && !l.airlines.IsFunded(airline) {
		return key, ErrAirlineNotFunded
	}
	l.Lock()
	if _, ok := l.flights[key]; ok {
		l.Unlock()
		return key, ErrFlightExists
	}
	l.flights[key] = &Flight{
		Name:         flight,
		Airline:      airline,
		IsRegistered: true,
		Status:       StatusUnknown,
		ScheduledAt:  timestamp,
	}
	l.Unlock()
	l.metrics.flightsRegistered.Inc()
	l.logger.Info(
		"registered flight",
		"component", "ledger",
		"airline", airline,
		"flight", flight,
		"timestamp", timestamp,
		"key", key.String(),
	)
	if l.eventBus != nil {
		l.eventBus.Publish(
			FlightRegisteredEventType,
			event.NewEvent(
				FlightRegisteredEventType,
				FlightRegisteredEvent{
					Key:       key,
					Airline:   airline,
					Flight:    flight,
					Timestamp: timestamp,
				},
			),
		)
	}
	return key, nil
}

// HasFlight reports whether a flight record exists for the given identity
func (l *Ledger) HasFlight(airline, flight string, timestamp int64) bool {
	key := NewFlightKey(airline, flight, timestamp)
	l.Lock()
	defer l.Unlock()
	_, ok := l.flights[key]
	return ok
}

// Flight returns a copy of the flight record for the given key
func (l *Ledger) Flight(key FlightKey) (Flight, error) {
	l.Lock()
	defer l.Unlock()
	flight, ok := l.flights[key]
	if !ok {
		return Flight{}, ErrFlightNotRegistered
	}
	return *flight, nil
}

// BuyCoverage records an escrow coverage purchase. The premium is captured
// from the buyer through the balance store and held in the airline's fund
// balance pending a possible payout.
func (l *Ledger) BuyCoverage(
	ctx context.Context,
	buyer, airline, flight string,
	timestamp int64,
	amount uint64,
) error {
	if amount < l.config.MinPremium {
		return ErrBelowMinimumPremium
	}
	key := NewFlightKey(airline, flight, timestamp)
	l.Lock()
	if _, ok := l.flights[key]; !ok {
		l.Unlock()
		return ErrFlightNotRegistered
	}
	l.Unlock()
	// Premium capture happens before the coverage is recorded so a failed
	// capture leaves no state behind
	if l.balances != nil {
		if err := l.balances.DepositFrom(ctx, buyer, amount); err != nil {
			return err
		}
	}
	l.Lock()
	l.coverages[key] = append(l.coverages[key], &Coverage{
		Insured:     buyer,
		Flight:      key,
		Amount:      amount,
		PurchasedAt: time.Now(),
	})
	l.Unlock()
	if l.airlines != nil {
		if err := l.airlines.Fund(airline, amount); err != nil {
			return err
		}
	}
	l.metrics.coveragesSold.Inc()
	l.logger.Info(
		"coverage purchased",
		"component", "ledger",
		"insured", buyer,
		"key", key.String(),
		"amount", amount,
	)
	if l.eventBus != nil {
		l.eventBus.Publish(
			CoveragePurchasedEventType,
			event.NewEvent(
				CoveragePurchasedEventType,
				CoveragePurchasedEvent{
					Key:     key,
					Insured: buyer,
					Amount:  amount,
				},
			),
		)
	}
	return nil
}

// ApplyStatus records a finalized consensus outcome against the flight.
// The first call for a flight key wins; later calls are no-ops so repeated
// consensus sessions for the same flight cannot double-apply credit. When
// the outcome is in the configured payable set, the credit pass runs at the
// configured payout percentage.
func (l *Ledger) ApplyStatus(
	airline, flight string,
	timestamp int64,
	status FlightStatus,
) (bool, error) {
	key := NewFlightKey(airline, flight, timestamp)
	l.Lock()
	tmpFlight, ok := l.flights[key]
	if !ok {
		l.Unlock()
		return false, ErrFlightNotRegistered
	}
	if tmpFlight.Status != StatusUnknown || !tmpFlight.UpdatedAt.IsZero() {
		// Already finalized
		l.Unlock()
		return false, nil
	}
	tmpFlight.Status = status
	tmpFlight.UpdatedAt = time.Now()
	l.Unlock()
	l.logger.Info(
		"applied flight status",
		"component", "ledger",
		"key", key.String(),
		"status", status.String(),
	)
	payable := false
	for _, payableStatus := range l.config.PayableStatuses {
		if status == payableStatus {
			payable = true
			break
		}
	}
	if payable {
		if err := l.CreditInsurees(airline, flight, timestamp, l.config.PayoutPercent); err != nil {
			return true, err
		}
	}
	return true, nil
}

// CreditInsurees runs the one-time credit pass for a flight: every coverage
// is credited amount*percent/100 (integer floor) and the airline fund is
// debited by the same total. Repeat calls fail with ErrAlreadyCredited.
func (l *Ledger) CreditInsurees(
	airline, flight string,
	timestamp int64,
	percent uint64,
) error {
	key := NewFlightKey(airline, flight, timestamp)
	l.Lock()
	if _, ok := l.flights[key]; !ok {
		l.Unlock()
		return ErrFlightNotRegistered
	}
	if l.credited[key] {
		l.Unlock()
		return ErrAlreadyCredited
	}
	l.credited[key] = true
	var total uint64
	insurees := 0
	for _, coverage := range l.coverages[key] {
		credit := coverage.Amount * percent / 100
		l.credits[coverage.Insured] += credit
		total += credit
		insurees++
	}
	l.Unlock()
	if total > 0 && l.airlines != nil {
		// Debit saturates at zero; insolvency is logged by the registry
		// rather than blocking buyer credits
		if _, err := l.airlines.Debit(airline, total); err != nil {
			return err
		}
	}
	l.metrics.creditsApplied.Inc()
	l.logger.Info(
		"credited insurees",
		"component", "ledger",
		"key", key.String(),
		"insurees", insurees,
		"total", total,
		"percent", percent,
	)
	if l.eventBus != nil {
		l.eventBus.Publish(
			InsureesCreditedEventType,
			event.NewEvent(
				InsureesCreditedEventType,
				InsureesCreditedEvent{
					Key:      key,
					Airline:  airline,
					Insurees: insurees,
					Total:    total,
					Percent:  percent,
				},
			),
		)
	}
	return nil
}

// CreditOf returns the account's current payable credit balance
func (l *Ledger) CreditOf(account string) uint64 {
	l.Lock()
	defer l.Unlock()
	return l.credits[account]
}

// Withdraw zeroes the account's credit entry and transfers the amount
// through the balance store. Credited funds must remain retrievable, so a
// failed transfer restores the entry.
func (l *Ledger) Withdraw(
	ctx context.Context,
	account string,
) (uint64, error) {
	l.Lock()
	amount := l.credits[account]
	if amount == 0 {
		l.Unlock()
		return 0, ErrNothingToWithdraw
	}
	l.credits[account] = 0
	l.Unlock()
	if l.balances != nil {
		if err := l.balances.Transfer(ctx, account, amount); err != nil {
			l.Lock()
			l.credits[account] += amount
			l.Unlock()
			return 0, err
		}
	}
	l.metrics.withdrawals.Inc()
	l.logger.Info(
		"withdrawal completed",
		"component", "ledger",
		"account", account,
		"amount", amount,
	)
	if l.eventBus != nil {
		l.eventBus.Publish(
			WithdrawalEventType,
			event.NewEvent(
				WithdrawalEventType,
				WithdrawalEvent{
					Account: account,
					Amount:  amount,
				},
			),
		)
	}
	return amount, nil
}
