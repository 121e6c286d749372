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

// Package oracle registers attestors, assigns their response indexes and
// aggregates attestation responses into flight status consensus. Responses
// arrive asynchronously and out of order; a session finalizes the first
// time any single status code collects the quorum of distinct attestors,
// and the finalize-once guarantee is enforced downstream by the flight
// record rather than by closing the session.
package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/FentonA/flightsurety/event"
	"github.com/FentonA/flightsurety/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	RequestEventType      event.EventType = "oracle.request"
	FlightStatusEventType event.EventType = "oracle.flight_status"

	// IndexCount indexes per attestor, each in [0, IndexRange)
	IndexCount = 3
	IndexRange = 10

	// DefaultMinResponses is the quorum of distinct attestors per status code
	DefaultMinResponses = 3

	// NonceWrap keeps entropy lookback offsets inside the provider's window
	NonceWrap = 251
)

var (
	ErrInsufficientFee       = errors.New("registration fee is below the minimum")
	ErrDuplicateRegistration = errors.New("attestor is already registered")
	ErrNotRegistered         = errors.New("attestor is not registered")
	ErrIndexMismatch         = errors.New("index is not assigned to this attestor")
	ErrInvalidStatus         = errors.New("status is not a defined wire code")
	ErrDuplicateResponse     = errors.New("attestor has already submitted this status for this session")
)

// SessionNotOpenError is returned when a response arrives for a request key
// with no open consensus session.
type SessionNotOpenError struct {
	Airline   string
	Flight    string
	Timestamp int64
	Index     uint8
}

func (e *SessionNotOpenError) Error() string {
	return fmt.Sprintf(
		"no open consensus session: index=%d airline=%s flight=%s timestamp=%d",
		e.Index,
		e.Airline,
		e.Flight,
		e.Timestamp,
	)
}

// RequestEvent is broadcast to attestor clients when a status fetch is
// issued. Only attestors holding Index may answer.
type RequestEvent struct {
	Airline   string
	Flight    string
	Requester string
	Timestamp int64
	Index     uint8
}

// FlightStatusEvent carries a finalized consensus outcome
type FlightStatusEvent struct {
	Airline   string
	Flight    string
	Timestamp int64
	Status    ledger.FlightStatus
}

// FlightStatusUpdater is the downstream sink for finalized outcomes. The
// insurance ledger implements it; Applied reports whether this call was the
// first for the flight key. HasFlight gates request issuance so a session
// can only open for a flight the ledger knows about.
type FlightStatusUpdater interface {
	HasFlight(airline, flight string, timestamp int64) bool
	ApplyStatus(
		airline, flight string,
		timestamp int64,
		status ledger.FlightStatus,
	) (bool, error)
}

// Attestor is a registered oracle with its immutable index assignment
type Attestor struct {
	Account      string
	IsRegistered bool
	Indexes      [IndexCount]uint8
	RegisteredAt time.Time
}

// RequestKey fingerprints (index, airline, flight, timestamp)
type RequestKey [32]byte

func NewRequestKey(
	index uint8,
	airline, flight string,
	timestamp int64,
) RequestKey {
	h := sha256.New()
	h.Write([]byte{index})
	h.Write([]byte(airline))
	h.Write([]byte{0})
	h.Write([]byte(flight))
	h.Write([]byte{0})
	tmpTimestamp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmpTimestamp, uint64(timestamp)) //nolint:gosec
	h.Write(tmpTimestamp)
	return RequestKey(h.Sum(nil))
}

type session struct {
	requester string
	airline   string
	flight    string
	responses map[ledger.FlightStatus]map[string]bool
	openedAt  time.Time
	timestamp int64
	index     uint8
	isOpen    bool
	finalized bool
}

type OraclesConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Entropy      EntropyProvider
	Flights      FlightStatusUpdater
	// RegistrationFee is the fee an attestor must pay to register
	RegistrationFee uint64
	// MinResponses is the quorum of distinct attestors per status code
	MinResponses int
	// StrictResponses rejects repeat submissions of the same status by the
	// same attestor instead of tolerating them
	StrictResponses bool
}

type Oracles struct {
	config    OraclesConfig
	logger    *slog.Logger
	eventBus  *event.EventBus
	entropy   EntropyProvider
	flights   FlightStatusUpdater
	attestors map[string]*Attestor
	sessions  map[RequestKey]*session
	nonce     uint
	metrics   struct {
		attestorsRegistered prometheus.Gauge
		sessionsOpen        prometheus.Gauge
		sessionsFinalized   prometheus.Counter
		responsesReceived   prometheus.Counter
	}
	sync.Mutex
}

func NewOracles(config OraclesConfig) *Oracles {
	o := &Oracles{
		config:    config,
		eventBus:  config.EventBus,
		entropy:   config.Entropy,
		flights:   config.Flights,
		attestors: make(map[string]*Attestor),
		sessions:  make(map[RequestKey]*session),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		o.logger = config.Logger
	}
	if o.config.MinResponses == 0 {
		o.config.MinResponses = DefaultMinResponses
	}
	promautoFactory := promauto.With(config.PromRegistry)
	o.metrics.attestorsRegistered = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightsurety_oracle_attestors",
			Help: "current count of registered attestors",
		},
	)
	o.metrics.sessionsOpen = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_oracle_sessions_open",
		Help: "current count of open consensus sessions",
	})
	o.metrics.sessionsFinalized = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_oracle_sessions_finalized_total",
			Help: "total consensus sessions finalized",
		},
	)
	o.metrics.responsesReceived = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsurety_oracle_responses_total",
			Help: "total attestation responses received",
		},
	)
	return o
}

// randomValue derives one pseudo-random value in [0, IndexRange) from the
// entropy provider. The nonce advances on every draw and wraps to stay
// inside the provider's lookback window; mixing it into the digest keeps
// consecutive draws distinct even under a constant provider.
func (o *Oracles) randomValue(account string) (uint8, error) {
	o.nonce = (o.nonce + 1) % NonceWrap
	entropy, err := o.entropy.EntropyFor(o.nonce)
	if err != nil {
		return 0, fmt.Errorf("reading entropy: %w", err)
	}
	h := sha256.New()
	h.Write(entropy[:])
	h.Write([]byte(account))
	tmpNonce := make([]byte, 8)
	binary.BigEndian.PutUint64(tmpNonce, uint64(o.nonce))
	h.Write(tmpNonce)
	digest := h.Sum(nil)
	return uint8(binary.BigEndian.Uint64(digest[:8]) % IndexRange), nil
}

// Register admits a new attestor and assigns its three pairwise-distinct
// response indexes. Indexes are immutable once assigned.
func (o *Oracles) Register(account string, paidFee uint64) error {
	if paidFee < o.config.RegistrationFee {
		return ErrInsufficientFee
	}
	o.Lock()
	defer o.Unlock()
	if _, ok := o.attestors[account]; ok {
		return ErrDuplicateRegistration
	}
	var indexes [IndexCount]uint8
	assigned := 0
	for assigned < IndexCount {
		value, err := o.randomValue(account)
		if err != nil {
			return err
		}
		collision := false
		for i := 0; i < assigned; i++ {
			if indexes[i] == value {
				collision = true
				break
			}
		}
		if collision {
			continue
		}
		indexes[assigned] = value
		assigned++
	}
	o.attestors[account] = &Attestor{
		Account:      account,
		IsRegistered: true,
		Indexes:      indexes,
		RegisteredAt: time.Now(),
	}
	o.metrics.attestorsRegistered.Inc()
	o.logger.Info(
		"registered attestor",
		"component", "oracle",
		"account", account,
		"indexes", fmt.Sprintf("%v", indexes),
	)
	return nil
}

// Indexes returns the attestor's assigned response indexes
func (o *Oracles) Indexes(account string) ([IndexCount]uint8, error) {
	o.Lock()
	defer o.Unlock()
	attestor, ok := o.attestors[account]
	if !ok {
		return [IndexCount]uint8{}, ErrNotRegistered
	}
	return attestor.Indexes, nil
}

// IssueRequest opens a consensus session for a flight status fetch and
// broadcasts the request to attestor clients. The returned index tells
// attestors which broadcast they may answer.
func (o *Oracles) IssueRequest(
	airline, flight string,
	timestamp int64,
	requester string,
) (uint8, error) {
	// Reject unknown flights up front rather than handing whichever
	// attestor completes the quorum a registration error
	if o.flights != nil && !o.flights.HasFlight(airline, flight, timestamp) {
		return 0, ledger.ErrFlightNotRegistered
	}
	o.Lock()
	index, err := o.randomValue(requester)
	if err != nil {
		o.Unlock()
		return 0, err
	}
	key := NewRequestKey(index, airline, flight, timestamp)
	if _, ok := o.sessions[key]; ok {
		// A fresh request replaces any previous session for the same key
		o.logger.Debug(
			"replacing existing consensus session",
			"component", "oracle",
			"key", fmt.Sprintf("%x", key),
		)
	} else {
		o.metrics.sessionsOpen.Inc()
	}
	o.sessions[key] = &session{
		requester: requester,
		airline:   airline,
		flight:    flight,
		timestamp: timestamp,
		index:     index,
		isOpen:    true,
		openedAt:  time.Now(),
		responses: make(map[ledger.FlightStatus]map[string]bool),
	}
	o.Unlock()
	o.logger.Info(
		"issued oracle request",
		"component", "oracle",
		"airline", airline,
		"flight", flight,
		"timestamp", timestamp,
		"index", index,
	)
	if o.eventBus != nil {
		o.eventBus.Publish(
			RequestEventType,
			event.NewEvent(
				RequestEventType,
				RequestEvent{
					Index:     index,
					Airline:   airline,
					Flight:    flight,
					Timestamp: timestamp,
					Requester: requester,
				},
			),
		)
	}
	return index, nil
}

// SubmitResponse records one attestation response. It returns true when
// this response completed the quorum for its status code and the outcome
// was applied to the flight. Responses after quorum are still recorded but
// produce no further side effects.
func (o *Oracles) SubmitResponse(
	account string,
	index uint8,
	airline, flight string,
	timestamp int64,
	status ledger.FlightStatus,
) (bool, error) {
	// Out-of-enum codes must never reach the tally: three of them would
	// occupy the flight's finalize-once slot with a garbage value
	if !status.Valid() {
		return false, ErrInvalidStatus
	}
	o.Lock()
	attestor, ok := o.attestors[account]
	if !ok {
		o.Unlock()
		return false, ErrNotRegistered
	}
	indexAssigned := false
	for _, assigned := range attestor.Indexes {
		if assigned == index {
			indexAssigned = true
			break
		}
	}
	if !indexAssigned {
		o.Unlock()
		return false, ErrIndexMismatch
	}
	key := NewRequestKey(index, airline, flight, timestamp)
	tmpSession, ok := o.sessions[key]
	if !ok || !tmpSession.isOpen {
		o.Unlock()
		return false, &SessionNotOpenError{
			Index:     index,
			Airline:   airline,
			Flight:    flight,
			Timestamp: timestamp,
		}
	}
	responseSet, ok := tmpSession.responses[status]
	if !ok {
		responseSet = make(map[string]bool)
		tmpSession.responses[status] = responseSet
	}
	if responseSet[account] {
		if o.config.StrictResponses {
			o.Unlock()
			return false, ErrDuplicateResponse
		}
		// Tolerated: the tally counts distinct attestors, so a repeat
		// submission never moves the quorum
		o.logger.Debug(
			"duplicate attestation response",
			"component", "oracle",
			"account", account,
			"status", status.String(),
		)
	}
	responseSet[account] = true
	responseCount := len(responseSet)
	quorum := responseCount == o.config.MinResponses
	firstQuorum := quorum && !tmpSession.finalized
	if firstQuorum {
		tmpSession.finalized = true
	}
	o.Unlock()
	o.metrics.responsesReceived.Inc()
	o.logger.Debug(
		"recorded attestation response",
		"component", "oracle",
		"account", account,
		"airline", airline,
		"flight", flight,
		"status", status.String(),
		"responses", responseCount,
	)
	if !quorum {
		return false, nil
	}
	// Apply the outcome outside the session lock. The flight record is the
	// finalize-once authority: a second status crossing quorum in the same
	// session is recorded but not applied.
	applied, err := o.flights.ApplyStatus(airline, flight, timestamp, status)
	if err != nil {
		return false, err
	}
	if firstQuorum {
		o.metrics.sessionsFinalized.Inc()
	}
	if !applied {
		return false, nil
	}
	o.logger.Info(
		"consensus reached",
		"component", "oracle",
		"airline", airline,
		"flight", flight,
		"timestamp", timestamp,
		"status", status.String(),
	)
	if o.eventBus != nil {
		o.eventBus.Publish(
			FlightStatusEventType,
			event.NewEvent(
				FlightStatusEventType,
				FlightStatusEvent{
					Airline:   airline,
					Flight:    flight,
					Timestamp: timestamp,
					Status:    status,
				},
			),
		)
	}
	return true, nil
}

// OpenSessions returns the current count of open consensus sessions
func (o *Oracles) OpenSessions() int {
	o.Lock()
	defer o.Unlock()
	count := 0
	for _, tmpSession := range o.sessions {
		if tmpSession.isOpen {
			count++
		}
	}
	return count
}

// ExpireSessions closes and removes sessions older than the given age.
// The engine never expires sessions on its own; timeout policy belongs to
// the caller.
func (o *Oracles) ExpireSessions(olderThan time.Duration) int {
	o.Lock()
	defer o.Unlock()
	expired := 0
	for key, tmpSession := range o.sessions {
		if time.Since(tmpSession.openedAt) >= olderThan {
			if tmpSession.isOpen {
				o.metrics.sessionsOpen.Dec()
			}
			delete(o.sessions, key)
			expired++
		}
	}
	if expired > 0 {
		o.logger.Info(
			"expired consensus sessions",
			"component", "oracle",
			"count", expired,
		)
	}
	return expired
}
