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

package oracle_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FentonA/flightsurety/event"
	"github.com/FentonA/flightsurety/ledger"
	"github.com/FentonA/flightsurety/oracle"
	"github.com/FentonA/flightsurety/registry"
)

// fixedEntropy returns a deterministic value per lookback offset so index
// assignment is reproducible across test runs
type fixedEntropy struct{}

func (fixedEntropy) EntropyFor(lookback uint) ([32]byte, error) {
	var ret [32]byte
	for i := range ret {
		ret[i] = byte(lookback) + byte(i)
	}
	return ret, nil
}

func newTestOracles(
	t *testing.T,
	eb *event.EventBus,
) (*oracle.Oracles, *ledger.Ledger) {
	t.Helper()
	r := registry.NewRegistry(registry.RegistryConfig{MinFunding: 1000})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	require.NoError(t, r.Fund("0xa1", 1000))
	l := ledger.NewLedger(ledger.LedgerConfig{
		Airlines:        r,
		MinPremium:      1,
		PayoutPercent:   150,
		PayableStatuses: []ledger.FlightStatus{ledger.StatusLateAirline},
	})
	o := oracle.NewOracles(oracle.OraclesConfig{
		EventBus:        eb,
		Entropy:         fixedEntropy{},
		Flights:         l,
		RegistrationFee: 10,
		MinResponses:    oracle.DefaultMinResponses,
	})
	return o, l
}

// registerUntilIndex registers attestors until one holds the given index,
// returning its account
func registerUntilIndex(
	t *testing.T,
	o *oracle.Oracles,
	index uint8,
	exclude map[string]bool,
) string {
	t.Helper()
	for i := 0; i < 200; i++ {
		account := fmt.Sprintf("0xoracle%d", i)
		if exclude[account] {
			continue
		}
		err := o.Register(account, 10)
		if err != nil && !errors.Is(err, oracle.ErrDuplicateRegistration) {
			t.Fatalf("unexpected registration error: %v", err)
		}
		indexes, err := o.Indexes(account)
		require.NoError(t, err)
		for _, assigned := range indexes {
			if assigned == index {
				return account
			}
		}
	}
	t.Fatalf("no attestor assigned index %d after 200 registrations", index)
	return ""
}

func TestRegisterIndexAssignment(t *testing.T) {
	o, _ := newTestOracles(t, nil)
	for i := 0; i < 20; i++ {
		account := fmt.Sprintf("0xoracle%d", i)
		require.NoError(t, o.Register(account, 10))
		indexes, err := o.Indexes(account)
		require.NoError(t, err)
		for j, value := range indexes {
			if value >= oracle.IndexRange {
				t.Fatalf("index out of range: %d", value)
			}
			for k := 0; k < j; k++ {
				if indexes[k] == value {
					t.Fatalf("indexes not pairwise distinct: %v", indexes)
				}
			}
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	o, _ := newTestOracles(t, nil)
	err := o.Register("0xoracle0", 5)
	if !errors.Is(err, oracle.ErrInsufficientFee) {
		t.Fatalf("expected ErrInsufficientFee, got %v", err)
	}
	require.NoError(t, o.Register("0xoracle0", 10))
	err = o.Register("0xoracle0", 10)
	if !errors.Is(err, oracle.ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
}

func TestIssueRequestBroadcast(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	o, l := newTestOracles(t, eb)
	_, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	_, subCh := eb.Subscribe(oracle.RequestEventType)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	require.Equal(t, 1, o.OpenSessions())
	select {
	case evt := <-subCh:
		reqEvt, ok := evt.Data.(oracle.RequestEvent)
		if !ok {
			t.Fatalf("unexpected event data type: %T", evt.Data)
		}
		require.Equal(t, index, reqEvt.Index)
		require.Equal(t, "UA1234", reqEvt.Flight)
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for request broadcast")
	}
}

func TestSubmitResponseValidation(t *testing.T) {
	o, l := newTestOracles(t, nil)
	_, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	// Unregistered attestor
	_, err = o.SubmitResponse(
		"0xnobody", index, "0xa1", "UA1234", 1700000000, ledger.StatusOnTime,
	)
	if !errors.Is(err, oracle.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	// Attestor without the request index
	exclude := map[string]bool{}
	attestor := registerUntilIndex(t, o, index, exclude)
	indexes, err := o.Indexes(attestor)
	require.NoError(t, err)
	var wrongIndex uint8
	for wrongIndex = 0; wrongIndex < oracle.IndexRange; wrongIndex++ {
		assigned := false
		for _, value := range indexes {
			if value == wrongIndex {
				assigned = true
				break
			}
		}
		if !assigned {
			break
		}
	}
	_, err = o.SubmitResponse(
		attestor, wrongIndex, "0xa1", "UA1234", 1700000000, ledger.StatusOnTime,
	)
	if !errors.Is(err, oracle.ErrIndexMismatch) {
		t.Fatalf("expected ErrIndexMismatch, got %v", err)
	}
	// No open session for an unrequested flight
	_, err = o.SubmitResponse(
		attestor, index, "0xa1", "UA9999", 1700000000, ledger.StatusOnTime,
	)
	var notOpenErr *oracle.SessionNotOpenError
	if !errors.As(err, &notOpenErr) {
		t.Fatalf("expected SessionNotOpenError, got %v", err)
	}
}

func TestSubmitResponseInvalidStatus(t *testing.T) {
	o, l := newTestOracles(t, nil)
	key, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	// An out-of-enum code must never count toward the tally, even from a
	// quorum of distinct attestors
	exclude := map[string]bool{}
	for i := 0; i < 3; i++ {
		attestor := registerUntilIndex(t, o, index, exclude)
		exclude[attestor] = true
		_, err := o.SubmitResponse(
			attestor, index, "0xa1", "UA1234", 1700000000, ledger.FlightStatus(77),
		)
		if !errors.Is(err, oracle.ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus, got %v", err)
		}
	}
	flight, err := l.Flight(key)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnknown, flight.Status)
	require.True(t, flight.UpdatedAt.IsZero())
}

func TestIssueRequestUnknownFlight(t *testing.T) {
	o, _ := newTestOracles(t, nil)
	_, err := o.IssueRequest("0xa1", "UA9999", 1700000000, "0xcaller")
	if !errors.Is(err, ledger.ErrFlightNotRegistered) {
		t.Fatalf("expected ErrFlightNotRegistered, got %v", err)
	}
	require.Equal(t, 0, o.OpenSessions())
}

func TestIndexAssignmentPastNonceWrap(t *testing.T) {
	o, _ := newTestOracles(t, nil)
	// Each registration draws at least three values, so 100 registrations
	// push the nonce past its wrap several times
	for i := 0; i < 100; i++ {
		account := fmt.Sprintf("0xoracle%d", i)
		require.NoError(t, o.Register(account, 10))
		indexes, err := o.Indexes(account)
		require.NoError(t, err)
		for j, value := range indexes {
			if value >= oracle.IndexRange {
				t.Fatalf("index out of range after wrap: %d", value)
			}
			for k := 0; k < j; k++ {
				if indexes[k] == value {
					t.Fatalf("indexes not pairwise distinct after wrap: %v", indexes)
				}
			}
		}
	}
}

func TestConsensusFinalization(t *testing.T) {
	o, l := newTestOracles(t, nil)
	key, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	exclude := map[string]bool{}
	for i := 0; i < 3; i++ {
		attestor := registerUntilIndex(t, o, index, exclude)
		exclude[attestor] = true
		finalized, err := o.SubmitResponse(
			attestor, index, "0xa1", "UA1234", 1700000000, ledger.StatusLateWeather,
		)
		require.NoError(t, err)
		require.Equal(t, i == 2, finalized)
	}
	flight, err := l.Flight(key)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusLateWeather, flight.Status)
}

func TestFinalizeOnce(t *testing.T) {
	o, l := newTestOracles(t, nil)
	key, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	exclude := map[string]bool{}
	for i := 0; i < 3; i++ {
		attestor := registerUntilIndex(t, o, index, exclude)
		exclude[attestor] = true
		_, err := o.SubmitResponse(
			attestor, index, "0xa1", "UA1234", 1700000000, ledger.StatusOnTime,
		)
		require.NoError(t, err)
	}
	// A competing status reaching quorum later is recorded without effect
	dissent := map[string]bool{}
	for k, v := range exclude {
		dissent[k] = v
	}
	for i := 0; i < 3; i++ {
		attestor := registerUntilIndex(t, o, index, dissent)
		dissent[attestor] = true
		finalized, err := o.SubmitResponse(
			attestor, index, "0xa1", "UA1234", 1700000000, ledger.StatusLateAirline,
		)
		require.NoError(t, err)
		require.False(t, finalized)
	}
	flight, err := l.Flight(key)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusOnTime, flight.Status)
}

func TestStrictDuplicateResponse(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{MinFunding: 1})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	require.NoError(t, r.Fund("0xa1", 1))
	l := ledger.NewLedger(ledger.LedgerConfig{Airlines: r, MinPremium: 1})
	o := oracle.NewOracles(oracle.OraclesConfig{
		Entropy:         fixedEntropy{},
		Flights:         l,
		RegistrationFee: 10,
		StrictResponses: true,
	})
	_, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	index, err := o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	attestor := registerUntilIndex(t, o, index, map[string]bool{})
	_, err = o.SubmitResponse(
		attestor, index, "0xa1", "UA1234", 1700000000, ledger.StatusOnTime,
	)
	require.NoError(t, err)
	_, err = o.SubmitResponse(
		attestor, index, "0xa1", "UA1234", 1700000000, ledger.StatusOnTime,
	)
	if !errors.Is(err, oracle.ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
}

func TestExpireSessions(t *testing.T) {
	o, l := newTestOracles(t, nil)
	_, err := l.RegisterFlight("0xa1", "UA1234", 1700000000)
	require.NoError(t, err)
	_, err = o.IssueRequest("0xa1", "UA1234", 1700000000, "0xcaller")
	require.NoError(t, err)
	require.Equal(t, 1, o.OpenSessions())
	// A session that never reaches quorum stays open until the caller
	// sweeps it
	require.Equal(t, 0, o.ExpireSessions(1*time.Hour))
	require.Equal(t, 1, o.OpenSessions())
	require.Equal(t, 1, o.ExpireSessions(0))
	require.Equal(t, 0, o.OpenSessions())
}

func TestRingEntropyStableWithinWindow(t *testing.T) {
	r, err := oracle.NewRingEntropy()
	require.NoError(t, err)
	first, err := r.EntropyFor(5)
	require.NoError(t, err)
	second, err := r.EntropyFor(5)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NoError(t, r.Advance())
	// After advancing, offset 6 refers to what offset 5 referred to before
	shifted, err := r.EntropyFor(6)
	require.NoError(t, err)
	require.Equal(t, first, shifted)
}
