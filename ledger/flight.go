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

package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// FlightStatus is the attested outcome of a flight. The numeric values
// match the wire codes attestor clients submit.
type FlightStatus uint8

const (
	StatusUnknown       FlightStatus = 0
	StatusOnTime        FlightStatus = 10
	StatusLateAirline   FlightStatus = 20
	StatusLateWeather   FlightStatus = 30
	StatusLateTechnical FlightStatus = 40
	StatusLateOther     FlightStatus = 50
)

func (s FlightStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return "invalid"
	}
}

// Valid returns whether the status is one of the defined wire codes
func (s FlightStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnTime, StatusLateAirline,
		StatusLateWeather, StatusLateTechnical, StatusLateOther:
		return true
	default:
		return false
	}
}

// FlightKey is the composite fingerprint of (airline, flight, timestamp)
// that keys flights, coverages and credit passes.
type FlightKey [32]byte

func NewFlightKey(airline, flight string, timestamp int64) FlightKey {
	h := sha256.New()
	h.Write([]byte(airline))
	h.Write([]byte{0})
	h.Write([]byte(flight))
	h.Write([]byte{0})
	tmpTimestamp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmpTimestamp, uint64(timestamp)) //nolint:gosec
	h.Write(tmpTimestamp)
	return FlightKey(h.Sum(nil))
}

func (k FlightKey) String() string {
	return hex.EncodeToString(k[:])
}

// Flight is a registered flight awaiting (or holding) an attested outcome.
// Status transitions away from StatusUnknown exactly once.
type Flight struct {
	Name         string
	Airline      string
	IsRegistered bool
	Status       FlightStatus
	ScheduledAt  int64
	UpdatedAt    time.Time
}

// Coverage is a buyer's paid entitlement against a flight's outcome.
// Read-only after purchase except for the one-time credit pass.
type Coverage struct {
	Insured     string
	Flight      FlightKey
	Amount      uint64
	PurchasedAt time.Time
}
