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

package registry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FentonA/flightsurety/registry"
)

func TestRegistryAdmit(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	require.True(t, r.IsMember("0xa1"))
	require.Equal(t, 1, r.MemberCount())
	airline, err := r.Airline("0xa1")
	require.NoError(t, err)
	require.True(t, airline.IsRegistered)
	require.False(t, airline.IsFunded)
	require.Equal(t, uint64(0), airline.FundBalance)
}

func TestRegistryAdmitDuplicate(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	err := r.Admit("Udacity Air", "0xa1")
	if !errors.Is(err, registry.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	require.Equal(t, 1, r.MemberCount())
}

func TestRegistryFund(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{
		MinFunding: 100,
	})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	require.NoError(t, r.Fund("0xa1", 60))
	require.False(t, r.IsFunded("0xa1"))
	require.NoError(t, r.Fund("0xa1", 40))
	require.True(t, r.IsFunded("0xa1"))
	airline, err := r.Airline("0xa1")
	require.NoError(t, err)
	require.Equal(t, uint64(100), airline.FundBalance)
}

func TestRegistryFundUnknownAccount(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{})
	err := r.Fund("0xa1", 100)
	if !errors.Is(err, registry.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestRegistryDebitSaturates(t *testing.T) {
	r := registry.NewRegistry(registry.RegistryConfig{MinFunding: 10})
	require.NoError(t, r.Admit("Udacity Air", "0xa1"))
	require.NoError(t, r.Fund("0xa1", 50))
	debited, err := r.Debit("0xa1", 80)
	require.NoError(t, err)
	require.Equal(t, uint64(50), debited)
	airline, err := r.Airline("0xa1")
	require.NoError(t, err)
	require.Equal(t, uint64(0), airline.FundBalance)
	// Funded flag latches even after the balance is drained
	require.True(t, airline.IsFunded)
}
