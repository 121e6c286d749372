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

package oracle

import (
	"crypto/rand"
	"sync"
)

// EntropyProvider supplies the entropy values that drive oracle index
// assignment. A provider must return the same value for the same lookback
// offset while an assignment is in progress so assignments are reproducible
// in tests. Lookback offsets stay below NonceWrap.
type EntropyProvider interface {
	EntropyFor(lookback uint) ([32]byte, error)
}

const ringEntropySize = 256

// RingEntropy is the production EntropyProvider: a fixed ring of values fed
// from the OS random source. EntropyFor reads relative to the current head,
// so values for a given offset stay stable until Advance pushes a new entry.
type RingEntropy struct {
	entries [ringEntropySize][32]byte
	head    int
	mu      sync.RWMutex
}

func NewRingEntropy() (*RingEntropy, error) {
	r := &RingEntropy{}
	for i := range r.entries {
		if _, err := rand.Read(r.entries[i][:]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *RingEntropy) EntropyFor(lookback uint) ([32]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := (r.head + ringEntropySize - int(lookback)%ringEntropySize) % ringEntropySize //nolint:gosec
	return r.entries[idx], nil
}

// Advance rotates a fresh value into the ring. The surrounding system may
// call this periodically; the engine never does.
func (r *RingEntropy) Advance() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = (r.head + 1) % ringEntropySize
	_, err := rand.Read(r.entries[r.head][:])
	return err
}
