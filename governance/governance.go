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

// Package governance decides participant admission. While membership is
// below the founder quota, admission is automatic. After that each candidate
// needs votes from at least half of the current membership, one vote per
// distinct proposer. Ballots are created lazily on the first vote and
// discarded the moment a candidate is admitted.
package governance

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/FentonA/flightsurety/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const VoteCastEventType event.EventType = "governance.vote_cast"

// DefaultFounderQuota is the membership size reached without any voting.
// The seeded genesis participant counts toward the quota: admission is
// automatic strictly while the member count is below it, so exactly the
// first four participants (genesis included) enter vote-free.
const DefaultFounderQuota = 4

var (
	ErrNotAMember      = errors.New("proposer is not a registered member")
	ErrDuplicateMember = errors.New("candidate is already a registered member")
	ErrDuplicateVote   = errors.New("proposer has already voted for this candidate")
	ErrAlreadyMember   = errors.New("candidate has already been admitted by ballot")
)

type VoteCastEvent struct {
	Candidate string
	Proposer  string
	Votes     int
	Admitted  bool
}

// MemberRegistry is the view of the participant registry needed to run
// admission ballots.
type MemberRegistry interface {
	IsMember(account string) bool
	MemberCount() int
	Admit(name, account string) error
}

type ballot struct {
	voters map[string]bool
	votes  int
}

type EngineConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Registry     MemberRegistry
	FounderQuota int
}

type Engine struct {
	config   EngineConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	registry MemberRegistry
	ballots  map[string]*ballot
	decided  map[string]bool
	metrics  struct {
		votesCast   prometheus.Counter
		ballotsOpen prometheus.Gauge
	}
	sync.Mutex
}

func NewEngine(config EngineConfig) *Engine {
	e := &Engine{
		config:   config,
		eventBus: config.EventBus,
		registry: config.Registry,
		ballots:  make(map[string]*ballot),
		decided:  make(map[string]bool),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		e.logger = config.Logger
	}
	if e.config.FounderQuota == 0 {
		e.config.FounderQuota = DefaultFounderQuota
	}
	promautoFactory := promauto.With(config.PromRegistry)
	e.metrics.votesCast = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_governance_votes_cast_total",
		Help: "total admission votes cast",
	})
	e.metrics.ballotsOpen = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_governance_ballots_open",
		Help: "current count of open admission ballots",
	})
	return e
}

// ProposeOrAdmit proposes a candidate for admission. During the founder
// phase the candidate is admitted immediately with no vote recorded.
// Afterward the call casts the proposer's vote and reports whether the
// candidate crossed the admission threshold.
func (e *Engine) ProposeOrAdmit(
	candidateName, candidateAccount, proposerAccount string,
) (bool, int, error) {
	e.Lock()
	defer e.Unlock()
	if !e.registry.IsMember(proposerAccount) {
		return false, 0, ErrNotAMember
	}
	if e.registry.IsMember(candidateAccount) {
		if e.decided[candidateAccount] {
			return false, 0, ErrAlreadyMember
		}
		return false, 0, ErrDuplicateMember
	}
	memberCount := e.registry.MemberCount()
	// Founder phase: membership fills to the quota without voting
	if memberCount < e.config.FounderQuota {
		if err := e.registry.Admit(candidateName, candidateAccount); err != nil {
			return false, 0, err
		}
		e.logger.Info(
			"admitted founder-phase candidate",
			"component", "governance",
			"candidate", candidateAccount,
			"proposer", proposerAccount,
		)
		return true, 0, nil
	}
	b, ok := e.ballots[candidateAccount]
	if !ok {
		b = &ballot{voters: make(map[string]bool)}
		e.ballots[candidateAccount] = b
		e.metrics.ballotsOpen.Inc()
	}
	if b.voters[proposerAccount] {
		return false, b.votes, ErrDuplicateVote
	}
	b.voters[proposerAccount] = true
	b.votes++
	e.metrics.votesCast.Inc()
	// Integer threshold arithmetic: votes*100 vs memberCount*100/2 avoids
	// truncation bias on odd membership sizes
	admitted := uint64(b.votes)*100 >= uint64(memberCount)*100/2 //nolint:gosec
	if admitted {
		if err := e.registry.Admit(candidateName, candidateAccount); err != nil {
			return false, b.votes, err
		}
		delete(e.ballots, candidateAccount)
		e.decided[candidateAccount] = true
		e.metrics.ballotsOpen.Dec()
	}
	e.logger.Info(
		"recorded admission vote",
		"component", "governance",
		"candidate", candidateAccount,
		"proposer", proposerAccount,
		"votes", b.votes,
		"members", memberCount,
		"admitted", admitted,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			VoteCastEventType,
			event.NewEvent(
				VoteCastEventType,
				VoteCastEvent{
					Candidate: candidateAccount,
					Proposer:  proposerAccount,
					Votes:     b.votes,
					Admitted:  admitted,
				},
			),
		)
	}
	return admitted, b.votes, nil
}

// VoteCount returns the current vote tally for a candidate's open ballot
func (e *Engine) VoteCount(candidateAccount string) int {
	e.Lock()
	defer e.Unlock()
	if b, ok := e.ballots[candidateAccount]; ok {
		return b.votes
	}
	return 0
}
