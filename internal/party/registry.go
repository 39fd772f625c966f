// internal/party/registry.go
package party

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/models"
)

// ErrNotFound is returned when a party code does not map to a live party.
var ErrNotFound = errors.New("party not found")

// ErrFull is returned when a join would push a party past MaxPartySize.
var ErrFull = errors.New("party is full")

// codeAlphabet excludes glyphs that are easy to confuse when read aloud or
// typed from a screenshot (0/O, 1/I).
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// codeLength is the number of characters in a party join code.
const codeLength = 6

const (
	// inactivityTTL is how long a party survives without activity.
	inactivityTTL = 30 * time.Minute
	// sweepInterval is how often the cleanup sweep runs.
	sweepInterval = 5 * time.Minute
)

// Registry manages active ephemeral parties in memory. It owns all party
// state; every mutation happens under its mutex, which is what makes the
// check-then-act sequences (capacity check, code generation) safe.
type Registry struct {
	mu sync.Mutex
	// parties maps join code -> party.
	parties map[string]*models.Party
	// memberIndex maps persistentID -> join code, at most one per player.
	memberIndex map[string]string

	// now is injected so TTL behavior is deterministic in tests.
	now func() time.Time
	rng *rand.Rand
}

// NewRegistry initializes an empty party registry using the wall clock.
func NewRegistry() *Registry {
	return &Registry{
		parties:     make(map[string]*models.Party),
		memberIndex: make(map[string]string),
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock overrides the registry's time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// CreateParty creates a fresh party with the caller as sole member and
// leader. Any prior membership of the caller is dissolved first, so a player
// is never in two parties at once.
func (r *Registry) CreateParty(leaderID, username string) *models.Party {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMemberUnsafe(leaderID)

	code := r.generateCodeUnsafe()
	now := r.now()
	p := &models.Party{
		Code:               code,
		LeaderPersistentID: leaderID,
		Members: map[string]*models.PartyMember{
			leaderID: {PersistentID: leaderID, Username: username, JoinedAt: now},
		},
		CreatedAt:    now,
		LastActivity: now,
	}
	r.parties[code] = p
	r.memberIndex[leaderID] = code

	log.WithFields(log.Fields{"code": code, "leader": leaderID}).Debug("party created")
	return snapshot(p)
}

// JoinParty adds a player to the party identified by code. Returns ErrNotFound
// if the code is dead and ErrFull at capacity. A joiner is evicted from any
// other party they were previously in; re-joining one's current party is an
// idempotent refresh.
func (r *Registry) JoinParty(code, persistentID, username string) (*models.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.parties[code]
	if !ok {
		return nil, ErrNotFound
	}

	// A re-join of one's current party is a refresh, not a leave-and-rejoin:
	// double-submits from the leader must not disband the party.
	if _, already := p.Members[persistentID]; already {
		p.LastActivity = r.now()
		return snapshot(p), nil
	}
	if len(p.Members) >= models.MaxPartySize {
		return nil, ErrFull
	}

	// The joiner is not in this party, so evicting them from any other party
	// cannot touch p.
	r.removeMemberUnsafe(persistentID)

	now := r.now()
	p.Members[persistentID] = &models.PartyMember{
		PersistentID: persistentID,
		Username:     username,
		JoinedAt:     now,
	}
	p.LastActivity = now
	r.memberIndex[persistentID] = code

	log.WithFields(log.Fields{"code": code, "member": persistentID}).Debug("party join")
	return snapshot(p), nil
}

// LeaveParty removes the player from their party, if any. Returns true if a
// membership was actually removed. Safe to call for players not in a party.
//
// If the departing member was the leader, or the party is left empty, the
// whole party is disbanded. A non-leader leaving a larger party keeps the
// party alive under the same leader.
func (r *Registry) LeaveParty(persistentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeMemberUnsafe(persistentID)
}

// removeMemberUnsafe removes a player from their party and applies the
// disband rule. Assumes the lock is held.
func (r *Registry) removeMemberUnsafe(persistentID string) bool {
	code, ok := r.memberIndex[persistentID]
	if !ok {
		return false
	}
	p, ok := r.parties[code]
	if !ok {
		delete(r.memberIndex, persistentID)
		return false
	}

	delete(p.Members, persistentID)
	delete(r.memberIndex, persistentID)

	if len(p.Members) == 0 || p.LeaderPersistentID == persistentID {
		r.disbandUnsafe(p)
	} else {
		p.LastActivity = r.now()
	}
	return true
}

// disbandUnsafe removes a party and all of its member index entries.
// Assumes the lock is held.
func (r *Registry) disbandUnsafe(p *models.Party) {
	for id := range p.Members {
		delete(r.memberIndex, id)
	}
	delete(r.parties, p.Code)
	log.WithField("code", p.Code).Debug("party disbanded")
}

// GetParty returns a snapshot of the party with the given code.
func (r *Registry) GetParty(code string) (*models.Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parties[code]
	if !ok {
		return nil, false
	}
	return snapshot(p), true
}

// GetPartyByMember returns a snapshot of the party the player belongs to.
func (r *Registry) GetPartyByMember(persistentID string) (*models.Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.memberIndex[persistentID]
	if !ok {
		return nil, false
	}
	p, ok := r.parties[code]
	if !ok {
		return nil, false
	}
	return snapshot(p), true
}

// GetAllPartyMemberIDs returns every member of the caller's party, or just the
// caller if they are not in one. Used to fan a single queue join out to the
// whole party.
func (r *Registry) GetAllPartyMemberIDs(persistentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.memberIndex[persistentID]
	if !ok {
		return []string{persistentID}
	}
	p, ok := r.parties[code]
	if !ok {
		return []string{persistentID}
	}
	return p.MemberIDs()
}

// CleanupInactiveParties disbands every party idle past the TTL and returns
// how many were removed.
func (r *Registry) CleanupInactiveParties() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-inactivityTTL)
	removed := 0
	for _, p := range r.parties {
		if p.LastActivity.Before(cutoff) {
			r.disbandUnsafe(p)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("count", removed).Info("swept inactive parties")
	}
	return removed
}

// Run drives the periodic inactivity sweep until ctx is done.
func (r *Registry) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.CleanupInactiveParties()
		case <-stop:
			return
		}
	}
}

// generateCodeUnsafe returns a code not used by any live party.
// Assumes the lock is held.
func (r *Registry) generateCodeUnsafe() string {
	for {
		buf := make([]byte, codeLength)
		for i := range buf {
			buf[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := r.parties[code]; !taken {
			return code
		}
	}
}

// snapshot deep-copies a party so callers can marshal it outside the lock.
func snapshot(p *models.Party) *models.Party {
	cp := &models.Party{
		Code:               p.Code,
		LeaderPersistentID: p.LeaderPersistentID,
		Members:            make(map[string]*models.PartyMember, len(p.Members)),
		CreatedAt:          p.CreatedAt,
		LastActivity:       p.LastActivity,
	}
	for id, m := range p.Members {
		mc := *m
		cp.Members[id] = &mc
	}
	return cp
}
