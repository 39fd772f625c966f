// internal/models/party.go
package models

import "time"

// PartyMember is one player's membership in a party.
type PartyMember struct {
	PersistentID string    `json:"persistentID"`
	Username     string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Party is an ephemeral grouping of up to MaxPartySize players identified by a
// short join code. The leader is always present in Members.
type Party struct {
	Code               string                  `json:"code"`
	LeaderPersistentID string                  `json:"leaderPersistentID"`
	Members            map[string]*PartyMember `json:"members"`
	CreatedAt          time.Time               `json:"createdAt"`
	LastActivity       time.Time               `json:"lastActivity"`
}

// MaxPartySize caps how many players can share a party code.
const MaxPartySize = 4

// MemberIDs returns the persistent IDs of all current members.
func (p *Party) MemberIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for id := range p.Members {
		ids = append(ids, id)
	}
	return ids
}
