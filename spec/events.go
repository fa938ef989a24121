package spec

import "time"

// MemberJoinedEvent is published to notification workers once an invitee
// has paid and their registration is finalized.
type MemberJoinedEvent struct {
	UserID       string    `json:"userId"`
	InvitationID string    `json:"invitationId"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	JoinedAt     time.Time `json:"joinedAt"`
}
