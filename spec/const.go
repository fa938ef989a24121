package spec

import "time"

// Define constants shared between the API and background jobs
const (
	// SessionTTL is how long a payment session remains reusable after creation
	SessionTTL time.Duration = time.Hour * 24

	// InvitationTTL is how long an invitee has to complete signup
	InvitationTTL time.Duration = time.Hour * 24 * 14
)
