package invitation

import "time"

// Status is the custom type to define the current state of an invitation
type Status string

// Defining the different statuses of an Invitation
const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusExpired  Status = "Expired"
	StatusRevoked  Status = "Revoked"
)

// Invitation is a time-boxed offer for a specific person to join the club
type Invitation struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"userId" gorm:"uniqueIndex"` // Identity of the invitee across the application
	CustomerID string    `json:"customerId" gorm:"index"`   // Corresponds to Stripe's Customer ID
	Email      string    `json:"email" gorm:"index"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
