package member

import "time"

// Member is the completed profile of a club member. A row exists only
// after registration has been finalized and the first payment confirmed.
type Member struct {
	UserID                 string    `json:"userId" gorm:"primaryKey"`
	CustomerID             string    `json:"customerId" gorm:"index"` // Corresponds to Stripe's Customer ID
	Email                  string    `json:"email" gorm:"uniqueIndex"`
	FirstName              string    `json:"firstName"`
	LastName               string    `json:"lastName"`
	NextOfKinName          string    `json:"nextOfKinName"`
	NextOfKinPhone         string    `json:"nextOfKinPhone"`
	InsuranceFormSubmitted bool      `json:"insuranceFormSubmitted"`
	JoinedAt               time.Time `json:"joinedAt"`
}

// WaitlistStatus is the custom type for the state of a waitlist entry
type WaitlistStatus string

// Defining the different statuses of a WaitlistEntry
const (
	WaitlistWaiting WaitlistStatus = "Waiting"
	WaitlistInvited WaitlistStatus = "Invited"
	WaitlistJoined  WaitlistStatus = "Joined"
)

// WaitlistEntry tracks a person waiting for an invitation
type WaitlistEntry struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	Email     string         `json:"email" gorm:"uniqueIndex"`
	Status    WaitlistStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}
