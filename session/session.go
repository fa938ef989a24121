package session

import "time"

// ConfirmationState tracks how far payment confirmation has progressed so
// a finalize interrupted between gateway calls can be resumed against the
// gateway's actual intent states instead of our transaction boundary.
type ConfirmationState string

// Defining the confirmation states of a PaymentSession
const (
	ConfirmationNone       ConfirmationState = "None"
	ConfirmationConfirming ConfirmationState = "Confirming"
	ConfirmationConfirmed  ConfirmationState = "Confirmed"
)

// PaymentSession is the persisted record of an in-progress provisioning
// attempt. At most one unexpired, unused row exists per user: recreation
// overwrites the row in place rather than appending.
//
// Concurrent recreation for the same user is last-writer-wins on this row.
// If traffic ever grows beyond one signup per user, add a version column
// and check it on overwrite to turn the race into a detectable conflict.
type PaymentSession struct {
	UserID                  string            `json:"userId" gorm:"primaryKey"`
	CustomerID              string            `json:"customerId" gorm:"index"` // Corresponds to Stripe's Customer ID
	MonthlySubscriptionID   string            `json:"monthlySubscriptionId"`
	AnnualSubscriptionID    string            `json:"annualSubscriptionId"`
	MonthlyPaymentIntentID  string            `json:"monthlyPaymentIntentId"` // Must be payable for the session to be reusable
	AnnualPaymentIntentID   string            `json:"annualPaymentIntentId"`  // Must be payable for the session to be reusable
	MonthlyAmount           int64             `json:"monthlyAmount"`          // Steady-state recurring amount in cents
	AnnualAmount            int64             `json:"annualAmount"`           // Steady-state recurring amount in cents
	TotalAmount             int64             `json:"totalAmount"`            // Sum of the two prorated first payments due now
	DiscountedMonthlyAmount *int64            `json:"discountedMonthlyAmount,omitempty"`
	DiscountedAnnualAmount  *int64            `json:"discountedAnnualAmount,omitempty"`
	DiscountPercentage      *float64          `json:"discountPercentage,omitempty"`
	CouponID                *string           `json:"couponId,omitempty"`
	ConfirmationState       ConfirmationState `json:"confirmationState"`
	IsUsed                  bool              `json:"isUsed"` // Set true only after payment confirmation and finalization
	ExpiresAt               time.Time         `json:"expiresAt"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}
