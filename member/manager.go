package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Members and the waitlist
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for members
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Member{}, &WaitlistEntry{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize member.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// CompleteOption carries everything needed to finish a member registration
type CompleteOption struct {
	UserID                 string
	CustomerID             string
	Email                  string
	FirstName              string
	LastName               string
	NextOfKinName          string
	NextOfKinPhone         string
	InsuranceFormSubmitted bool
}

func (o *CompleteOption) validate() error {
	if len(o.UserID) == 0 {
		return fmt.Errorf("empty UserID is invalid")
	}
	if len(o.Email) == 0 {
		return fmt.Errorf("empty Email is invalid")
	}
	if len(o.NextOfKinName) == 0 {
		return fmt.Errorf("empty NextOfKinName is invalid")
	}
	if len(o.NextOfKinPhone) == 0 {
		return fmt.Errorf("empty NextOfKinPhone is invalid")
	}
	return nil
}

// CompleteRegistration creates the member profile and, if the member came
// off the waitlist, transitions their entry to Joined. Must run inside the
// caller's transaction: a failed payment confirmation rolls all of it back.
func (m *Manager) CompleteRegistration(tx *gorm.DB, opt CompleteOption) error {
	if err := opt.validate(); err != nil {
		return err
	}
	newMember := &Member{
		UserID:                 opt.UserID,
		CustomerID:             opt.CustomerID,
		Email:                  opt.Email,
		FirstName:              opt.FirstName,
		LastName:               opt.LastName,
		NextOfKinName:          opt.NextOfKinName,
		NextOfKinPhone:         opt.NextOfKinPhone,
		InsuranceFormSubmitted: opt.InsuranceFormSubmitted,
		JoinedAt:               time.Now(),
	}
	if result := tx.Create(newMember); result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot create member profile")
	}

	// not everyone was waitlisted before being invited
	result := tx.Model(&WaitlistEntry{}).
		Where("email = ?", opt.Email).
		Update("status", WaitlistJoined)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot transition waitlist entry")
	}
	return nil
}

// MarkWaitlistInvited transitions the waitlist entry for the given email
// to Invited. Not every invitee has one; no entry is not an error.
func (m *Manager) MarkWaitlistInvited(ctx context.Context, email string) error {
	result := m.db.WithContext(ctx).Model(&WaitlistEntry{}).
		Where("email = ?", email).
		Where("status = ?", WaitlistWaiting).
		Update("status", WaitlistInvited)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot transition waitlist entry")
	}
	return nil
}

// GetByUserID will try to return the member profile by user id
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Member, error) {
	var mem Member

	result := m.db.WithContext(ctx).First(&mem, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get member by user id")
	}

	return &mem, nil
}
