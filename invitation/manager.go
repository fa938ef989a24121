package invitation

import (
	"context"
	"errors"
	"time"

	"github.com/makerhaus/memberd/spec"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Invitations
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for invitations
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Invitation{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize invitation.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// CreateOption describes a new invitation to be issued
type CreateOption struct {
	UserID     string
	CustomerID string
	Email      string
	FirstName  string
	LastName   string
}

// Create issues a new pending invitation for the given identity
func (m *Manager) Create(ctx context.Context, opt CreateOption) (*Invitation, error) {
	inv := &Invitation{
		ID:         shortuuid.New(),
		UserID:     opt.UserID,
		CustomerID: opt.CustomerID,
		Email:      opt.Email,
		FirstName:  opt.FirstName,
		LastName:   opt.LastName,
		Status:     StatusPending,
		ExpiresAt:  time.Now().Add(spec.InvitationTTL),
	}
	result := m.db.WithContext(ctx).Create(inv)
	if result.Error != nil {
		m.logger.Error("Unable to create new invitation in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create invitation")
	}
	return inv, nil
}

// GetByUserID will try to return the invitation for the given user id
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Invitation, error) {
	var inv Invitation

	result := m.db.WithContext(ctx).First(&inv, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get invitation by user id")
	}

	return &inv, nil
}

// GetByEmail will try to return the invitation for the given email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Invitation, error) {
	var inv Invitation

	result := m.db.WithContext(ctx).First(&inv, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get invitation by email")
	}

	return &inv, nil
}

// GetByUserIDTx reads the invitation inside the caller's transaction
func (m *Manager) GetByUserIDTx(tx *gorm.DB, userID string) (*Invitation, error) {
	var inv Invitation
	result := tx.First(&inv, "user_id = ?", userID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &inv, nil
}

// Accept marks the invitation accepted inside the caller's transaction
func (m *Manager) Accept(tx *gorm.DB, invitationID string) error {
	result := tx.Model(&Invitation{}).Where("id = ?", invitationID).Update("status", StatusAccepted)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark invitation as accepted")
	}
	if result.RowsAffected == 0 {
		return extErrors.New("no invitation was updated")
	}
	return nil
}

// ListPending returns all unexpired invitations still waiting on signup
func (m *Manager) ListPending(ctx context.Context) ([]Invitation, error) {
	results := make([]Invitation, 0)
	result := m.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("expires_at > ?", time.Now()).
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list pending invitations")
	}
	return results, nil
}
