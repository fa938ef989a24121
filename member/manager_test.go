package member

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	manager, err := NewManager(zap.NewNop(), db)
	require.NoError(t, err)
	return manager
}

func completeOption() CompleteOption {
	return CompleteOption{
		UserID:                 "user1",
		CustomerID:             "cus_123",
		Email:                  "jo@example.com",
		FirstName:              "Jo",
		LastName:               "Smith",
		NextOfKinName:          "Sam Smith",
		NextOfKinPhone:         "+4912345678",
		InsuranceFormSubmitted: true,
	}
}

func TestCompleteRegistration(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	require.NoError(t, manager.db.Create(&WaitlistEntry{
		ID:     "wl1",
		Email:  "jo@example.com",
		Status: WaitlistInvited,
	}).Error)

	require.NoError(t, manager.CompleteRegistration(manager.db, completeOption()))

	mem, err := manager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "jo@example.com", mem.Email)
	assert.Equal(t, "Sam Smith", mem.NextOfKinName)
	assert.True(t, mem.InsuranceFormSubmitted)

	var entry WaitlistEntry
	require.NoError(t, manager.db.First(&entry, "email = ?", "jo@example.com").Error)
	assert.Equal(t, WaitlistJoined, entry.Status)
}

func TestCompleteRegistrationWithoutWaitlist(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	// directly invited members were never waitlisted
	require.NoError(t, manager.CompleteRegistration(manager.db, completeOption()))

	mem, err := manager.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, mem)
}

func TestMarkWaitlistInvited(t *testing.T) {
	manager := testManager(t)
	ctx := context.Background()

	require.NoError(t, manager.db.Create(&WaitlistEntry{
		ID:     "wl1",
		Email:  "jo@example.com",
		Status: WaitlistWaiting,
	}).Error)

	require.NoError(t, manager.MarkWaitlistInvited(ctx, "jo@example.com"))

	var entry WaitlistEntry
	require.NoError(t, manager.db.First(&entry, "email = ?", "jo@example.com").Error)
	assert.Equal(t, WaitlistInvited, entry.Status)

	// no waitlist entry is fine, direct invitations happen
	require.NoError(t, manager.MarkWaitlistInvited(ctx, "stranger@example.com"))
}

func TestCompleteRegistrationValidation(t *testing.T) {
	manager := testManager(t)

	opt := completeOption()
	opt.NextOfKinName = ""
	require.Error(t, manager.CompleteRegistration(manager.db, opt))

	opt = completeOption()
	opt.UserID = ""
	require.Error(t, manager.CompleteRegistration(manager.db, opt))
}
