package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gambit/presence-service/db"
	"gambit/presence-service/models"
)

func newTestDirectory(t *testing.T) (*DirectoryStore, *gorm.DB) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	return NewDirectoryStore(gdb, testLogger()), gdb
}

func seedUser(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	user := models.User{
		ID:             uuid.New(),
		Username:       name,
		LastActivityAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, gdb.Create(&user).Error)
	return user
}

func seedMatch(t *testing.T, gdb *gorm.DB, white, black models.User, status models.MatchStatus, round int) models.Match {
	t.Helper()
	match := models.Match{
		ID:            uuid.New(),
		WhitePlayerID: white.ID,
		BlackPlayerID: black.ID,
		Status:        status,
		Round:         round,
	}
	require.NoError(t, gdb.Create(&match).Error)
	return match
}

func TestFriendsOfUnionsHistoryAndFriendships(t *testing.T) {
	dir, gdb := newTestDirectory(t)
	ctx := context.Background()

	me := seedUser(t, gdb, "me")
	alice := seedUser(t, gdb, "alice")
	bob := seedUser(t, gdb, "bob")
	carol := seedUser(t, gdb, "carol")
	seedUser(t, gdb, "stranger")

	// Explicit friendship with alice, match history with bob and carol.
	// Bob is also an explicit friend; he must appear once.
	require.NoError(t, gdb.Create(&models.Friendship{UserID: me.ID, FriendID: alice.ID}).Error)
	require.NoError(t, gdb.Create(&models.Friendship{UserID: me.ID, FriendID: bob.ID}).Error)
	seedMatch(t, gdb, me, bob, models.MatchStatusCompleted, 1)
	seedMatch(t, gdb, carol, me, models.MatchStatusCompleted, 1)

	friends, err := dir.FriendsOf(ctx, me.ID.String())
	require.NoError(t, err)
	require.Len(t, friends, 3)

	names := make(map[string]bool)
	for _, f := range friends {
		assert.NotEqual(t, me.ID.String(), f.ID, "caller must be excluded")
		names[f.Username] = true
	}
	assert.True(t, names["alice"])
	assert.True(t, names["bob"])
	assert.True(t, names["carol"])
}

func TestActiveOpponentsOfFiltersByStatus(t *testing.T) {
	dir, gdb := newTestDirectory(t)
	ctx := context.Background()

	me := seedUser(t, gdb, "me")
	dana := seedUser(t, gdb, "dana")
	eve := seedUser(t, gdb, "eve")
	frank := seedUser(t, gdb, "frank")

	active := seedMatch(t, gdb, me, dana, models.MatchStatusActive, 3)
	seedMatch(t, gdb, eve, me, models.MatchStatusPending, 1)
	seedMatch(t, gdb, me, frank, models.MatchStatusCompleted, 2)

	opponents, err := dir.ActiveOpponentsOf(ctx, me.ID.String())
	require.NoError(t, err)
	require.Len(t, opponents, 2, "completed matches are not active opponents")

	byName := make(map[string]models.OpponentRecord)
	for _, o := range opponents {
		byName[o.Username] = o
	}
	require.Contains(t, byName, "dana")
	require.Contains(t, byName, "eve")
	assert.Equal(t, active.ID.String(), byName["dana"].Match.MatchID)
	assert.Equal(t, 3, byName["dana"].Match.Round)
	assert.Equal(t, "active", byName["dana"].Match.Status)
	assert.Equal(t, "pending", byName["eve"].Match.Status)
}

func TestActiveOpponentsOfDeduplicatesByOpponent(t *testing.T) {
	dir, gdb := newTestDirectory(t)
	ctx := context.Background()

	me := seedUser(t, gdb, "me")
	dana := seedUser(t, gdb, "dana")
	seedMatch(t, gdb, me, dana, models.MatchStatusActive, 1)
	seedMatch(t, gdb, dana, me, models.MatchStatusPending, 2)

	opponents, err := dir.ActiveOpponentsOf(ctx, me.ID.String())
	require.NoError(t, err)
	require.Len(t, opponents, 1)
}

func TestUsersByIDSkipsUnknownIDs(t *testing.T) {
	dir, gdb := newTestDirectory(t)
	ctx := context.Background()

	alice := seedUser(t, gdb, "alice")

	records, err := dir.UsersByID(ctx, []string{
		alice.ID.String(),
		uuid.NewString(),
		"not-a-uuid",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Username)
}

func TestFriendsOfRejectsInvalidID(t *testing.T) {
	dir, _ := newTestDirectory(t)

	_, err := dir.FriendsOf(context.Background(), "not-a-uuid")
	assert.Error(t, err)
}
