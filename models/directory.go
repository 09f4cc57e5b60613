package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the platform user record consumed by the directory. Presence never
// writes this table; it only reads usernames and durable last-activity.
type User struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Username       string    `json:"username" gorm:"uniqueIndex;not null"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusAborted   MatchStatus = "aborted"
)

// Match is a game between two players.
type Match struct {
	ID            uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	WhitePlayerID uuid.UUID   `json:"white_player_id" gorm:"type:uuid;not null;index"`
	BlackPlayerID uuid.UUID   `json:"black_player_id" gorm:"type:uuid;not null;index"`
	Status        MatchStatus `json:"status" gorm:"not null;index"`
	Round         int         `json:"round"`
	ScheduledAt   *time.Time  `json:"scheduled_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (Match) TableName() string {
	return "matches"
}

// Friendship is an explicit directed friend relation.
type Friendship struct {
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	FriendID  uuid.UUID `json:"friend_id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// UserRecord is what the directory hands to the query engine: id plus the
// display fields presence needs, nothing schema-specific.
type UserRecord struct {
	ID             string
	Username       string
	LastActivityAt time.Time
}

// OpponentRecord is a UserRecord plus the match that makes the user relevant.
type OpponentRecord struct {
	UserRecord
	Match MatchContext
}
