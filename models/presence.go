package models

import "time"

// PresenceState is the tri-state result of a presence lookup. Unknown means
// the lookup itself failed, not that the user is offline.
type PresenceState string

const (
	StateOnline  PresenceState = "online"
	StateOffline PresenceState = "offline"
	StateUnknown PresenceState = "unknown"
)

// OnlineEntry is one row of the online index range query, most recent first.
type OnlineEntry struct {
	UserID       string    `json:"user_id"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// StatusDelta is a single online/offline transition event for one user.
type StatusDelta struct {
	UserID    string    `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
	Timestamp time.Time `json:"timestamp"`
}

// FriendStatus is one entry of the friends presence list.
type FriendStatus struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen,omitempty"`
}

// MatchContext carries the match metadata attached to an opponent entry.
type MatchContext struct {
	MatchID     string     `json:"match_id"`
	Round       int        `json:"round"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// OpponentStatus is one entry of the active-opponents presence list.
type OpponentStatus struct {
	UserID   string       `json:"user_id"`
	Name     string       `json:"name"`
	IsOnline bool         `json:"is_online"`
	Match    MatchContext `json:"match"`
}

// FriendList is the friends query result. Degraded is set when the
// persistence collaborator was unavailable and the list is empty for that
// reason rather than because the user has no friends.
type FriendList struct {
	Friends     []FriendStatus `json:"friends"`
	OnlineCount int            `json:"online_count"`
	TotalCount  int            `json:"total_count"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// OpponentList is the active-opponents query result.
type OpponentList struct {
	Opponents   []OpponentStatus `json:"opponents"`
	OnlineCount int              `json:"online_count"`
	TotalCount  int              `json:"total_count"`
	Degraded    bool             `json:"degraded,omitempty"`
}

// LobbyRequest is the paginated lobby query. Page and PerPage are clamped,
// never rejected.
type LobbyRequest struct {
	Page           int
	PerPage        int
	Search         string
	ExcludeFriends bool
}

// LobbyItem is one online user in the lobby listing.
type LobbyItem struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type Pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"total_pages"`
	HasMore     bool `json:"has_more"`
}

type LobbyResult struct {
	Items      []LobbyItem `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Degraded   bool        `json:"degraded,omitempty"`
}

// ContextualUser is one entry of the merged friends+opponents view. Match is
// set when the user is a current opponent; opponent metadata wins when a user
// appears in both sets.
type ContextualUser struct {
	UserID   string        `json:"user_id"`
	Name     string        `json:"name"`
	IsOnline bool          `json:"is_online"`
	LastSeen string        `json:"last_seen,omitempty"`
	Match    *MatchContext `json:"match,omitempty"`
}

type ContextualResult struct {
	Friends     []FriendStatus   `json:"friends"`
	Opponents   []OpponentStatus `json:"opponents"`
	AllUsers    []ContextualUser `json:"all_users"`
	OnlineCount int              `json:"online_count"`
	TotalCount  int              `json:"total_count"`
	Degraded    bool             `json:"degraded,omitempty"`
}

// StatusResponse answers the single-user authoritative presence check.
type StatusResponse struct {
	UserID   string        `json:"user_id"`
	IsOnline bool          `json:"is_online"`
	State    PresenceState `json:"state"`
	Degraded bool          `json:"degraded,omitempty"`
}

type HeartbeatResponse struct {
	Status    string `json:"status"`
	WasOnline bool   `json:"was_online"`
}
