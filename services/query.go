package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gambit/presence-service/models"
	"gambit/presence-service/utils"
)

const (
	lobbyMinPerPage = 5
	lobbyMaxPerPage = 50
)

// QueryEngine resolves the scoped presence views: friends, active opponents,
// the paginated lobby, and the combined contextual view. Collaborator or
// store failures degrade to empty results with a flag; presence never blocks
// the surrounding application.
type QueryEngine struct {
	store          *PresenceStore
	directory      Directory
	logger         *utils.Logger
	candidateLimit int
}

func NewQueryEngine(store *PresenceStore, directory Directory, candidateLimit int, logger *utils.Logger) *QueryEngine {
	if candidateLimit < 1 {
		candidateLimit = 1000
	}
	return &QueryEngine{
		store:          store,
		directory:      directory,
		logger:         logger,
		candidateLimit: candidateLimit,
	}
}

// ResolveFriends returns presence for everyone the caller has played with or
// explicitly befriended, online users first, then by name ascending.
func (qe *QueryEngine) ResolveFriends(ctx context.Context, userID string) models.FriendList {
	records, err := qe.directory.FriendsOf(ctx, userID)
	if err != nil {
		qe.logger.Warn("friend resolution degraded", "user_id", userID, "error", err)
		return models.FriendList{Friends: []models.FriendStatus{}, Degraded: true}
	}

	statuses := qe.store.BatchCheck(ctx, recordIDs(records))

	friends := make([]models.FriendStatus, 0, len(records))
	online := 0
	for _, rec := range records {
		isOnline := statuses[rec.ID] == models.StateOnline
		entry := models.FriendStatus{
			UserID:   rec.ID,
			Name:     rec.Username,
			IsOnline: isOnline,
		}
		if isOnline {
			online++
		} else {
			entry.LastSeen = formatLastSeen(rec.LastActivityAt)
		}
		friends = append(friends, entry)
	}

	sort.SliceStable(friends, func(i, j int) bool {
		if friends[i].IsOnline != friends[j].IsOnline {
			return friends[i].IsOnline
		}
		return friends[i].Name < friends[j].Name
	})

	return models.FriendList{
		Friends:     friends,
		OnlineCount: online,
		TotalCount:  len(friends),
	}
}

// ResolveOpponents returns presence for users with an active or pending match
// against the caller, with the match metadata attached. Same ordering as the
// friends view.
func (qe *QueryEngine) ResolveOpponents(ctx context.Context, userID string) models.OpponentList {
	records, err := qe.directory.ActiveOpponentsOf(ctx, userID)
	if err != nil {
		qe.logger.Warn("opponent resolution degraded", "user_id", userID, "error", err)
		return models.OpponentList{Opponents: []models.OpponentStatus{}, Degraded: true}
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	statuses := qe.store.BatchCheck(ctx, ids)

	opponents := make([]models.OpponentStatus, 0, len(records))
	online := 0
	for _, rec := range records {
		isOnline := statuses[rec.ID] == models.StateOnline
		if isOnline {
			online++
		}
		opponents = append(opponents, models.OpponentStatus{
			UserID:   rec.ID,
			Name:     rec.Username,
			IsOnline: isOnline,
			Match:    rec.Match,
		})
	}

	sort.SliceStable(opponents, func(i, j int) bool {
		if opponents[i].IsOnline != opponents[j].IsOnline {
			return opponents[i].IsOnline
		}
		return opponents[i].Name < opponents[j].Name
	})

	return models.OpponentList{
		Opponents:   opponents,
		OnlineCount: online,
		TotalCount:  len(opponents),
	}
}

// LobbyPage lists currently online users, most recently active first, with
// offset pagination. Concurrent churn in the online set can shift which ids
// land on page N+1 between two fetches; that is accepted eventual
// consistency, not a defect worth a cursor protocol here.
func (qe *QueryEngine) LobbyPage(ctx context.Context, userID string, req models.LobbyRequest) models.LobbyResult {
	page, perPage := clampPagination(req.Page, req.PerPage)

	entries, err := qe.store.OnlineSince(ctx, qe.candidateLimit)
	if err != nil {
		qe.logger.Warn("lobby candidate query degraded", "user_id", userID, "error", err)
		return emptyLobby(page, perPage, true)
	}

	// The index is an upper bound; re-verify against the flags. Unknown
	// counts as not online for the lobby.
	candidateIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.UserID != userID {
			candidateIDs = append(candidateIDs, e.UserID)
		}
	}
	statuses := qe.store.BatchCheck(ctx, candidateIDs)

	excluded := make(map[string]bool)
	if req.ExcludeFriends {
		friends, err := qe.directory.FriendsOf(ctx, userID)
		if err != nil {
			qe.logger.Warn("lobby friend exclusion degraded", "user_id", userID, "error", err)
			return emptyLobby(page, perPage, true)
		}
		for _, f := range friends {
			excluded[f.ID] = true
		}
	}

	verified := make([]models.OnlineEntry, 0, len(entries))
	verifiedIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.UserID == userID || excluded[e.UserID] || statuses[e.UserID] != models.StateOnline {
			continue
		}
		verified = append(verified, e)
		verifiedIDs = append(verifiedIDs, e.UserID)
	}

	users, err := qe.directory.UsersByID(ctx, verifiedIDs)
	if err != nil {
		qe.logger.Warn("lobby name resolution degraded", "user_id", userID, "error", err)
		return emptyLobby(page, perPage, true)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	search := strings.ToLower(strings.TrimSpace(req.Search))
	items := make([]models.LobbyItem, 0, len(verified))
	for _, e := range verified {
		name, ok := names[e.UserID]
		if !ok {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(name), search) {
			continue
		}
		items = append(items, models.LobbyItem{
			UserID:       e.UserID,
			Name:         name,
			LastActiveAt: e.LastActiveAt,
		})
	}

	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	offset := (page - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}

	return models.LobbyResult{
		Items: items[offset:end],
		Pagination: models.Pagination{
			CurrentPage: page,
			PerPage:     perPage,
			Total:       total,
			TotalPages:  totalPages,
			HasMore:     page < totalPages,
		},
	}
}

// CombinedContextual merges the friends and opponents views, deduplicated by
// id. A user currently playing the caller is more contextually relevant than
// general friend status, so opponent metadata wins on overlap.
func (qe *QueryEngine) CombinedContextual(ctx context.Context, userID string) models.ContextualResult {
	friends := qe.ResolveFriends(ctx, userID)
	opponents := qe.ResolveOpponents(ctx, userID)

	merged := make(map[string]models.ContextualUser, len(friends.Friends)+len(opponents.Opponents))
	order := make([]string, 0, len(friends.Friends)+len(opponents.Opponents))

	for _, f := range friends.Friends {
		merged[f.UserID] = models.ContextualUser{
			UserID:   f.UserID,
			Name:     f.Name,
			IsOnline: f.IsOnline,
			LastSeen: f.LastSeen,
		}
		order = append(order, f.UserID)
	}
	for _, o := range opponents.Opponents {
		match := o.Match
		if existing, ok := merged[o.UserID]; ok {
			existing.Match = &match
			existing.IsOnline = o.IsOnline
			merged[o.UserID] = existing
			continue
		}
		merged[o.UserID] = models.ContextualUser{
			UserID:   o.UserID,
			Name:     o.Name,
			IsOnline: o.IsOnline,
			Match:    &match,
		}
		order = append(order, o.UserID)
	}

	all := make([]models.ContextualUser, 0, len(order))
	online := 0
	for _, id := range order {
		entry := merged[id]
		if entry.IsOnline {
			online++
		}
		all = append(all, entry)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].IsOnline != all[j].IsOnline {
			return all[i].IsOnline
		}
		return all[i].Name < all[j].Name
	})

	return models.ContextualResult{
		Friends:     friends.Friends,
		Opponents:   opponents.Opponents,
		AllUsers:    all,
		OnlineCount: online,
		TotalCount:  len(all),
		Degraded:    friends.Degraded || opponents.Degraded,
	}
}

func clampPagination(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < lobbyMinPerPage {
		perPage = lobbyMinPerPage
	}
	if perPage > lobbyMaxPerPage {
		perPage = lobbyMaxPerPage
	}
	return page, perPage
}

func emptyLobby(page, perPage int, degraded bool) models.LobbyResult {
	return models.LobbyResult{
		Items: []models.LobbyItem{},
		Pagination: models.Pagination{
			CurrentPage: page,
			PerPage:     perPage,
		},
		Degraded: degraded,
	}
}

func recordIDs(records []models.UserRecord) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
