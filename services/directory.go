package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gambit/presence-service/models"
	"gambit/presence-service/utils"
)

// Directory is the persistence collaborator consumed by the query engine. It
// resolves which users are relevant to a caller; presence itself never reads
// the platform schema beyond this seam.
type Directory interface {
	FriendsOf(ctx context.Context, userID string) ([]models.UserRecord, error)
	ActiveOpponentsOf(ctx context.Context, userID string) ([]models.OpponentRecord, error)
	UsersByID(ctx context.Context, userIDs []string) ([]models.UserRecord, error)
}

type DirectoryStore struct {
	db     *gorm.DB
	logger *utils.Logger
}

func NewDirectoryStore(db *gorm.DB, logger *utils.Logger) *DirectoryStore {
	return &DirectoryStore{
		db:     db,
		logger: logger,
	}
}

// FriendsOf returns the deduplicated union of explicit friendships and past
// match opponents, the caller excluded.
func (ds *DirectoryStore) FriendsOf(ctx context.Context, userID string) ([]models.UserRecord, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	var friendIDs []uuid.UUID
	if err := ds.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("user_id = ?", uid).
		Pluck("friend_id", &friendIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch friendships: %w", err)
	}

	var matches []models.Match
	if err := ds.db.WithContext(ctx).
		Where("white_player_id = ? OR black_player_id = ?", uid, uid).
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch match history: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(friendIDs)+len(matches))
	ids := make([]uuid.UUID, 0, len(friendIDs)+len(matches))
	add := func(id uuid.UUID) {
		if id == uid || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range friendIDs {
		add(id)
	}
	for _, m := range matches {
		add(opponentIn(m, uid))
	}

	return ds.lookupUsers(ctx, ids)
}

// ActiveOpponentsOf returns the users with an active or pending match against
// the caller, one entry per opponent, with the match metadata attached. When
// an opponent has several live matches against the caller the most recently
// created one wins.
func (ds *DirectoryStore) ActiveOpponentsOf(ctx context.Context, userID string) ([]models.OpponentRecord, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	var matches []models.Match
	if err := ds.db.WithContext(ctx).
		Where("(white_player_id = ? OR black_player_id = ?) AND status IN ?",
			uid, uid, []models.MatchStatus{models.MatchStatusActive, models.MatchStatusPending}).
		Order("created_at DESC").
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active matches: %w", err)
	}

	contexts := make(map[uuid.UUID]models.MatchContext, len(matches))
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		opponentID := opponentIn(m, uid)
		if opponentID == uid {
			continue
		}
		if _, ok := contexts[opponentID]; ok {
			continue
		}
		contexts[opponentID] = models.MatchContext{
			MatchID:     m.ID.String(),
			Round:       m.Round,
			Status:      string(m.Status),
			ScheduledAt: m.ScheduledAt,
		}
		ids = append(ids, opponentID)
	}

	users, err := ds.lookupUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	records := make([]models.OpponentRecord, 0, len(users))
	for _, u := range users {
		id, err := uuid.Parse(u.ID)
		if err != nil {
			continue
		}
		records = append(records, models.OpponentRecord{
			UserRecord: u,
			Match:      contexts[id],
		})
	}
	return records, nil
}

// UsersByID resolves display records for an id set, silently skipping ids not
// present in the directory.
func (ds *DirectoryStore) UsersByID(ctx context.Context, userIDs []string) ([]models.UserRecord, error) {
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ds.lookupUsers(ctx, ids)
}

func (ds *DirectoryStore) lookupUsers(ctx context.Context, ids []uuid.UUID) ([]models.UserRecord, error) {
	if len(ids) == 0 {
		return []models.UserRecord{}, nil
	}

	var users []models.User
	if err := ds.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}

	records := make([]models.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, models.UserRecord{
			ID:             u.ID.String(),
			Username:       u.Username,
			LastActivityAt: u.LastActivityAt,
		})
	}
	return records, nil
}

func opponentIn(m models.Match, uid uuid.UUID) uuid.UUID {
	if m.WhitePlayerID == uid {
		return m.BlackPlayerID
	}
	return m.WhitePlayerID
}
