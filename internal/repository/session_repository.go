package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// SessionRepository stores execution attempts.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	return translate("create session", r.db.WithContext(ctx).Create(session).Error)
}

// Update saves a session unless the stored copy already has a terminal outcome.
func (r *SessionRepository) Update(ctx context.Context, session *model.Session) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored model.Session
		if err := tx.Where("owner_id = ? AND id = ?", session.OwnerID, session.ID).First(&stored).Error; err != nil {
			return err
		}
		if stored.Outcome.Terminal() {
			return fmt.Errorf("%w: session %s is already %s", apperrors.ErrInvalidTransition, stored.ID, stored.Outcome)
		}
		return tx.Save(session).Error
	})
	return translate("update session", err)
}

// ListForBlocks groups sessions by block id in creation order.
func (r *SessionRepository) ListForBlocks(ctx context.Context, ownerID uint, blockIDs []string) (map[string][]model.Session, error) {
	out := make(map[string][]model.Session, len(blockIDs))
	if len(blockIDs) == 0 {
		return out, nil
	}
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND block_ref IN ?", ownerID, blockIDs).
		Order("created_at ASC, rowid ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, translate("list sessions", err)
	}
	for _, s := range sessions {
		out[*s.BlockRef] = append(out[*s.BlockRef], s)
	}
	return out, nil
}

// LatestForBlock returns the newest session of a block, or nil when there is none.
func (r *SessionRepository) LatestForBlock(ctx context.Context, ownerID uint, blockID string) (*model.Session, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND block_ref = ?", ownerID, blockID).
		Order("created_at DESC, rowid DESC").
		Limit(1).
		Find(&sessions).Error
	if err != nil {
		return nil, translate("latest session", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}
