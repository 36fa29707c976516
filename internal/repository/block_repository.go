package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// BlockRepository stores blocks. Every query is scoped by owner.
type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

func (r *BlockRepository) Create(ctx context.Context, block *model.Block) error {
	return translate("create block", r.db.WithContext(ctx).Create(block).Error)
}

// CreateBatch inserts all blocks or none of them.
func (r *BlockRepository) CreateBatch(ctx context.Context, blocks []model.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&blocks).Error
	})
	return translate("create blocks", err)
}

// Save writes every field of an existing block.
func (r *BlockRepository) Save(ctx context.Context, block *model.Block) error {
	return translate("save block", r.db.WithContext(ctx).Save(block).Error)
}

func (r *BlockRepository) FindByID(ctx context.Context, ownerID uint, id string) (*model.Block, error) {
	var block model.Block
	err := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).First(&block).Error
	if err != nil {
		return nil, translate("find block", err)
	}
	return &block, nil
}

func (r *BlockRepository) FindByExternalRef(ctx context.Context, ownerID uint, ref string) (*model.Block, error) {
	var block model.Block
	err := r.db.WithContext(ctx).Where("owner_id = ? AND external_calendar_ref = ?", ownerID, ref).First(&block).Error
	if err != nil {
		return nil, translate("find block by external ref", err)
	}
	return &block, nil
}

// ListActiveAt returns blocks whose planned interval contains at.
func (r *BlockRepository) ListActiveAt(ctx context.Context, ownerID uint, at time.Time) ([]model.Block, error) {
	var blocks []model.Block
	at = at.UTC()
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND planned_start <= ? AND planned_end >= ?", ownerID, at, at).
		Order("planned_start DESC").
		Find(&blocks).Error
	if err != nil {
		return nil, translate("list active blocks", err)
	}
	return blocks, nil
}

// ListBetween returns blocks overlapping [from, to), earliest first.
func (r *BlockRepository) ListBetween(ctx context.Context, ownerID uint, from, to time.Time) ([]model.Block, error) {
	var blocks []model.Block
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND planned_start < ? AND planned_end > ?", ownerID, to.UTC(), from.UTC()).
		Order("planned_start ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, translate("list blocks", err)
	}
	return blocks, nil
}

// ListRoutineInstances returns routine-generated blocks starting in [from, to).
func (r *BlockRepository) ListRoutineInstances(ctx context.Context, ownerID uint, from, to time.Time) ([]model.Block, error) {
	var blocks []model.Block
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND routine_ref IS NOT NULL AND planned_start >= ? AND planned_start < ?", ownerID, from.UTC(), to.UTC()).
		Find(&blocks).Error
	if err != nil {
		return nil, translate("list routine blocks", err)
	}
	return blocks, nil
}

// ListRemaining returns blocks that have not ended at now and start before until.
func (r *BlockRepository) ListRemaining(ctx context.Context, ownerID uint, now, until time.Time) ([]model.Block, error) {
	var blocks []model.Block
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND planned_end > ? AND planned_start < ?", ownerID, now.UTC(), until.UTC()).
		Order("planned_start ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, translate("list remaining blocks", err)
	}
	return blocks, nil
}

// ApplySchedule writes new planned times for every given block in one transaction.
func (r *BlockRepository) ApplySchedule(ctx context.Context, ownerID uint, blocks []model.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, proposed := range blocks {
			var current model.Block
			if err := tx.Where("owner_id = ? AND id = ?", ownerID, proposed.ID).First(&current).Error; err != nil {
				return err
			}
			current.PlannedStart = proposed.PlannedStart
			current.PlannedEnd = proposed.PlannedEnd
			if err := tx.Save(&current).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translate("apply schedule", err)
}

// Delete removes a block and its sessions.
func (r *BlockRepository) Delete(ctx context.Context, ownerID uint, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND block_ref = ?", ownerID, id).Delete(&model.Session{}).Error; err != nil {
			return err
		}
		res := tx.Where("owner_id = ? AND id = ?", ownerID, id).Delete(&model.Block{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
	return translate("delete block", err)
}
