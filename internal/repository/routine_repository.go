package repository

import (
	"context"

	"gorm.io/gorm"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// RoutineRepository stores recurring templates.
type RoutineRepository struct {
	db *gorm.DB
}

func NewRoutineRepository(db *gorm.DB) *RoutineRepository {
	return &RoutineRepository{db: db}
}

func (r *RoutineRepository) Create(ctx context.Context, routine *model.Routine) error {
	return translate("create routine", r.db.WithContext(ctx).Create(routine).Error)
}

func (r *RoutineRepository) ListByOwner(ctx context.Context, ownerID uint) ([]model.Routine, error) {
	var routines []model.Routine
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("start_time ASC").Find(&routines).Error; err != nil {
		return nil, translate("list routines", err)
	}
	return routines, nil
}

// Delete removes the template; blocks it already generated stay.
func (r *RoutineRepository) Delete(ctx context.Context, ownerID uint, id string) error {
	res := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&model.Routine{})
	if res.Error != nil {
		return translate("delete routine", res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("delete routine", apperrors.ErrNotFound)
	}
	return nil
}
