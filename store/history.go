package store

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/types"
)

// HistoryLimit caps how many records a listing returns.
const HistoryLimit = 50

// CreateRecord inserts a new generation record.
func (s *Store) CreateRecord(ctx context.Context, rec *GenerationRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return types.NewError(types.ErrInternalError, "create generation record").WithCause(err)
	}
	return nil
}

// ListRecent returns the user's most recent records, newest first, capped at
// HistoryLimit.
func (s *Store) ListRecent(ctx context.Context, userID uint) ([]GenerationRecord, error) {
	var records []GenerationRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(HistoryLimit).
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list generation records").WithCause(err)
	}
	return records, nil
}

// RecordByID fetches one record scoped to its owner.
func (s *Store) RecordByID(ctx context.Context, userID, id uint) (*GenerationRecord, error) {
	var rec GenerationRecord
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "generation record not found")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "lookup record by id").WithCause(err)
	}
	return &rec, nil
}

// RecordByTask finds the record owning a provider task handle.
func (s *Store) RecordByTask(ctx context.Context, taskID string) (*GenerationRecord, error) {
	var rec GenerationRecord
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "no record for task "+taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "lookup record by task").WithCause(err)
	}
	return &rec, nil
}

// CompleteTask transitions a pending record to completed and stores the
// resolved image. The WHERE clause makes the transition fire at most once, so
// concurrent polls of an already-terminal task are harmless no-ops. Returns
// whether this call performed the transition.
func (s *Store) CompleteTask(ctx context.Context, taskID, image string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&GenerationRecord{}).
		Where("task_id = ? AND status = ?", taskID, imagegen.StatePending).
		Updates(map[string]any{
			"status": imagegen.StateCompleted,
			"image":  image,
		})
	if res.Error != nil {
		return false, types.NewError(types.ErrInternalError, "complete task").WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailTask transitions a pending record to failed. The failure reason is
// returned to callers for display but never persisted on the record.
func (s *Store) FailTask(ctx context.Context, taskID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&GenerationRecord{}).
		Where("task_id = ? AND status = ?", taskID, imagegen.StatePending).
		Update("status", imagegen.StateFailed)
	if res.Error != nil {
		return false, types.NewError(types.ErrInternalError, "fail task").WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetFavorite toggles the soft-favorite flag on one of the user's records.
func (s *Store) SetFavorite(ctx context.Context, userID, recordID uint, favorite bool) error {
	res := s.db.WithContext(ctx).
		Model(&GenerationRecord{}).
		Where("id = ? AND user_id = ?", recordID, userID).
		Update("favorite", favorite)
	if res.Error != nil {
		return types.NewError(types.ErrInternalError, "set favorite").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "record not found")
	}
	return nil
}

// DeleteRecords removes the user's records with the given ids and best-effort
// removes any locally cached files. A missing or unremovable file is logged
// and never blocks row deletion.
func (s *Store) DeleteRecords(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var cached []string
	err := s.db.WithContext(ctx).
		Model(&GenerationRecord{}).
		Where("user_id = ? AND id IN ? AND cached_path <> ''", userID, ids).
		Pluck("cached_path", &cached).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "collect cached files").WithCause(err)
	}

	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&GenerationRecord{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "delete records").WithCause(res.Error)
	}

	for _, path := range cached {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove cached file",
				zap.String("path", path),
				zap.Error(err))
		}
	}

	return res.RowsAffected, nil
}
