package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelforge/pixelforge/types"
)

// Balance returns the user's credit balance, creating the row with the
// configured initial balance on first access.
func (s *Store) Balance(ctx context.Context, userID uint) (int, error) {
	var cb CreditBalance
	err := s.db.WithContext(ctx).First(&cb, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cb = CreditBalance{UserID: userID, Balance: s.initialBalance}
		// Clause guards against a concurrent first access creating the row.
		err = s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&cb).Error
		if err != nil {
			return 0, types.NewError(types.ErrInternalError, "init credit balance").WithCause(err)
		}
		return s.Balance(ctx, userID)
	}
	if err != nil {
		return 0, types.NewError(types.ErrInternalError, "read credit balance").WithCause(err)
	}
	return cb.Balance, nil
}

// DebitOne decrements the user's balance by exactly one and returns the new
// balance. Single-statement decrement; the credit gate runs before any
// provider call, separately from this debit.
func (s *Store) DebitOne(ctx context.Context, userID uint) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance - 1"))
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "debit credit").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, types.NewError(types.ErrNotFound, "no credit balance row")
	}
	return s.Balance(ctx, userID)
}

// AddCredits raises the balance, initializing the row when absent. No ceiling.
func (s *Store) AddCredits(ctx context.Context, userID uint, amount int) (int, error) {
	if amount < 0 {
		return 0, types.NewError(types.ErrInvalidRequest, "amount cannot be negative")
	}
	if _, err := s.Balance(ctx, userID); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "add credits").WithCause(res.Error)
	}
	return s.Balance(ctx, userID)
}
