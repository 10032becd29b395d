package repository

import (
	"context"
	"errors"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferralRepository is a read-only view of the marketplace's referrals.
type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db}
}

func (r *ReferralRepository) FindReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	var ref model.Referral
	err := r.db.WithContext(ctx).First(&ref, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, verification.Errorf(verification.KindNotFound, "referral %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
