package model

import (
	"time"

	"github.com/google/uuid"
)

// Referral is owned by the marketplace; this service only reads it.
type Referral struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SeekerID     uuid.UUID `gorm:"type:uuid;not null" json:"seeker_id"`
	ReferrerID   uuid.UUID `gorm:"type:uuid;not null" json:"referrer_id"`
	Company      string    `json:"company"`
	Role         string    `json:"role"`
	RewardAmount int64     `json:"reward_amount"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Referral) TableName() string {
	return "referrals"
}
