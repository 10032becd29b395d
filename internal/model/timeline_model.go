package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Actor identifies who caused a timeline entry.
type Actor string

const (
	ActorAI     Actor = "ai"
	ActorAdmin  Actor = "admin"
	ActorUser   Actor = "user"
	ActorSystem Actor = "system"
)

type TimelineEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VerificationID uuid.UUID `gorm:"type:uuid;index;not null" json:"-"`
	Seq            int       `gorm:"not null" json:"-"`
	Stage          string    `gorm:"type:varchar(30);not null" json:"stage"`
	Status         string    `gorm:"type:varchar(20);not null" json:"status"`
	Actor          Actor     `gorm:"type:varchar(10);not null" json:"actor"`
	Note           string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt      time.Time `json:"date"`
}

func (t *TimelineEntry) TableName() string {
	return "verification_timeline"
}

func (t *TimelineEntry) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
