package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EvidenceType string

const (
	EvidenceScreenshot    EvidenceType = "screenshot"
	EvidenceEmail         EvidenceType = "email"
	EvidenceOfferLetter   EvidenceType = "offer_letter"
	EvidenceJoiningLetter EvidenceType = "joining_letter"
	EvidencePayslip       EvidenceType = "payslip"
	EvidenceOther         EvidenceType = "other"
)

func (t EvidenceType) Valid() bool {
	switch t {
	case EvidenceScreenshot, EvidenceEmail, EvidenceOfferLetter, EvidenceJoiningLetter, EvidencePayslip, EvidenceOther:
		return true
	}
	return false
}

// Evidence is frozen once stored; only Verified may later be flipped by a reviewer.
type Evidence struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	VerificationID uuid.UUID    `gorm:"type:uuid;index;not null" json:"-"`
	Seq            int          `gorm:"not null" json:"-"`
	Type           EvidenceType `gorm:"type:varchar(20);not null" json:"type"`
	URL            string       `gorm:"type:text;not null" json:"url"`
	UploadedBy     Party        `gorm:"type:varchar(10);not null" json:"uploaded_by"`
	UploadedAt     time.Time    `json:"uploaded_at"`
	Verified       bool         `json:"verified"`
}

func (e *Evidence) TableName() string {
	return "verification_evidence"
}

func (e *Evidence) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
