package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type VerificationStatus string

const (
	StatusPending     VerificationStatus = "pending"
	StatusUnderReview VerificationStatus = "under_review"
	StatusVerified    VerificationStatus = "verified"
	StatusRejected    VerificationStatus = "rejected"
	StatusDisputed    VerificationStatus = "disputed"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusVerified, StatusRejected, StatusDisputed:
		return true
	}
	return false
}

// VerificationStage is the progress marker of the underlying referral. Stages are
// strictly ordered; see Rank.
type VerificationStage string

const (
	StageReferralSent       VerificationStage = "referral_sent"
	StageInterviewScheduled VerificationStage = "interview_scheduled"
	StageOfferReceived      VerificationStage = "offer_received"
	StageJoined             VerificationStage = "joined"
	StageCompleted          VerificationStage = "completed"
)

var stageOrder = map[VerificationStage]int{
	StageReferralSent:       0,
	StageInterviewScheduled: 1,
	StageOfferReceived:      2,
	StageJoined:             3,
	StageCompleted:          4,
}

// Rank returns the position of the stage in the fixed ordering, or -1 for unknown values.
func (s VerificationStage) Rank() int {
	r, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return r
}

func (s VerificationStage) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is the same as or later than other.
func (s VerificationStage) AtLeast(other VerificationStage) bool {
	return s.Valid() && s.Rank() >= other.Rank()
}

type FraudRisk string

const (
	RiskLow    FraudRisk = "low"
	RiskMedium FraudRisk = "medium"
	RiskHigh   FraudRisk = "high"
)

func (r FraudRisk) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

type EvidenceQuality string

const (
	QualityPoor      EvidenceQuality = "poor"
	QualityFair      EvidenceQuality = "fair"
	QualityGood      EvidenceQuality = "good"
	QualityExcellent EvidenceQuality = "excellent"
)

func (q EvidenceQuality) Valid() bool {
	switch q {
	case QualityPoor, QualityFair, QualityGood, QualityExcellent:
		return true
	}
	return false
}

type Verification struct {
	ID                   uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	ReferralID           uuid.UUID          `gorm:"type:uuid;uniqueIndex;not null" json:"referral_id"`
	SeekerID             uuid.UUID          `gorm:"type:uuid;index:idx_verifications_parties" json:"seeker_id"`
	ReferrerID           uuid.UUID          `gorm:"type:uuid;index:idx_verifications_parties" json:"referrer_id"`
	Status               VerificationStatus `gorm:"type:varchar(20);index;not null" json:"verification_status"`
	Stage                VerificationStage  `gorm:"type:varchar(30);not null" json:"verification_stage"`
	Evidence             []Evidence         `gorm:"foreignKey:VerificationID" json:"evidence"`
	Analysis             Analysis           `gorm:"embedded;embeddedPrefix:ai_" json:"ai_analysis"`
	Fraud                FraudAssessment    `gorm:"embedded;embeddedPrefix:fraud_" json:"fraud"`
	Payment              PaymentRecord      `gorm:"embedded;embeddedPrefix:payment_" json:"payment"`
	AutoVerified         bool               `json:"auto_verified"`
	ManualReviewRequired bool               `json:"manual_review_required"`
	Dispute              Dispute            `gorm:"embedded;embeddedPrefix:dispute_" json:"dispute"`
	Timeline             []TimelineEntry    `gorm:"foreignKey:VerificationID" json:"timeline"`
	AdminNotes           string             `gorm:"type:text" json:"admin_notes,omitempty"`
	Version              int                `gorm:"not null;default:0" json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func (v *Verification) TableName() string {
	return "verifications"
}

func (v *Verification) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Analyzed reports whether the reasoning service has produced a result for this record.
func (v *Verification) Analyzed() bool {
	return v.Analysis.AnalyzedAt != nil
}

// Analysis is the last Reasoning Adapter result. It is empty until AnalyzedAt is set.
type Analysis struct {
	ConfidenceScore int                         `json:"confidence_score"`
	FraudRisk       FraudRisk                   `gorm:"type:varchar(10)" json:"fraud_risk"`
	EvidenceQuality EvidenceQuality             `gorm:"type:varchar(10)" json:"evidence_quality"`
	Recommendations datatypes.JSONSlice[string] `json:"recommendations"`
	Degraded        bool                        `json:"degraded"`
	AnalyzedAt      *time.Time                  `json:"analyzed_at"`
}

type FraudAssessment struct {
	Score     int                         `json:"fraud_score"`
	RiskLevel FraudRisk                   `gorm:"type:varchar(10)" json:"risk_level"`
	Flags     datatypes.JSONSlice[string] `json:"flags"`
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// PaymentRecord holds the escrowed amount in minor currency units (cents).
type PaymentRecord struct {
	TotalAmount     int64           `gorm:"not null" json:"total_amount"`
	PlatformFeeRate decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"platform_fee_rate"`
	PlatformFee     int64           `gorm:"not null" json:"platform_fee"`
	ReferrerAmount  int64           `gorm:"not null" json:"referrer_amount"`
	Status          PaymentStatus   `gorm:"type:varchar(20);index;not null" json:"status"`
	TransactionID   *string         `gorm:"type:varchar(100)" json:"transaction_id,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// FormatCents renders an amount in cents as dollars, e.g. 450000 as "$4500.00".
func FormatCents(c int64) string {
	d := decimal.New(c, -2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

type Party string

const (
	PartySeeker   Party = "seeker"
	PartyReferrer Party = "referrer"
)

func (p Party) Valid() bool { return p == PartySeeker || p == PartyReferrer }

type Dispute struct {
	Raised   bool       `json:"raised"`
	RaisedBy Party      `gorm:"type:varchar(10)" json:"raised_by,omitempty"`
	Reason   string     `gorm:"type:text" json:"reason,omitempty"`
	RaisedAt *time.Time `json:"raised_at,omitempty"`
}
