package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict means the record changed between load and write; reload and reapply.
var ErrConflict = errors.New("verification was modified concurrently")

type VerificationRepository struct {
	db *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db}
}

// Create stores a new verification together with the rows its creation appended.
func (r *VerificationRepository) Create(ctx context.Context, change verification.Change) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v := change.Next
		if err := tx.Omit(clause.Associations).Create(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return verification.Errorf(verification.KindAlreadyExists, "referral %s already has a verification", v.ReferralID)
			}
			return err
		}
		return appendRows(tx, v.ID, change.NewEvidence, change.NewTimeline)
	})
}

// Commit writes a state machine change if the stored version still equals version.
// Evidence and timeline rows are only ever inserted, never updated or deleted, apart from
// the reviewer's verified flag.
func (r *VerificationRepository) Commit(ctx context.Context, change verification.Change, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Verification{}).
			Where("id = ? AND version = ?", change.Next.ID, version).
			Updates(stateColumns(&change.Next))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if len(change.VerifiedEvidence) > 0 {
			if err := tx.Model(&model.Evidence{}).
				Where("verification_id = ? AND id IN ?", change.Next.ID, change.VerifiedEvidence).
				Update("verified", true).Error; err != nil {
				return err
			}
		}
		return appendRows(tx, change.Next.ID, change.NewEvidence, change.NewTimeline)
	})
}

func stateColumns(v *model.Verification) map[string]any {
	return map[string]any{
		"status":                 string(v.Status),
		"stage":                  string(v.Stage),
		"ai_confidence_score":    v.Analysis.ConfidenceScore,
		"ai_fraud_risk":          string(v.Analysis.FraudRisk),
		"ai_evidence_quality":    string(v.Analysis.EvidenceQuality),
		"ai_recommendations":     v.Analysis.Recommendations,
		"ai_degraded":            v.Analysis.Degraded,
		"ai_analyzed_at":         v.Analysis.AnalyzedAt,
		"fraud_score":            v.Fraud.Score,
		"fraud_risk_level":       string(v.Fraud.RiskLevel),
		"fraud_flags":            v.Fraud.Flags,
		"auto_verified":          v.AutoVerified,
		"manual_review_required": v.ManualReviewRequired,
		"dispute_raised":         v.Dispute.Raised,
		"dispute_raised_by":      string(v.Dispute.RaisedBy),
		"dispute_reason":         v.Dispute.Reason,
		"dispute_raised_at":      v.Dispute.RaisedAt,
		"admin_notes":            v.AdminNotes,
		"version":                gorm.Expr("version + 1"),
		"updated_at":             v.UpdatedAt,
	}
}

// appendRows inserts evidence and timeline rows after the current highest sequence number.
// Callers must already have updated the verification row in tx, which serialises writers.
func appendRows(tx *gorm.DB, id uuid.UUID, ev []model.Evidence, tl []model.TimelineEntry) error {
	if len(ev) > 0 {
		seq, err := nextSeq(tx, &model.Evidence{}, id)
		if err != nil {
			return err
		}
		rows := make([]model.Evidence, len(ev))
		for i, e := range ev {
			e.VerificationID = id
			e.Seq = seq + i
			rows[i] = e
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("append evidence: %w", err)
		}
	}
	if len(tl) > 0 {
		seq, err := nextSeq(tx, &model.TimelineEntry{}, id)
		if err != nil {
			return err
		}
		rows := make([]model.TimelineEntry, len(tl))
		for i, t := range tl {
			t.VerificationID = id
			t.Seq = seq + i
			rows[i] = t
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}
	}
	return nil
}

func nextSeq(tx *gorm.DB, table any, id uuid.UUID) (int, error) {
	var next int
	err := tx.Model(table).
		Where("verification_id = ?", id).
		Select("COALESCE(MAX(seq), -1) + 1").
		Scan(&next).Error
	return next, err
}

func (r *VerificationRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Evidence", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") })
}

func (r *VerificationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	var v model.Verification
	err := r.preloaded(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, verification.Errorf(verification.KindNotFound, "verification %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VerificationRepository) FindByReferralID(ctx context.Context, referralID uuid.UUID) (*model.Verification, error) {
	var v model.Verification
	err := r.preloaded(ctx).First(&v, "referral_id = ?", referralID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, verification.Errorf(verification.KindNotFound, "no verification for referral %s", referralID)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VerificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Verification, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Verification{}).
		Where("seeker_id = ? OR referrer_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count verifications: %w", err)
	}

	var items []model.Verification
	err := r.preloaded(ctx).
		Where("seeker_id = ? OR referrer_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list verifications: %w", err)
	}
	return items, total, nil
}

// CountRecentByParty counts verifications created since the given time in which userID took
// part as party.
func (r *VerificationRepository) CountRecentByParty(ctx context.Context, party model.Party, userID uuid.UUID, since time.Time) (int64, error) {
	column := "seeker_id"
	if party == model.PartyReferrer {
		column = "referrer_id"
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Verification{}).
		Where(column+" = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

func (r *VerificationRepository) ClaimPayment(ctx context.Context, id uuid.UUID, fee, referrerAmount int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Verification{}).
		Where("id = ? AND status = ? AND payment_status IN ?", id, string(model.StatusVerified),
			[]string{string(model.PaymentPending), string(model.PaymentFailed)}).
		Updates(map[string]any{
			"payment_status":          string(model.PaymentProcessing),
			"payment_platform_fee":    fee,
			"payment_referrer_amount": referrerAmount,
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *VerificationRepository) CompletePayment(ctx context.Context, id uuid.UUID, transactionID string, at time.Time, entry model.TimelineEntry) error {
	return r.finishPayment(ctx, id, map[string]any{
		"payment_status":         string(model.PaymentCompleted),
		"payment_transaction_id": transactionID,
		"payment_processed_at":   at,
	}, entry)
}

func (r *VerificationRepository) FailPayment(ctx context.Context, id uuid.UUID, entry model.TimelineEntry) error {
	return r.finishPayment(ctx, id, map[string]any{
		"payment_status":         string(model.PaymentFailed),
		"payment_transaction_id": nil,
	}, entry)
}

func (r *VerificationRepository) finishPayment(ctx context.Context, id uuid.UUID, cols map[string]any, entry model.TimelineEntry) error {
	cols["version"] = gorm.Expr("version + 1")
	cols["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Verification{}).
			Where("id = ? AND payment_status = ?", id, string(model.PaymentProcessing)).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("payment for %s is not processing", id)
		}
		return appendRows(tx, id, nil, []model.TimelineEntry{entry})
	})
}

type PaymentStats struct {
	TotalProcessed        int64 `json:"total_processed"`
	TotalPlatformFees     int64 `json:"total_platform_fees"`
	TotalReferrerPayments int64 `json:"total_referrer_payments"`
	Pending               int64 `json:"pending_payments"`
	Processing            int64 `json:"processing_payments"`
	Completed             int64 `json:"completed_payments"`
	Failed                int64 `json:"failed_payments"`
}

type VerificationStats struct {
	Total                int64            `json:"total"`
	ByStatus             map[string]int64 `json:"by_status"`
	ManualReviewRequired int64            `json:"manual_review_required"`
	AutoVerified         int64            `json:"auto_verified"`
	Payments             PaymentStats     `json:"payments"`
}

func (r *VerificationRepository) Stats(ctx context.Context) (*VerificationStats, error) {
	db := r.db.WithContext(ctx)
	stats := &VerificationStats{ByStatus: map[string]int64{}}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&model.Verification{}).Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	if err := db.Model(&model.Verification{}).Where("manual_review_required = ?", true).Count(&stats.ManualReviewRequired).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Verification{}).Where("auto_verified = ?", true).Count(&stats.AutoVerified).Error; err != nil {
		return nil, err
	}

	var byPayment []struct {
		PaymentStatus  string
		Count          int64
		TotalAmount    int64
		PlatformFee    int64
		ReferrerAmount int64
	}
	err := db.Model(&model.Verification{}).
		Select("payment_status, COUNT(*) AS count, COALESCE(SUM(payment_total_amount), 0) AS total_amount, " +
			"COALESCE(SUM(payment_platform_fee), 0) AS platform_fee, COALESCE(SUM(payment_referrer_amount), 0) AS referrer_amount").
		Group("payment_status").
		Scan(&byPayment).Error
	if err != nil {
		return nil, fmt.Errorf("payment totals: %w", err)
	}
	for _, row := range byPayment {
		switch model.PaymentStatus(row.PaymentStatus) {
		case model.PaymentCompleted:
			stats.Payments.Completed = row.Count
			stats.Payments.TotalProcessed = row.TotalAmount
			stats.Payments.TotalPlatformFees = row.PlatformFee
			stats.Payments.TotalReferrerPayments = row.ReferrerAmount
		case model.PaymentPending:
			stats.Payments.Pending = row.Count
		case model.PaymentProcessing:
			stats.Payments.Processing = row.Count
		case model.PaymentFailed:
			stats.Payments.Failed = row.Count
		}
	}
	return stats, nil
}
