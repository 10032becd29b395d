package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/escrow"
	"github.com/fadilmartias/referral-escrow/internal/evidence"
	"github.com/fadilmartias/referral-escrow/internal/fraud"
	"github.com/fadilmartias/referral-escrow/internal/metrics"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/notification"
	"github.com/fadilmartias/referral-escrow/internal/repository"
	"github.com/fadilmartias/referral-escrow/internal/service"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxCommitAttempts = 5

type VerificationStore interface {
	escrow.Store
	Create(ctx context.Context, change verification.Change) error
	Commit(ctx context.Context, change verification.Change, version int) error
	FindByReferralID(ctx context.Context, referralID uuid.UUID) (*model.Verification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Verification, int64, error)
	CountRecentByParty(ctx context.Context, party model.Party, userID uuid.UUID, since time.Time) (int64, error)
	Stats(ctx context.Context) (*repository.VerificationStats, error)
}

type ReferralStore interface {
	FindReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error)
}

type Settings struct {
	PlatformFeeRate   decimal.Decimal
	DefaultReward     int64
	AnalysisThreshold int
	HighVolumeWindow  time.Duration
}

type VerificationUsecase struct {
	store     VerificationStore
	referrals ReferralStore
	reasoner  service.Reasoner
	scorer    *fraud.Scorer
	settler   *escrow.Settler
	publisher notification.Publisher
	settings  Settings
	logger    *zap.Logger
	now       func() time.Time
}

func NewVerificationUsecase(
	store VerificationStore,
	referrals ReferralStore,
	reasoner service.Reasoner,
	scorer *fraud.Scorer,
	settler *escrow.Settler,
	publisher notification.Publisher,
	settings Settings,
	logger *zap.Logger,
) *VerificationUsecase {
	if settings.HighVolumeWindow <= 0 {
		settings.HighVolumeWindow = fraud.DefaultHighVolumeWindow
	}
	return &VerificationUsecase{
		store:     store,
		referrals: referrals,
		reasoner:  reasoner,
		scorer:    scorer,
		settler:   settler,
		publisher: publisher,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a verification for a referral. A zero totalAmount uses the referral's reward,
// then the configured default.
func (uc *VerificationUsecase) Create(ctx context.Context, referralID uuid.UUID, totalAmount int64) (*model.Verification, error) {
	ref, err := uc.referrals.FindReferralByID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if _, err := uc.store.FindByReferralID(ctx, referralID); err == nil {
		return nil, verification.Errorf(verification.KindAlreadyExists, "referral %s already has a verification", referralID)
	} else if !errors.Is(err, verification.ErrNotFound) {
		return nil, err
	}

	if totalAmount == 0 {
		totalAmount = ref.RewardAmount
	}
	if totalAmount == 0 {
		totalAmount = uc.settings.DefaultReward
	}
	payment, err := escrow.NewPaymentRecord(totalAmount, uc.settings.PlatformFeeRate)
	if err != nil {
		return nil, verification.Errorf(verification.KindInvalidInput, "%v", err)
	}

	change := verification.New(*ref, payment, uc.now())
	if err := uc.store.Create(ctx, change); err != nil {
		return nil, err
	}
	uc.logger.Info("verification created",
		zap.String("verification_id", change.Next.ID.String()),
		zap.String("referral_id", referralID.String()),
		zap.Int64("total_amount", totalAmount))
	uc.publish(ctx, change.Events)
	return uc.store.FindByID(ctx, change.Next.ID)
}

func (uc *VerificationUsecase) Get(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	return uc.store.FindByID(ctx, id)
}

func (uc *VerificationUsecase) ListForUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]model.Verification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return uc.store.ListByUser(ctx, userID, page, pageSize)
}

func (uc *VerificationUsecase) Stats(ctx context.Context) (*repository.VerificationStats, error) {
	return uc.store.Stats(ctx)
}

// SubmitEvidence appends evidence and, once enough has accumulated, runs an analysis.
func (uc *VerificationUsecase) SubmitEvidence(ctx context.Context, id uuid.UUID, ev model.Evidence) (*model.Verification, error) {
	change, err := uc.apply(ctx, id, func(v *model.Verification) (verification.Change, error) {
		return verification.SubmitEvidence(v, ev, uc.settings.AnalysisThreshold, uc.now())
	})
	if err != nil {
		return nil, err
	}
	if change.Analyze {
		analyzed, err := uc.RunAnalysis(ctx, id)
		if err == nil {
			return analyzed, nil
		}
		uc.logger.Error("analysis after evidence submission failed",
			zap.String("verification_id", id.String()),
			zap.String("kind", string(verification.KindOf(err))),
			zap.Error(err))
	}
	return uc.store.FindByID(ctx, id)
}

func (uc *VerificationUsecase) UpdateStage(ctx context.Context, id uuid.UUID, stage model.VerificationStage, note string) (*model.Verification, error) {
	if _, err := uc.apply(ctx, id, func(v *model.Verification) (verification.Change, error) {
		return verification.UpdateStage(v, stage, note, uc.now())
	}); err != nil {
		return nil, err
	}
	return uc.store.FindByID(ctx, id)
}

// RunAnalysis asks the reasoning service for a judgement, scores it and applies the decision
// policy. A reasoning outage never fails the call; it yields a fallback analysis that forces
// manual review.
func (uc *VerificationUsecase) RunAnalysis(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	v, err := uc.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if verification.LockedForEdits(v) {
		return nil, verification.Errorf(verification.KindImmutable, "verification is %s", v.Status)
	}

	ref, err := uc.referrals.FindReferralByID(ctx, v.ReferralID)
	if err != nil && !errors.Is(err, verification.ErrNotFound) {
		return nil, err
	}

	now := uc.now()
	analysis := uc.reasoner.Analyze(ctx, evidence.Summarize(v, ref, now))
	signals, err := uc.signals(ctx, v, ref, now)
	if err != nil {
		return nil, err
	}
	assessment := uc.scorer.Score(analysis, signals)

	change, err := uc.apply(ctx, id, func(cur *model.Verification) (verification.Change, error) {
		return verification.ApplyAnalysis(cur, analysis, assessment, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.AnalysesTotal.WithLabelValues(string(change.Next.Status)).Inc()
	fields := []zap.Field{
		zap.String("verification_id", id.String()),
		zap.Int("confidence_score", analysis.ConfidenceScore),
		zap.Int("fraud_score", assessment.Score),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.String("status", string(change.Next.Status)),
	}
	if analysis.Degraded {
		uc.logger.Warn("analysis degraded to fallback",
			append(fields, zap.String("kind", string(verification.KindExternalServiceDegraded)))...)
	} else {
		uc.logger.Info("analysis applied", fields...)
	}
	return uc.store.FindByID(ctx, id)
}

func (uc *VerificationUsecase) signals(ctx context.Context, v *model.Verification, ref *model.Referral, now time.Time) (fraud.Signals, error) {
	since := now.Add(-uc.settings.HighVolumeWindow)
	seekerCount, err := uc.store.CountRecentByParty(ctx, model.PartySeeker, v.SeekerID, since)
	if err != nil {
		return fraud.Signals{}, fmt.Errorf("count seeker referrals: %w", err)
	}
	referrerCount, err := uc.store.CountRecentByParty(ctx, model.PartyReferrer, v.ReferrerID, since)
	if err != nil {
		return fraud.Signals{}, fmt.Errorf("count referrer referrals: %w", err)
	}
	referredAt := v.CreatedAt
	if ref != nil {
		referredAt = ref.CreatedAt
	}
	return fraud.Signals{
		SeekerRecentReferrals:   seekerCount,
		ReferrerRecentReferrals: referrerCount,
		TimelineConsistent:      fraud.TimelineConsistent(v.Stage, referredAt, now),
	}, nil
}

// VerifyAndPay runs an analysis and, if it auto-verifies the referral, releases the payment.
// When the analysis leaves the record under review the record is returned without error.
func (uc *VerificationUsecase) VerifyAndPay(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	v, err := uc.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := verification.CheckVerifyAndPay(v); err != nil {
		return nil, err
	}

	v, err = uc.RunAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status != model.StatusVerified {
		return v, nil
	}
	return uc.settler.Settle(ctx, id)
}

// Settle releases the payment of an already verified record; it is also the retry path after
// a payout failure.
func (uc *VerificationUsecase) Settle(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	return uc.settler.Settle(ctx, id)
}

func (uc *VerificationUsecase) ManualReview(ctx context.Context, id uuid.UUID, approve bool, notes string) (*model.Verification, error) {
	if _, err := uc.apply(ctx, id, func(v *model.Verification) (verification.Change, error) {
		return verification.ManualReview(v, approve, notes, uc.now())
	}); err != nil {
		return nil, err
	}
	uc.logger.Info("manual review recorded", zap.String("verification_id", id.String()), zap.Bool("approved", approve))
	return uc.store.FindByID(ctx, id)
}

func (uc *VerificationUsecase) RaiseDispute(ctx context.Context, id uuid.UUID, by model.Party, reason string) (*model.Verification, error) {
	if _, err := uc.apply(ctx, id, func(v *model.Verification) (verification.Change, error) {
		return verification.RaiseDispute(v, by, reason, uc.now())
	}); err != nil {
		return nil, err
	}
	uc.logger.Info("dispute raised", zap.String("verification_id", id.String()), zap.String("raised_by", string(by)))
	return uc.store.FindByID(ctx, id)
}

func (uc *VerificationUsecase) MarkEvidenceVerified(ctx context.Context, id, evidenceID uuid.UUID) (*model.Verification, error) {
	if _, err := uc.apply(ctx, id, func(v *model.Verification) (verification.Change, error) {
		return verification.MarkEvidenceVerified(v, evidenceID, uc.now())
	}); err != nil {
		return nil, err
	}
	return uc.store.FindByID(ctx, id)
}

// apply loads the record, runs a state machine step and commits it, reloading and retrying
// when a concurrent writer got there first. Events are published only after a commit.
func (uc *VerificationUsecase) apply(ctx context.Context, id uuid.UUID, step func(*model.Verification) (verification.Change, error)) (verification.Change, error) {
	for attempt := 1; ; attempt++ {
		v, err := uc.store.FindByID(ctx, id)
		if err != nil {
			return verification.Change{}, err
		}
		change, err := step(v)
		if err != nil {
			return verification.Change{}, err
		}
		err = uc.store.Commit(ctx, change, v.Version)
		if err == nil {
			uc.publish(ctx, change.Events)
			return change, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= maxCommitAttempts {
			return verification.Change{}, err
		}
		uc.logger.Debug("verification changed concurrently, retrying",
			zap.String("verification_id", id.String()), zap.Int("attempt", attempt))
	}
}

func (uc *VerificationUsecase) publish(ctx context.Context, events []notification.Event) {
	if uc.publisher == nil || len(events) == 0 {
		return
	}
	if err := uc.publisher.Publish(ctx, events...); err != nil {
		uc.logger.Warn("failed to publish verification events", zap.Int("count", len(events)), zap.Error(err))
	}
}
