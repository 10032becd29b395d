package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/metrics"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/notification"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayoutRail moves money to a payee. Implementations must treat idempotencyKey as the
// deduplication key for the transfer.
type PayoutRail interface {
	Pay(ctx context.Context, amount int64, payee string, idempotencyKey string) (string, error)
}

// Store persists settlement state. ClaimPayment is a compare-and-set: it moves the payment
// of a verified record from pending or failed to processing and reports whether this caller
// won. Only the winner may call the payout rail.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Verification, error)
	ClaimPayment(ctx context.Context, id uuid.UUID, fee, referrerAmount int64) (bool, error)
	CompletePayment(ctx context.Context, id uuid.UUID, transactionID string, at time.Time, entry model.TimelineEntry) error
	FailPayment(ctx context.Context, id uuid.UUID, entry model.TimelineEntry) error
}

type Settler struct {
	store     Store
	rail      PayoutRail
	publisher notification.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewSettler(store Store, rail PayoutRail, publisher notification.Publisher, logger *zap.Logger) *Settler {
	return &Settler{
		store:     store,
		rail:      rail,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Eligible reports whether v may be settled now.
func Eligible(v *model.Verification) error {
	if v.Status != model.StatusVerified {
		return verification.Errorf(verification.KindNotEligible, "verification is %s, not verified", v.Status)
	}
	switch v.Payment.Status {
	case model.PaymentPending, model.PaymentFailed:
		return nil
	case model.PaymentCompleted:
		return verification.Errorf(verification.KindNotEligible, "payment already completed")
	default:
		return verification.Errorf(verification.KindNotEligible, "payment is %s", v.Payment.Status)
	}
}

// Settle releases the escrowed amount for a verified record exactly once. A payout failure is
// recorded on the record and returned as PayoutFailed; calling Settle again retries it.
func (s *Settler) Settle(ctx context.Context, id uuid.UUID) (*model.Verification, error) {
	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Eligible(v); err != nil {
		metrics.SettlementsTotal.WithLabelValues("not_eligible").Inc()
		return nil, err
	}

	fee, referrerAmount := Split(v.Payment.TotalAmount, v.Payment.PlatformFeeRate)
	won, err := s.store.ClaimPayment(ctx, id, fee, referrerAmount)
	if err != nil {
		return nil, fmt.Errorf("claim payment: %w", err)
	}
	if !won {
		metrics.SettlementsTotal.WithLabelValues("not_eligible").Inc()
		return nil, verification.Errorf(verification.KindNotEligible, "settlement already in progress or completed")
	}

	start := time.Now()
	txID, payErr := s.rail.Pay(ctx, referrerAmount, v.ReferrerID.String(), v.ID.String())
	metrics.PayoutDuration.Observe(time.Since(start).Seconds())
	if payErr == nil && txID == "" {
		payErr = errors.New("payout rail returned no transaction id")
	}

	now := s.now()
	if payErr != nil {
		entry := s.entry(v, model.PaymentFailed, fmt.Sprintf("payout of %s failed: %v", model.FormatCents(referrerAmount), payErr), now)
		if err := s.store.FailPayment(ctx, id, entry); err != nil {
			s.logger.Error("failed to record payout failure",
				zap.String("verification_id", id.String()), zap.Error(err))
			return nil, fmt.Errorf("record payout failure: %w", err)
		}
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("payout failed",
			zap.String("verification_id", id.String()),
			zap.Int64("amount", referrerAmount),
			zap.Error(payErr))

		updated, err := s.store.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, notification.NewEvent(notification.EventPaymentFailed, updated, map[string]any{
			"referrer_amount": referrerAmount,
		}, now))
		return updated, verification.Errorf(verification.KindPayoutFailed, "payout rail rejected the transfer, settlement can be retried")
	}

	entry := s.entry(v, model.PaymentCompleted, fmt.Sprintf("payment of %s released to referrer, platform fee %s", model.FormatCents(referrerAmount), model.FormatCents(fee)), now)
	if err := s.store.CompletePayment(ctx, id, txID, now, entry); err != nil {
		// The money has moved; the rail's idempotency key makes a retry safe.
		s.logger.Error("payout succeeded but completion was not recorded",
			zap.String("verification_id", id.String()),
			zap.String("transaction_id", txID),
			zap.Error(err))
		return nil, fmt.Errorf("record payout completion: %w", err)
	}
	metrics.SettlementsTotal.WithLabelValues("completed").Inc()
	metrics.ReleasedCents.Add(float64(referrerAmount))
	s.logger.Info("payment released",
		zap.String("verification_id", id.String()),
		zap.String("transaction_id", txID),
		zap.Int64("referrer_amount", referrerAmount),
		zap.Int64("platform_fee", fee))

	updated, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notification.NewEvent(notification.EventPaymentProcessed, updated, map[string]any{
		"referrer_amount": referrerAmount,
		"platform_fee":    fee,
		"transaction_id":  txID,
	}, now))
	return updated, nil
}

func (s *Settler) entry(v *model.Verification, status model.PaymentStatus, note string, now time.Time) model.TimelineEntry {
	return model.TimelineEntry{
		VerificationID: v.ID,
		Stage:          "payment",
		Status:         string(status),
		Actor:          model.ActorSystem,
		Note:           note,
		CreatedAt:      now,
	}
}

func (s *Settler) publish(ctx context.Context, ev notification.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish settlement event",
			zap.String("verification_id", ev.VerificationID.String()),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
