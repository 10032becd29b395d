package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/escrow"
	"github.com/fadilmartias/referral-escrow/internal/evidence"
	"github.com/fadilmartias/referral-escrow/internal/fraud"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/notification"
	"github.com/fadilmartias/referral-escrow/internal/repository"
	"github.com/fadilmartias/referral-escrow/internal/service"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixedReasoner struct {
	mu       sync.Mutex
	analysis model.Analysis
	calls    int
}

func (r *fixedReasoner) Analyze(ctx context.Context, summary evidence.Summary) model.Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.analysis
}

type slowClient struct{}

func (slowClient) Name() string { return "slow" }

func (slowClient) Complete(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type failingRail struct{}

func (failingRail) Pay(ctx context.Context, amount int64, payee, key string) (string, error) {
	return "", errors.New("rail unavailable")
}

type countFailingStore struct {
	*repository.VerificationRepository
}

func (countFailingStore) CountRecentByParty(ctx context.Context, party model.Party, userID uuid.UUID, since time.Time) (int64, error) {
	return 0, errors.New("count unavailable")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...notification.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) has(t notification.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type VerificationUsecaseSuite struct {
	suite.Suite
	db        *gorm.DB
	store     *repository.VerificationRepository
	reasoner  *fixedReasoner
	publisher *recordingPublisher
	uc        *VerificationUsecase
	ctx       context.Context
}

func TestVerificationUsecase(t *testing.T) {
	suite.Run(t, new(VerificationUsecaseSuite))
}

func (s *VerificationUsecaseSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.AutoMigrate(&model.Referral{}, &model.Verification{}, &model.Evidence{}, &model.TimelineEntry{}))

	s.db = db
	s.ctx = context.Background()
	s.store = repository.NewVerificationRepository(db)
	s.reasoner = &fixedReasoner{analysis: model.Analysis{ConfidenceScore: 90, FraudRisk: model.RiskLow, EvidenceQuality: model.QualityGood}}
	s.publisher = &recordingPublisher{}
	s.uc = s.newUsecase(s.reasoner, service.NewSimulatedPayoutService(), 0)
}

func (s *VerificationUsecaseSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	sqlDB.Close()
}

func (s *VerificationUsecaseSuite) newUsecase(reasoner service.Reasoner, rail escrow.PayoutRail, threshold int) *VerificationUsecase {
	settler := escrow.NewSettler(s.store, rail, s.publisher, zap.NewNop())
	return NewVerificationUsecase(
		s.store,
		repository.NewReferralRepository(s.db),
		reasoner,
		fraud.NewScorer(),
		settler,
		s.publisher,
		Settings{PlatformFeeRate: escrow.DefaultPlatformFeeRate, DefaultReward: 10000, AnalysisThreshold: threshold},
		zap.NewNop(),
	)
}

func (s *VerificationUsecaseSuite) referral(reward int64, age time.Duration) model.Referral {
	ref := model.Referral{
		ID:           uuid.New(),
		SeekerID:     uuid.New(),
		ReferrerID:   uuid.New(),
		Company:      "Acme",
		Role:         "Backend Engineer",
		RewardAmount: reward,
		CreatedAt:    time.Now().Add(-age),
	}
	s.Require().NoError(s.db.Create(&ref).Error)
	return ref
}

func (s *VerificationUsecaseSuite) referralForSeeker(seeker uuid.UUID, age time.Duration) model.Referral {
	ref := s.referral(500000, age)
	ref.SeekerID = seeker
	s.Require().NoError(s.db.Model(&ref).Update("seeker_id", seeker).Error)
	return ref
}

func (s *VerificationUsecaseSuite) submit(uc *VerificationUsecase, id uuid.UUID, typ model.EvidenceType, by model.Party) *model.Verification {
	v, err := uc.SubmitEvidence(s.ctx, id, model.Evidence{Type: typ, URL: "https://files.example.com/" + string(typ), UploadedBy: by})
	s.Require().NoError(err)
	return v
}

func (s *VerificationUsecaseSuite) TestVerifyAndPayReleasesEscrow() {
	ref := s.referral(500000, 20*24*time.Hour)

	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	s.Equal(int64(500000), v.Payment.TotalAmount)

	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageJoined, "started on Monday")
	s.Require().NoError(err)
	s.submit(s.uc, v.ID, model.EvidenceJoiningLetter, model.PartySeeker)
	s.submit(s.uc, v.ID, model.EvidenceEmail, model.PartyReferrer)

	v, err = s.uc.VerifyAndPay(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusVerified, v.Status)
	s.True(v.AutoVerified)
	s.Equal(model.RiskLow, v.Fraud.RiskLevel)
	s.Equal(model.PaymentCompleted, v.Payment.Status)
	s.Equal(int64(50000), v.Payment.PlatformFee)
	s.Equal(int64(450000), v.Payment.ReferrerAmount)
	s.Require().NotNil(v.Payment.TransactionID)
	s.Contains(*v.Payment.TransactionID, "TXN_")
	s.True(s.publisher.has(notification.EventPaymentProcessed))

	_, err = s.uc.Settle(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrNotEligible)

	_, err = s.uc.SubmitEvidence(s.ctx, v.ID, model.Evidence{Type: model.EvidencePayslip, URL: "https://x", UploadedBy: model.PartySeeker})
	s.ErrorIs(err, verification.ErrImmutable)

	_, err = s.uc.VerifyAndPay(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrAlreadyVerified)
}

func (s *VerificationUsecaseSuite) TestVerifyAndPayBeforeJoinedNeedsReview() {
	ref := s.referral(500000, 10*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageOfferReceived, "")
	s.Require().NoError(err)

	v, err = s.uc.VerifyAndPay(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusUnderReview, v.Status)
	s.True(v.ManualReviewRequired)
	s.Equal(model.PaymentPending, v.Payment.Status)
	s.Nil(v.Payment.TransactionID)
	s.True(s.publisher.has(notification.EventActionRequired))
}

func (s *VerificationUsecaseSuite) TestBusySeekerWithImplausibleTimelineNeedsReview() {
	seeker := uuid.New()
	for i := 0; i < 11; i++ {
		ref := s.referralForSeeker(seeker, 40*24*time.Hour)
		_, err := s.uc.Create(s.ctx, ref.ID, 0)
		s.Require().NoError(err)
	}

	ref := s.referralForSeeker(seeker, 3*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageJoined, "")
	s.Require().NoError(err)

	v, err = s.uc.VerifyAndPay(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusUnderReview, v.Status)
	s.True(v.ManualReviewRequired)
	s.False(v.AutoVerified)
	s.Equal(model.RiskMedium, v.Fraud.RiskLevel)
	s.Len(v.Fraud.Flags, 2)
	s.Equal(model.PaymentPending, v.Payment.Status)
	s.Nil(v.Payment.TransactionID)
}

func (s *VerificationUsecaseSuite) TestReasoningTimeoutForcesManualReview() {
	uc := s.newUsecase(service.NewReasoningService(slowClient{}, 50*time.Millisecond, zap.NewNop()), service.NewSimulatedPayoutService(), 0)
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	_, err = uc.UpdateStage(s.ctx, v.ID, model.StageJoined, "")
	s.Require().NoError(err)

	v, err = uc.VerifyAndPay(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusUnderReview, v.Status)
	s.True(v.ManualReviewRequired)
	s.False(v.AutoVerified)
	s.True(v.Analysis.Degraded)
	s.Equal(50, v.Analysis.ConfidenceScore)
	s.Equal(model.PaymentPending, v.Payment.Status)
}

func (s *VerificationUsecaseSuite) TestEvidenceThresholdTriggersAnalysis() {
	uc := s.newUsecase(s.reasoner, service.NewSimulatedPayoutService(), 2)
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	v = s.submit(uc, v.ID, model.EvidenceOfferLetter, model.PartySeeker)
	s.False(v.Analyzed())
	s.Equal(0, s.reasoner.calls)

	v = s.submit(uc, v.ID, model.EvidenceEmail, model.PartyReferrer)
	s.True(v.Analyzed())
	s.Equal(1, s.reasoner.calls)
	s.Equal(model.StatusUnderReview, v.Status, "referral_sent stage never auto-verifies")
	s.Equal(model.PaymentPending, v.Payment.Status)
}

func (s *VerificationUsecaseSuite) TestEvidenceIsKeptWhenTriggeredAnalysisFails() {
	store := countFailingStore{s.store}
	uc := NewVerificationUsecase(
		store,
		repository.NewReferralRepository(s.db),
		s.reasoner,
		fraud.NewScorer(),
		escrow.NewSettler(store, service.NewSimulatedPayoutService(), s.publisher, zap.NewNop()),
		s.publisher,
		Settings{PlatformFeeRate: escrow.DefaultPlatformFeeRate, DefaultReward: 10000, AnalysisThreshold: 1},
		zap.NewNop(),
	)
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	v, err = uc.SubmitEvidence(s.ctx, v.ID, model.Evidence{Type: model.EvidenceOfferLetter, URL: "https://x", UploadedBy: model.PartySeeker})
	s.Require().NoError(err)
	s.Require().NotNil(v)
	s.Len(v.Evidence, 1)
	s.False(v.Analyzed())
	s.Equal(model.StatusPending, v.Status)
}

func (s *VerificationUsecaseSuite) TestCreateValidation() {
	_, err := s.uc.Create(s.ctx, uuid.New(), 0)
	s.ErrorIs(err, verification.ErrNotFound)

	ref := s.referral(0, time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	s.Equal(int64(10000), v.Payment.TotalAmount, "default reward applies")

	_, err = s.uc.Create(s.ctx, ref.ID, 0)
	s.ErrorIs(err, verification.ErrAlreadyExists)

	other := s.referral(0, time.Hour)
	_, err = s.uc.Create(s.ctx, other.ID, -5)
	s.ErrorIs(err, verification.ErrInvalidInput)
}

func (s *VerificationUsecaseSuite) TestStageOrdering() {
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageInterviewScheduled, "")
	s.Require().NoError(err)
	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageReferralSent, "")
	s.ErrorIs(err, verification.ErrInvalidTransition)

	got, err := s.uc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.StageInterviewScheduled, got.Stage)
}

func (s *VerificationUsecaseSuite) TestManualReviewThenSettleAndDispute() {
	ref := s.referral(500000, 5*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	v = s.submit(s.uc, v.ID, model.EvidenceScreenshot, model.PartySeeker)

	v, err = s.uc.MarkEvidenceVerified(s.ctx, v.ID, v.Evidence[0].ID)
	s.Require().NoError(err)
	s.True(v.Evidence[0].Verified)

	_, err = s.uc.Settle(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrNotEligible)

	v, err = s.uc.ManualReview(s.ctx, v.ID, true, "confirmed with employer")
	s.Require().NoError(err)
	s.Equal(model.StatusVerified, v.Status)
	s.False(v.AutoVerified)

	v, err = s.uc.Settle(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, v.Payment.Status)

	v, err = s.uc.RaiseDispute(s.ctx, v.ID, model.PartySeeker, "I was hired through another channel")
	s.Require().NoError(err)
	s.Equal(model.StatusDisputed, v.Status)
	s.True(s.publisher.has(notification.EventDisputeRaised))

	_, err = s.uc.UpdateStage(s.ctx, v.ID, model.StageCompleted, "")
	s.ErrorIs(err, verification.ErrImmutable)
}

func (s *VerificationUsecaseSuite) TestRejectedRecordIsImmutable() {
	ref := s.referral(500000, 5*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	_, err = s.uc.ManualReview(s.ctx, v.ID, false, "documents forged")
	s.Require().NoError(err)

	_, err = s.uc.SubmitEvidence(s.ctx, v.ID, model.Evidence{Type: model.EvidenceEmail, URL: "https://x", UploadedBy: model.PartySeeker})
	s.ErrorIs(err, verification.ErrImmutable)
	_, err = s.uc.RunAnalysis(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrImmutable)
	_, err = s.uc.VerifyAndPay(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrImmutable)
	_, err = s.uc.Settle(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrNotEligible)
}

func (s *VerificationUsecaseSuite) TestPayoutFailureLeavesRecordRetryable() {
	uc := s.newUsecase(s.reasoner, failingRail{}, 0)
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)
	_, err = uc.UpdateStage(s.ctx, v.ID, model.StageJoined, "")
	s.Require().NoError(err)

	v, err = uc.VerifyAndPay(s.ctx, v.ID)
	s.ErrorIs(err, verification.ErrPayoutFailed)
	s.Require().NotNil(v)
	s.Equal(model.StatusVerified, v.Status)
	s.Equal(model.PaymentFailed, v.Payment.Status)

	v, err = s.uc.Settle(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(model.PaymentCompleted, v.Payment.Status)
}

func (s *VerificationUsecaseSuite) TestConcurrentEvidenceIsNotLost() {
	ref := s.referral(500000, 20*24*time.Hour)
	v, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	const writers = 5
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.uc.SubmitEvidence(s.ctx, v.ID, model.Evidence{Type: model.EvidenceOther, URL: "https://x", UploadedBy: model.PartySeeker})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		s.NoError(err)
	}

	got, err := s.uc.Get(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Len(got.Evidence, writers)
	s.Len(got.Timeline, writers+1)
}

func (s *VerificationUsecaseSuite) TestListAndStats() {
	ref := s.referral(500000, time.Hour)
	_, err := s.uc.Create(s.ctx, ref.ID, 0)
	s.Require().NoError(err)

	items, total, err := s.uc.ListForUser(s.ctx, ref.ReferrerID, 0, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Len(items, 1)

	stats, err := s.uc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.Total)
	s.Equal(int64(1), stats.Payments.Pending)
}
