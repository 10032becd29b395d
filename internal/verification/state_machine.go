// Package verification owns the verification lifecycle. Every operation here is a pure
// function of the current record and an event: it returns the next record together with the
// rows to append and the events to publish, and never touches storage or the network.
package verification

import (
	"fmt"
	"strings"
	"time"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/notification"
	"github.com/google/uuid"
)

const (
	AutoVerifyMinConfidence = 80
	LowConfidenceThreshold  = 40
)

// Change is the result of applying one event to a verification.
//
// Next is the full record after the event, including the appended Evidence and Timeline.
// NewEvidence and NewTimeline hold only the rows the event appended, and VerifiedEvidence the
// ids of evidence a reviewer confirmed; storage writes exactly these plus Next's scalar fields.
type Change struct {
	Next             model.Verification
	NewEvidence      []model.Evidence
	NewTimeline      []model.TimelineEntry
	VerifiedEvidence []uuid.UUID
	Events           []notification.Event
	// Analyze asks the caller to run an analysis after persisting the change.
	Analyze bool
}

func (c *Change) appendTimeline(actor model.Actor, note string, now time.Time) {
	entry := model.TimelineEntry{
		VerificationID: c.Next.ID,
		Stage:          string(c.Next.Stage),
		Status:         string(c.Next.Status),
		Actor:          actor,
		Note:           note,
		CreatedAt:      now,
	}
	c.NewTimeline = append(c.NewTimeline, entry)
	c.Next.Timeline = append(c.Next.Timeline, entry)
}

func (c *Change) emit(t notification.EventType, details map[string]any, now time.Time) {
	c.Events = append(c.Events, notification.NewEvent(t, &c.Next, details, now))
}

// begin copies v so that appending to the returned record never aliases the caller's slices.
func begin(v *model.Verification, now time.Time) Change {
	next := *v
	next.Evidence = append([]model.Evidence(nil), v.Evidence...)
	next.Timeline = append([]model.TimelineEntry(nil), v.Timeline...)
	next.UpdatedAt = now
	return Change{Next: next}
}

// LockedForEdits reports whether a record no longer accepts evidence, stage or analysis
// changes: it was rejected, is under dispute, or its payout has completed.
func LockedForEdits(v *model.Verification) bool {
	return v.Status == model.StatusRejected ||
		v.Status == model.StatusDisputed ||
		v.Payment.Status == model.PaymentCompleted
}

func lockedReason(v *model.Verification) string {
	if v.Payment.Status == model.PaymentCompleted {
		return "payment for this verification has already been released"
	}
	return fmt.Sprintf("verification is %s", v.Status)
}

// New builds the initial record for a referral entering completion tracking.
func New(ref model.Referral, payment model.PaymentRecord, now time.Time) Change {
	v := model.Verification{
		ID:         uuid.New(),
		ReferralID: ref.ID,
		SeekerID:   ref.SeekerID,
		ReferrerID: ref.ReferrerID,
		Status:     model.StatusPending,
		Stage:      model.StageReferralSent,
		Payment:    payment,
		CreatedAt:  now,
	}
	c := begin(&v, now)
	c.appendTimeline(model.ActorSystem, "verification created", now)
	c.emit(notification.EventVerificationCreated, map[string]any{
		"company": ref.Company,
		"role":    ref.Role,
	}, now)
	return c
}

// SubmitEvidence appends ev. When the evidence count reaches threshold the change asks for
// an analysis; a threshold of zero or less disables that.
func SubmitEvidence(v *model.Verification, ev model.Evidence, threshold int, now time.Time) (Change, error) {
	if LockedForEdits(v) {
		return Change{}, Errorf(KindImmutable, "%s", lockedReason(v))
	}
	if !ev.Type.Valid() {
		return Change{}, Errorf(KindInvalidInput, "unknown evidence type %q", ev.Type)
	}
	if !ev.UploadedBy.Valid() {
		return Change{}, Errorf(KindInvalidInput, "uploaded_by must be seeker or referrer")
	}
	if strings.TrimSpace(ev.URL) == "" {
		return Change{}, Errorf(KindInvalidInput, "evidence url is required")
	}

	c := begin(v, now)
	ev.ID = uuid.New()
	ev.VerificationID = v.ID
	ev.Verified = false
	if ev.UploadedAt.IsZero() {
		ev.UploadedAt = now
	}
	c.NewEvidence = append(c.NewEvidence, ev)
	c.Next.Evidence = append(c.Next.Evidence, ev)
	c.appendTimeline(model.ActorUser, fmt.Sprintf("%s evidence uploaded by %s", ev.Type, ev.UploadedBy), now)
	c.emit(notification.EventEvidenceSubmitted, map[string]any{
		"evidence_type":  ev.Type,
		"uploaded_by":    ev.UploadedBy,
		"evidence_count": len(c.Next.Evidence),
	}, now)

	c.Analyze = threshold > 0 && len(c.Next.Evidence) >= threshold
	return c, nil
}

// UpdateStage moves the referral forward. Stages only ever increase.
func UpdateStage(v *model.Verification, stage model.VerificationStage, note string, now time.Time) (Change, error) {
	if !stage.Valid() {
		return Change{}, Errorf(KindInvalidInput, "unknown stage %q", stage)
	}
	if LockedForEdits(v) {
		return Change{}, Errorf(KindImmutable, "%s", lockedReason(v))
	}
	if stage.Rank() <= v.Stage.Rank() {
		return Change{}, Errorf(KindInvalidTransition, "cannot move stage from %s to %s", v.Stage, stage)
	}

	c := begin(v, now)
	from := c.Next.Stage
	c.Next.Stage = stage
	if note == "" {
		note = fmt.Sprintf("stage moved from %s to %s", from, stage)
	}
	c.appendTimeline(model.ActorUser, note, now)
	c.emit(notification.EventStageUpdated, map[string]any{"from": from, "to": stage}, now)
	return c, nil
}

// ApplyAnalysis stores a reasoning result and its fraud assessment and applies the decision
// policy. Approval can be automatic; rejection never is, a human must reject.
func ApplyAnalysis(v *model.Verification, analysis model.Analysis, assessment model.FraudAssessment, now time.Time) (Change, error) {
	if LockedForEdits(v) {
		return Change{}, Errorf(KindImmutable, "%s", lockedReason(v))
	}

	c := begin(v, now)
	if analysis.AnalyzedAt == nil {
		analysis.AnalyzedAt = &now
	}
	c.Next.Analysis = analysis
	c.Next.Fraud = assessment

	details := map[string]any{
		"confidence_score": analysis.ConfidenceScore,
		"fraud_score":      assessment.Score,
		"risk_level":       assessment.RiskLevel,
		"degraded":         analysis.Degraded,
	}

	switch {
	case v.Status == model.StatusVerified:
		c.appendTimeline(model.ActorAI, fmt.Sprintf("re-analysed: confidence %d, fraud risk %s", analysis.ConfidenceScore, assessment.RiskLevel), now)
		return c, nil

	case canAutoVerify(&c.Next):
		c.Next.Status = model.StatusVerified
		c.Next.AutoVerified = true
		c.Next.ManualReviewRequired = false
		c.appendTimeline(model.ActorAI, fmt.Sprintf("auto-verified: confidence %d, fraud risk %s", analysis.ConfidenceScore, assessment.RiskLevel), now)
		c.emit(notification.EventVerificationComplete, details, now)
		return c, nil
	}

	c.Next.Status = model.StatusUnderReview
	c.Next.ManualReviewRequired = true
	c.appendTimeline(model.ActorAI, reviewReason(&c.Next), now)
	details["recommendations"] = []string(analysis.Recommendations)
	c.emit(notification.EventActionRequired, details, now)
	return c, nil
}

func canAutoVerify(v *model.Verification) bool {
	return !v.Analysis.Degraded &&
		v.Analysis.ConfidenceScore >= AutoVerifyMinConfidence &&
		v.Fraud.RiskLevel == model.RiskLow &&
		v.Stage.AtLeast(model.StageJoined)
}

func reviewReason(v *model.Verification) string {
	switch {
	case v.Analysis.Degraded:
		return "manual review required: automated analysis unavailable"
	case v.Fraud.RiskLevel == model.RiskHigh:
		return fmt.Sprintf("manual review required: high fraud risk (score %d)", v.Fraud.Score)
	case v.Analysis.ConfidenceScore < LowConfidenceThreshold:
		return fmt.Sprintf("manual review required: low confidence (%d)", v.Analysis.ConfidenceScore)
	case !v.Stage.AtLeast(model.StageJoined):
		return fmt.Sprintf("manual review required: stage %s has not reached joined", v.Stage)
	}
	return fmt.Sprintf("manual review required: confidence %d, fraud risk %s", v.Analysis.ConfidenceScore, v.Fraud.RiskLevel)
}

// CheckVerifyAndPay validates the precondition of the verify-and-pay request.
func CheckVerifyAndPay(v *model.Verification) error {
	if v.Status == model.StatusVerified {
		return Errorf(KindAlreadyVerified, "verification is already verified")
	}
	if LockedForEdits(v) {
		return Errorf(KindImmutable, "%s", lockedReason(v))
	}
	return nil
}

// ManualReview records a human decision. Only a reviewer can reject.
func ManualReview(v *model.Verification, approve bool, notes string, now time.Time) (Change, error) {
	if v.Status != model.StatusPending && v.Status != model.StatusUnderReview {
		return Change{}, Errorf(KindInvalidTransition, "cannot review a verification that is %s", v.Status)
	}

	c := begin(v, now)
	c.Next.ManualReviewRequired = false
	c.Next.AutoVerified = false
	if notes != "" {
		c.Next.AdminNotes = notes
	}
	if approve {
		c.Next.Status = model.StatusVerified
		c.appendTimeline(model.ActorAdmin, noteOr(notes, "approved by reviewer"), now)
		c.emit(notification.EventVerificationComplete, map[string]any{"reviewed": true}, now)
	} else {
		c.Next.Status = model.StatusRejected
		c.appendTimeline(model.ActorAdmin, noteOr(notes, "rejected by reviewer"), now)
		c.emit(notification.EventVerificationRejected, map[string]any{"notes": notes}, now)
	}
	return c, nil
}

// RaiseDispute is the only transition out of verified or rejected.
func RaiseDispute(v *model.Verification, by model.Party, reason string, now time.Time) (Change, error) {
	if !by.Valid() {
		return Change{}, Errorf(KindInvalidInput, "raised_by must be seeker or referrer")
	}
	if strings.TrimSpace(reason) == "" {
		return Change{}, Errorf(KindInvalidInput, "dispute reason is required")
	}
	if v.Status != model.StatusVerified && v.Status != model.StatusRejected {
		return Change{}, Errorf(KindInvalidTransition, "disputes can only be raised on verified or rejected verifications, not %s", v.Status)
	}

	c := begin(v, now)
	c.Next.Status = model.StatusDisputed
	c.Next.Dispute = model.Dispute{
		Raised:   true,
		RaisedBy: by,
		Reason:   reason,
		RaisedAt: &now,
	}
	c.appendTimeline(model.ActorUser, fmt.Sprintf("dispute raised by %s: %s", by, reason), now)
	c.emit(notification.EventDisputeRaised, map[string]any{"raised_by": by, "reason": reason}, now)
	return c, nil
}

// MarkEvidenceVerified flips the reviewer flag on one piece of evidence.
func MarkEvidenceVerified(v *model.Verification, evidenceID uuid.UUID, now time.Time) (Change, error) {
	c := begin(v, now)
	for i := range c.Next.Evidence {
		if c.Next.Evidence[i].ID != evidenceID {
			continue
		}
		if !c.Next.Evidence[i].Verified {
			c.Next.Evidence[i].Verified = true
			c.VerifiedEvidence = append(c.VerifiedEvidence, evidenceID)
			c.appendTimeline(model.ActorAdmin, fmt.Sprintf("%s evidence confirmed by reviewer", c.Next.Evidence[i].Type), now)
		}
		return c, nil
	}
	return Change{}, Errorf(KindNotFound, "evidence %s not found", evidenceID)
}

func noteOr(note, fallback string) string {
	if strings.TrimSpace(note) == "" {
		return fallback
	}
	return note
}
