package notification

import (
	"time"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/google/uuid"
)

type EventType string

const (
	EventVerificationCreated  EventType = "verification_created"
	EventEvidenceSubmitted    EventType = "evidence_submitted"
	EventStageUpdated         EventType = "stage_updated"
	EventVerificationComplete EventType = "verification_complete"
	EventActionRequired       EventType = "action_required"
	EventVerificationRejected EventType = "verification_rejected"
	EventDisputeRaised        EventType = "dispute_raised"
	EventPaymentProcessed     EventType = "payment_processed"
	EventPaymentFailed        EventType = "payment_failed"
)

// Event is emitted on every status transition and settlement outcome. Delivery is someone
// else's job; this service only publishes.
type Event struct {
	ID             uuid.UUID                `json:"id"`
	Type           EventType                `json:"type"`
	VerificationID uuid.UUID                `json:"verification_id"`
	SeekerID       uuid.UUID                `json:"seeker_id"`
	ReferrerID     uuid.UUID                `json:"referrer_id"`
	Stage          model.VerificationStage  `json:"stage"`
	Status         model.VerificationStatus `json:"status"`
	Details        map[string]any           `json:"details,omitempty"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

func NewEvent(t EventType, v *model.Verification, details map[string]any, now time.Time) Event {
	return Event{
		ID:             uuid.New(),
		Type:           t,
		VerificationID: v.ID,
		SeekerID:       v.SeekerID,
		ReferrerID:     v.ReferrerID,
		Stage:          v.Stage,
		Status:         v.Status,
		Details:        details,
		OccurredAt:     now,
	}
}
