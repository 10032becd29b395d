package notification

import (
	"fmt"

	"github.com/fadilmartias/referral-escrow/internal/model"
)

// Message is the human-readable text for one recipient of an event.
type Message struct {
	Recipient model.Party `json:"recipient"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
}

// Compose turns an event into messages for the parties that should hear about it.
func Compose(e Event) []Message {
	stage := humanStage(e.Stage)
	switch e.Type {
	case EventVerificationCreated:
		return both(
			"Referral verification started",
			fmt.Sprintf("We are now tracking your referral at the %s stage. Upload proof as the process moves forward.", stage),
		)
	case EventEvidenceSubmitted:
		return []Message{
			{Recipient: other(e.Details["uploaded_by"]), Subject: "New evidence submitted",
				Body: fmt.Sprintf("The other party uploaded %v as proof for the referral (currently %s).", e.Details["evidence_type"], stage)},
		}
	case EventStageUpdated:
		return both(
			"Referral progress updated",
			fmt.Sprintf("The referral moved to the %s stage.", stage),
		)
	case EventVerificationComplete:
		return both(
			"Referral verified",
			"Your referral has been verified. Payment to the referrer will be released from escrow.",
		)
	case EventActionRequired:
		return both(
			"Referral under review",
			"Your referral needs a manual review before payment can be released. Additional evidence such as an offer or joining letter speeds this up.",
		)
	case EventVerificationRejected:
		return both(
			"Referral verification rejected",
			"A reviewer could not confirm this referral. You can raise a dispute if you believe this is wrong.",
		)
	case EventDisputeRaised:
		return both(
			"Dispute raised",
			fmt.Sprintf("A dispute was raised by the %v. Our team will review it.", e.Details["raised_by"]),
		)
	case EventPaymentProcessed:
		return []Message{
			{Recipient: model.PartyReferrer, Subject: "Payment processed",
				Body: fmt.Sprintf("You have received %s for your successful referral.", cents(e.Details["referrer_amount"]))},
			{Recipient: model.PartySeeker, Subject: "Referral completed",
				Body: "Your referral has been verified and payment has been released to your referrer."},
		}
	case EventPaymentFailed:
		return []Message{
			{Recipient: model.PartyReferrer, Subject: "Payment delayed",
				Body: "We could not release your payment. It will be retried; no action is needed from you."},
		}
	}
	return both("Referral verification update", "Your referral verification status has been updated. Please check your dashboard for details.")
}

func both(subject, body string) []Message {
	return []Message{
		{Recipient: model.PartySeeker, Subject: subject, Body: body},
		{Recipient: model.PartyReferrer, Subject: subject, Body: body},
	}
}

func other(uploader any) model.Party {
	if p, ok := uploader.(model.Party); ok && p == model.PartySeeker {
		return model.PartyReferrer
	}
	if s, ok := uploader.(string); ok && model.Party(s) == model.PartySeeker {
		return model.PartyReferrer
	}
	return model.PartySeeker
}

func humanStage(s model.VerificationStage) string {
	switch s {
	case model.StageReferralSent:
		return "referral sent"
	case model.StageInterviewScheduled:
		return "interview scheduled"
	case model.StageOfferReceived:
		return "offer received"
	case model.StageJoined:
		return "joined"
	case model.StageCompleted:
		return "completed"
	}
	return string(s)
}

func cents(v any) string {
	var c int64
	switch n := v.(type) {
	case int64:
		c = n
	case int:
		c = int64(n)
	case float64:
		c = int64(n)
	default:
		return "your reward"
	}
	return model.FormatCents(c)
}
