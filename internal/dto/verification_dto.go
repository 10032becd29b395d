package dto

import (
	"strings"

	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/google/uuid"
)

type CreateVerificationRequest struct {
	ReferralID uuid.UUID `json:"referral_id"`
	// TotalAmount in cents. Zero falls back to the referral's reward.
	TotalAmount int64 `json:"total_amount"`
}

func (r CreateVerificationRequest) Validate() map[string]string {
	errs := map[string]string{}
	if r.ReferralID == uuid.Nil {
		errs["referral_id"] = "referral_id is required"
	}
	if r.TotalAmount < 0 {
		errs["total_amount"] = "total_amount must not be negative"
	}
	return errs
}

type SubmitEvidenceRequest struct {
	Type       model.EvidenceType `json:"type"`
	URL        string             `json:"url"`
	UploadedBy model.Party        `json:"uploaded_by"`
}

func (r SubmitEvidenceRequest) Validate() map[string]string {
	errs := map[string]string{}
	if !r.Type.Valid() {
		errs["type"] = "type must be one of screenshot, email, offer_letter, joining_letter, payslip, other"
	}
	if strings.TrimSpace(r.URL) == "" {
		errs["url"] = "url is required"
	}
	if !r.UploadedBy.Valid() {
		errs["uploaded_by"] = "uploaded_by must be seeker or referrer"
	}
	return errs
}

func (r SubmitEvidenceRequest) ToModel() model.Evidence {
	return model.Evidence{
		Type:       r.Type,
		URL:        strings.TrimSpace(r.URL),
		UploadedBy: r.UploadedBy,
	}
}

type UpdateStageRequest struct {
	Stage model.VerificationStage `json:"stage"`
	Note  string                  `json:"note"`
}

type ManualReviewRequest struct {
	Approve *bool  `json:"approve"`
	Notes   string `json:"notes"`
}

type RaiseDisputeRequest struct {
	RaisedBy model.Party `json:"raised_by"`
	Reason   string      `json:"reason"`
}

func (r RaiseDisputeRequest) Validate() map[string]string {
	errs := map[string]string{}
	if !r.RaisedBy.Valid() {
		errs["raised_by"] = "raised_by must be seeker or referrer"
	}
	if strings.TrimSpace(r.Reason) == "" {
		errs["reason"] = "reason is required"
	}
	return errs
}
