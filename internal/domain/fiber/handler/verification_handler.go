package handler

import (
	"time"

	"github.com/fadilmartias/referral-escrow/internal/dto"
	"github.com/fadilmartias/referral-escrow/internal/middleware"
	"github.com/fadilmartias/referral-escrow/internal/model"
	"github.com/fadilmartias/referral-escrow/internal/usecase"
	"github.com/fadilmartias/referral-escrow/internal/util"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type VerificationHandler struct {
	uc          *usecase.VerificationUsecase
	adminAPIKey string
}

func NewVerificationHandler(uc *usecase.VerificationUsecase, adminAPIKey string) *VerificationHandler {
	return &VerificationHandler{uc: uc, adminAPIKey: adminAPIKey}
}

func (h *VerificationHandler) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/v1")

	v := api.Group("/verifications")
	v.Post("/", h.Create)
	v.Get("/:id", h.Get)
	v.Post("/:id/evidence", h.SubmitEvidence)
	v.Put("/:id/stage", h.UpdateStage)
	v.Post("/:id/analyze", middleware.RateLimiter(5, time.Minute), h.Analyze)
	v.Post("/:id/verify-and-pay", middleware.RateLimiter(5, time.Minute), h.VerifyAndPay)
	v.Post("/:id/settle", middleware.RateLimiter(5, time.Minute), h.Settle)
	v.Post("/:id/dispute", h.RaiseDispute)

	api.Get("/users/:userId/verifications", h.ListForUser)

	admin := api.Group("/admin", middleware.AdminAuth(h.adminAPIKey))
	admin.Get("/verifications/stats", h.Stats)
	admin.Post("/verifications/:id/review", h.ManualReview)
	admin.Put("/verifications/:id/evidence/:evidenceId/verify", h.MarkEvidenceVerified)
}

func (h *VerificationHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body", err)
	}
	if errs := req.Validate(); len(errs) > 0 {
		return h.formError(c, errs)
	}

	v, err := h.uc.Create(c.UserContext(), req.ReferralID, req.TotalAmount)
	if err != nil {
		return h.fail(c, "failed to create verification", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusCreated,
		Message: "Success create verification",
		Data:    v,
	})
}

func (h *VerificationHandler) Get(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	v, err := h.uc.Get(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "failed to get verification", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success get verification",
		Data:    v,
	})
}

func (h *VerificationHandler) SubmitEvidence(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	var req dto.SubmitEvidenceRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body", err)
	}
	if errs := req.Validate(); len(errs) > 0 {
		return h.formError(c, errs)
	}

	v, err := h.uc.SubmitEvidence(c.UserContext(), id, req.ToModel())
	if err != nil {
		return h.fail(c, "failed to submit evidence", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusCreated,
		Message: "Success submit evidence",
		Data:    v,
	})
}

func (h *VerificationHandler) UpdateStage(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	var req dto.UpdateStageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body", err)
	}

	v, err := h.uc.UpdateStage(c.UserContext(), id, req.Stage, req.Note)
	if err != nil {
		return h.fail(c, "failed to update stage", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success update stage",
		Data:    v,
	})
}

func (h *VerificationHandler) Analyze(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	v, err := h.uc.RunAnalysis(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "failed to analyze verification", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success analyze verification",
		Data:    v,
	})
}

func (h *VerificationHandler) VerifyAndPay(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	v, err := h.uc.VerifyAndPay(c.UserContext(), id)
	if err != nil {
		return h.failWithRecord(c, "failed to verify and pay", v, err)
	}
	msg := "Referral verified and payment released"
	if v.Status != model.StatusVerified {
		msg = "Referral requires manual review"
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: msg,
		Data:    v,
	})
}

func (h *VerificationHandler) Settle(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	v, err := h.uc.Settle(c.UserContext(), id)
	if err != nil {
		return h.failWithRecord(c, "failed to settle payment", v, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success settle payment",
		Data:    v,
	})
}

func (h *VerificationHandler) RaiseDispute(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	var req dto.RaiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body", err)
	}
	if errs := req.Validate(); len(errs) > 0 {
		return h.formError(c, errs)
	}

	v, err := h.uc.RaiseDispute(c.UserContext(), id, req.RaisedBy, req.Reason)
	if err != nil {
		return h.fail(c, "failed to raise dispute", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success raise dispute",
		Data:    v,
	})
}

func (h *VerificationHandler) ListForUser(c *fiber.Ctx) error {
	userID, err := h.uuidParam(c, "userId")
	if err != nil {
		return h.fail(c, "invalid user id", err)
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.uc.ListForUser(c.UserContext(), userID, page, pageSize)
	if err != nil {
		return h.fail(c, "failed to list verifications", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message:    "Success list verifications",
		Data:       items,
		Pagination: util.NewPagination(page, pageSize, total, len(items)),
	})
}

func (h *VerificationHandler) ManualReview(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	var req dto.ManualReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request body", err)
	}
	if req.Approve == nil {
		return h.formError(c, map[string]string{"approve": "approve is required"})
	}

	v, err := h.uc.ManualReview(c.UserContext(), id, *req.Approve, req.Notes)
	if err != nil {
		return h.fail(c, "failed to record review", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success record review",
		Data:    v,
	})
}

func (h *VerificationHandler) MarkEvidenceVerified(c *fiber.Ctx) error {
	id, err := h.uuidParam(c, "id")
	if err != nil {
		return h.fail(c, "invalid verification id", err)
	}
	evidenceID, err := h.uuidParam(c, "evidenceId")
	if err != nil {
		return h.fail(c, "invalid evidence id", err)
	}

	v, err := h.uc.MarkEvidenceVerified(c.UserContext(), id, evidenceID)
	if err != nil {
		return h.fail(c, "failed to verify evidence", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success verify evidence",
		Data:    v,
	})
}

func (h *VerificationHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.uc.Stats(c.UserContext())
	if err != nil {
		return h.fail(c, "failed to get stats", err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success get stats",
		Data:    stats,
	})
}

func (h *VerificationHandler) uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, verification.Errorf(verification.KindInvalidInput, "%s must be a UUID", name)
	}
	return id, nil
}

func (h *VerificationHandler) fail(c *fiber.Ctx, message string, err error) error {
	return util.ErrorResponse(c, util.ErrorResponseFormat{Message: message}, err)
}

// failWithRecord attaches the record when the operation got far enough to change it, as with a
// failed payout.
func (h *VerificationHandler) failWithRecord(c *fiber.Ctx, message string, v *model.Verification, err error) error {
	format := util.ErrorResponseFormat{Message: message}
	if v != nil {
		format.Details = v
	}
	return util.ErrorResponse(c, format, err)
}

func (h *VerificationHandler) badRequest(c *fiber.Ctx, message string, err error) error {
	return util.ErrorResponse(c, util.ErrorResponseFormat{
		Code:    fiber.StatusBadRequest,
		Message: message,
	}, err)
}

func (h *VerificationHandler) formError(c *fiber.Ctx, errs map[string]string) error {
	return util.ErrorResponse(c, util.ErrorResponseFormat{
		Code:    fiber.StatusBadRequest,
		Message: "validation failed",
		Details: errs,
	}, util.NewFormError("validation failed", errs))
}
