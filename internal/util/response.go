package util

import (
	"fmt"
	"runtime/debug"

	"github.com/fadilmartias/referral-escrow/internal/config"
	"github.com/fadilmartias/referral-escrow/internal/response"
	"github.com/fadilmartias/referral-escrow/internal/verification"
	"github.com/gofiber/fiber/v2"
)

type SuccessResponseFormat struct {
	Code       int
	Message    string
	Data       any
	Pagination *response.Pagination
	Meta       any
}

type OrderedSuccessResponse struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	Meta       any                  `json:"meta,omitempty"`
	Pagination *response.Pagination `json:"pagination,omitempty"`
	Data       any                  `json:"data,omitempty"`
}

type ErrorResponseFormat struct {
	Code       int
	Message    string
	DevMessage string
	Details    any
	Trace      string
}

type OrderedErrorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`
	DevMessage string `json:"dev_message,omitempty"`
	Details    any    `json:"details,omitempty"`
	Trace      string `json:"trace,omitempty"`
}

type FormError struct {
	Errors  map[string]string
	Message string
}

func (e *FormError) Error() string {
	return fmt.Sprintf("form error: %s", e.Message)
}

func NewFormError(message string, errors map[string]string) *FormError {
	return &FormError{
		Message: message,
		Errors:  errors,
	}
}

// SuccessResponse mengirim response JSON standar untuk sukses
func SuccessResponse(c *fiber.Ctx, params SuccessResponseFormat) error {
	code := params.Code
	if code == 0 {
		code = fiber.StatusOK
	}
	response := OrderedSuccessResponse{
		Success:    true,
		Message:    params.Message,
		Data:       params.Data,
		Pagination: params.Pagination,
		Meta:       params.Meta,
	}
	return c.Status(code).JSON(response)
}

// ErrorResponse mengirim response JSON standar untuk error
func ErrorResponse(c *fiber.Ctx, params ErrorResponseFormat, errs ...error) error {
	response := OrderedErrorResponse{
		Success: false,
		Message: params.Message,
	}
	if len(errs) > 0 && errs[0] != nil {
		response.Kind = string(verification.KindOf(errs[0]))
	}
	if params.Details != nil {
		response.Details = params.Details
	}
	if !config.LoadAppConfig().IsProduction() {
		if len(errs) > 0 && errs[0] != nil {
			response.DevMessage = errs[0].Error()
			if params.Details == nil {
				response.Details = errs[0]
			}
			response.Trace = string(debug.Stack())
		}

		if params.DevMessage != "" {
			response.DevMessage = params.DevMessage
		}
		if params.Trace != "" {
			response.Trace = params.Trace
		}
	}

	errorCode := params.Code
	if params.Code == 0 {
		errorCode = StatusForError(errs...)
	}
	return c.Status(errorCode).JSON(response)
}

// StatusForError maps a verification error kind to an HTTP status. Unclassified errors are 500.
func StatusForError(errs ...error) int {
	if len(errs) == 0 || errs[0] == nil {
		return fiber.StatusInternalServerError
	}
	switch verification.KindOf(errs[0]) {
	case verification.KindNotFound:
		return fiber.StatusNotFound
	case verification.KindInvalidInput:
		return fiber.StatusBadRequest
	case verification.KindInvalidTransition,
		verification.KindImmutable,
		verification.KindNotEligible,
		verification.KindAlreadyVerified,
		verification.KindAlreadyExists:
		return fiber.StatusConflict
	case verification.KindPayoutFailed:
		return fiber.StatusBadGateway
	case verification.KindExternalServiceDegraded:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// NewPagination builds the pagination block for a 1-based page.
func NewPagination(page, pageSize int, total int64, count int) *response.Pagination {
	totalPages := int64(0)
	if pageSize > 0 {
		totalPages = (total + int64(pageSize) - 1) / int64(pageSize)
	}
	from := 0
	to := 0
	if count > 0 {
		from = (page-1)*pageSize + 1
		to = from + count - 1
	}
	return &response.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: total,
		HasMore:    int64(page) < totalPages,
		From:       from,
		To:         to,
	}
}
