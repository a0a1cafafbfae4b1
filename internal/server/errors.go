package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	reconciliationdomain "github.com/smallbiznis/muanapay/internal/reconciliation/domain"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger with the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	// Checked first: activation errors wrap plan and subscription sentinels.
	case errors.Is(err, reconciliationdomain.ErrActivationFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "activation_failed",
			Message: "payment verified but subscription activation failed",
		}
	case errors.Is(err, reconciliationdomain.ErrPlanMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "plan_mismatch",
			Message: "this payment was verified for a different plan",
		}
	case errors.Is(err, subscriptiondomain.ErrInsufficientPayment):
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_payment",
			Message: "payment amount does not cover the plan price",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, plandomain.ErrDuplicateCode),
		errors.Is(err, subscriptiondomain.ErrPlanInactive):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, reconciliationdomain.ErrStoreUnavailable),
		errors.Is(err, reconciliationdomain.ErrClaimContention),
		errors.Is(err, subscriptiondomain.ErrActivationBusy):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable, retry later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, reconciliationdomain.ErrInvalidRequest),
		errors.Is(err, reconciliationdomain.ErrInvalidUser),
		errors.Is(err, reconciliationdomain.ErrInvalidPhone),
		errors.Is(err, reconciliationdomain.ErrInvalidAmount):
		return true
	case errors.Is(err, paymentdomain.ErrInvalidNotification),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidPageToken):
		return true
	case errors.Is(err, plandomain.ErrInvalidName),
		errors.Is(err, plandomain.ErrInvalidBillingCycle),
		errors.Is(err, plandomain.ErrInvalidPrice),
		errors.Is(err, plandomain.ErrInvalidID):
		return true
	case errors.Is(err, subscriptiondomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotificationNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrNoActiveSubscription),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, reconciliationdomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, reconciliationdomain.ErrInvalidPhone):
		return "invalid_sender_number"
	case errors.Is(err, reconciliationdomain.ErrInvalidAmount):
		return "invalid_amount_cents"
	case errors.Is(err, reconciliationdomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrInvalidUser):
		return "invalid_user_id"
	case errors.Is(err, subscriptiondomain.ErrInvalidPlan):
		return "invalid_plan_id"
	case errors.Is(err, paymentdomain.ErrInvalidStatus):
		return "invalid_status"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_sender_number":
		return "sender_number must contain at least 8 digits"
	default:
		return "invalid value"
	}
}
