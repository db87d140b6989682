package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
	// Asset is set when the failed operation still produced a view, e.g. a
	// ledger rejection leaves the asset FAILED.
	Asset any `json:"asset,omitempty"`
}

// RequestError is a failure caught at the transport edge (a malformed body
// or path parameter) before any service ran.
type RequestError struct {
	Status int
	Code   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *RequestError) Unwrap() error { return e.Err }

func BadRequest(err error) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Code: string(domainagg.CodeValidation), Err: err}
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// StatusFor maps an aggregate error code to an HTTP status.
func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeValidation:
		return http.StatusBadRequest
	case domainagg.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domainagg.CodeForbidden:
		return http.StatusForbidden
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeConflict:
		return http.StatusConflict
	case domainagg.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case domainagg.CodeRateLimited:
		return http.StatusTooManyRequests
	case domainagg.CodeLedgerRejected:
		return http.StatusUnprocessableEntity
	case domainagg.CodeLedgerTimeout:
		return http.StatusAccepted
	case domainagg.CodeRepositoryUnavailable, domainagg.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError writes err using the aggregate error taxonomy. view,
// when non-nil, travels with the error body.
func RespondServiceError(c *gin.Context, err error, view any) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		status := reqErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorEnvelope{Error: APIError{Message: reqErr.Error(), Code: reqErr.Code}, Asset: view})
		return
	}

	code := domainagg.CodeOf(err)
	if code == "" {
		code = domainagg.CodeInternal
	}
	status := StatusFor(code)

	var aggErr *domainagg.Error
	msg := "internal error"
	if errors.As(err, &aggErr) && aggErr.Message != "" {
		msg = aggErr.Message
	}
	switch code {
	case domainagg.CodeRateLimited:
		var detail *domainagg.RateLimitDetail
		if errors.As(err, &detail) {
			SetRateLimitHeaders(c, detail.Limit, detail.Remaining, detail.ResetSeconds)
			c.Header("Retry-After", strconv.Itoa(detail.ResetSeconds))
		}
	case domainagg.CodeLedgerRejected:
		var rej *domainagg.LedgerRejection
		if errors.As(err, &rej) && rej.Reason != "" {
			msg = "ledger rejected the operation: " + rej.Reason
		}
	case domainagg.CodeRepositoryUnavailable, domainagg.CodeRetryable:
		msg = "service temporarily unavailable, retry later"
	case domainagg.CodeInternal, domainagg.CodeInvariantViolation:
		msg = "internal error"
	}

	if code == domainagg.CodeLedgerTimeout {
		c.JSON(status, gin.H{
			"asset":   view,
			"pending": true,
			"message": "ledger outcome not yet known; poll the asset status",
		})
		return
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: string(code)}, Asset: view})
}

func SetRateLimitHeaders(c *gin.Context, limit, remaining, resetSeconds int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
}
