package resideo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/joshp123/gohome-resideo/internal/rate"
)

// ErrUnauthorized matches any 401 from the vendor API.
var ErrUnauthorized = errors.New("resideo api unauthorized")

// APIError is a non-2xx response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("resideo %s: %d %s: %s", e.Op, e.Status, e.Category(), body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Category is the human-readable class used in logs.
func (e *APIError) Category() string {
	switch {
	case e.Status == http.StatusBadRequest:
		return "Bad Request"
	case e.Status == http.StatusUnauthorized:
		return "Unauthorized"
	case e.Status == http.StatusForbidden:
		return "Forbidden"
	case e.Status == http.StatusNotFound:
		return "Not Found"
	case e.Status == http.StatusMethodNotAllowed:
		return "Method Not Allowed"
	case e.Status == http.StatusNotAcceptable:
		return "Not Acceptable"
	case e.Status == http.StatusUnsupportedMediaType:
		return "Unsupported Media Type"
	case e.Status == http.StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case e.Status == http.StatusTooManyRequests:
		return "Too Many Requests"
	case e.Status >= 500:
		return "Internal Server Error"
	default:
		return "Unexpected Status"
	}
}

// Category classifies any error returned by the client.
func Category(err error) string {
	var apiErr *APIError
	var rateErr rate.RateLimitError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Category()
	case errors.As(err, &rateErr):
		return "Rate Limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "Network"
		}
		return "Unknown"
	}
}

// IsRetryable reports whether another attempt may succeed: rate limiting,
// server errors and network failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	var rateErr rate.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
