package bluesky

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError is a structured XRPC error response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d) %s: %s", e.Status, e.Code, e.Message)
}

// IsExpiredToken reports whether err is a rejected write-path token.
func IsExpiredToken(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "ExpiredToken"
}

// IsTerminalAccount reports whether err marks the account as gone for good:
// deactivated, taken down, or no longer resolvable.
func IsTerminalAccount(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "AccountDeactivated", "AccountTakedown":
		return true
	case "InvalidRequest":
		return strings.Contains(apiErr.Message, "Profile not found")
	}
	return false
}

// IsTransient reports whether err is worth retrying with backoff: server
// errors, rate limits, timeouts, connection resets, and DNS failures.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
