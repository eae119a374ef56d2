package crc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// MissingPullSecretMarker starts the daemon's error message when a start
// needs a pull secret that has not been stored yet.
const MissingPullSecretMarker = "Failed to ask for pull secret"

// ErrDaemonUnavailable is returned when the daemon socket cannot be reached.
var ErrDaemonUnavailable = errors.New("crc daemon is not reachable")

// ErrEmptyResponse is returned by Start when the daemon answers 2xx without a body.
var ErrEmptyResponse = errors.New("crc daemon returned an empty response")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crc daemon %s returned HTTP %d", e.Path, e.StatusCode)
	}
	return e.Message
}

// IsMissingPullSecret reports whether err is the daemon asking for a pull secret.
func IsMissingPullSecret(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strings.HasPrefix(apiErr.Message, MissingPullSecretMarker)
	}
	return strings.HasPrefix(err.Error(), MissingPullSecretMarker)
}

// IsConnectionReset reports whether err is what the daemon produces after a
// successful start: the connection is reset, closed before or during the
// response, or the response is an empty 2xx. No other transport error matches.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrEmptyResponse)
}
