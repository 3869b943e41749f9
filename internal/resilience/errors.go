package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// transientPgClasses are SQLSTATE classes and codes worth retrying:
// connection exceptions, insufficient resources, operator intervention
// (server starting or shutting down) and serialization failures.
var transientPgClasses = []string{"08", "53", "57P", "40001", "40P01"}

// IsTransient reports whether err (or any error it wraps) is worth
// retrying: an explicit TransientError, a network timeout or refused
// connection, a retryable Postgres SQLSTATE, or a busy SQLite database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, prefix := range transientPgClasses {
			if strings.HasPrefix(pgErr.Code, prefix) {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset by peer",
		"database is locked",
		"sqlite_busy",
		"i/o timeout",
		"no such host",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
