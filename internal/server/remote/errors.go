package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
)

// Error is a classified provider failure.
type Error struct {
	Kind models.ErrorKind
	// Op is the client operation that failed (e.g. "upload", "quota").
	Op  string
	Err error

	// RetryAfter is the provider's requested back-off, if any.
	RetryAfter time.Duration
	// Required and Available are set for KindQuotaExceeded.
	Required  int64
	Available int64
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote.%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("remote.%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind models.ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err. Context deadlines count as
// RemoteUnavailable, cancellations as Cancelled, and anything unknown as
// Unclassified.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.KindNone
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindRemoteUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return models.KindCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.KindRemoteUnavailable
	}
	return models.KindUnclassified
}

// RetryAfterOf returns the provider-requested back-off carried by err.
func RetryAfterOf(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(code int) models.ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return models.KindAuth
	case code == http.StatusTooManyRequests:
		return models.KindRateLimited
	case code == http.StatusRequestEntityTooLarge, code == http.StatusInsufficientStorage:
		return models.KindQuotaExceeded
	case code == http.StatusRequestTimeout, code >= 500:
		return models.KindRemoteUnavailable
	case code >= 400:
		return models.KindRemoteRejected
	}
	return models.KindUnclassified
}

// KindForCode maps S3-style error codes, shared by AWS and MinIO.
func KindForCode(code string) (models.ErrorKind, bool) {
	switch code {
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded", "TooManyRequestsException":
		return models.KindRateLimited, true
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "AccountProblem":
		return models.KindAuth, true
	case "EntityTooLarge", "QuotaExceeded", "XMinioStorageFull", "XMinioAdminBucketQuotaExceeded":
		return models.KindQuotaExceeded, true
	case "NoSuchKey", "NoSuchBucket", "NotFound", "NoSuchUpload", "InvalidBucketName", "InvalidArgument", "InvalidRequest":
		return models.KindRemoteRejected, true
	case "InternalError", "ServiceUnavailable", "RequestTimeout", "XMinioServerNotInitialized":
		return models.KindRemoteUnavailable, true
	}
	return "", false
}

// ParseRetryAfter reads a Retry-After header value given either as
// delta-seconds or as an HTTP date. It returns 0 when absent or malformed.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
