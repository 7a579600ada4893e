package s3store

import (
	"errors"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
)

var now = time.Now

// classify wraps an SDK error into a *remote.Error. The S3 error code takes
// precedence over the HTTP status.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}

	kind := remote.KindOf(err)
	var retryAfter time.Duration

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.ResponseError != nil && respErr.Response != nil && respErr.Response.Response != nil {
		kind = remote.KindForStatus(respErr.HTTPStatusCode())
		retryAfter = remote.ParseRetryAfter(respErr.Response.Header.Get("Retry-After"), now())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if k, ok := remote.KindForCode(apiErr.ErrorCode()); ok {
			kind = k
		}
	}

	e := remote.NewError(kind, op, err)
	if kind == models.KindRateLimited {
		e.RetryAfter = retryAfter
	}
	return e
}
