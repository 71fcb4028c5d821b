package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/rainwatch/internal/httputil"
	"github.com/lox/rainwatch/internal/metrics"
)

// defaultBackOff retries rate-limited calls for up to two minutes.
func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

// fetcher performs GET requests against one upstream with retries on
// rate limiting. Other failures are returned immediately. retryable
// defaults to httputil.Retryable.
type fetcher struct {
	source     string
	client     *http.Client
	newBackOff func() backoff.BackOff
	authorize  func(*http.Request)
	retryable  func(status int) bool
}

type fetchResult struct {
	Body   []byte
	Status int
}

func (f *fetcher) get(ctx context.Context, endpoint, url string) (fetchResult, error) {
	retryable := f.retryable
	if retryable == nil {
		retryable = httputil.Retryable
	}

	var result fetchResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if f.authorize != nil {
			f.authorize(req)
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		metrics.APILatency.WithLabelValues(f.source, endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.APICallsTotal.WithLabelValues(f.source, endpoint, "error").Inc()
			return backoff.Permanent(fmt.Errorf("%s %s: %w", f.source, endpoint, err))
		}
		defer resp.Body.Close()
		metrics.APICallsTotal.WithLabelValues(f.source, endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		result.Status = resp.StatusCode
		if retryable(resp.StatusCode) {
			return fmt.Errorf("%s %s: rate limited: %w", f.source, endpoint, httputil.NewStatusError(resp))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", f.source, endpoint, httputil.NewStatusError(resp)))
		}

		result.Body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	newBackOff := f.newBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	if err := backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return result, err
	}
	return result, nil
}
