// Package probe polls a service's readiness endpoint until it answers.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrProcessExited is returned when the watched process dies before the
// endpoint ever answers. Callers use it to fail fast instead of waiting out
// the health deadline on a dead server.
var ErrProcessExited = errors.New("process exited before becoming healthy")

// DefaultInterval is the poll interval when the caller passes zero.
const DefaultInterval = 500 * time.Millisecond

const requestTimeout = 2 * time.Second

// Probe polls GET baseURL+path every interval until the endpoint answers with
// any 2xx status. The deadline comes from ctx. Connection refused, request
// timeouts, and non-2xx responses mean "not ready yet"; any other transport
// error is terminal. If exited is non-nil and reports true, the probe stops
// immediately with ErrProcessExited.
func Probe(ctx context.Context, baseURL, path string, interval time.Duration, exited func() bool) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	url := baseURL + path
	client := &http.Client{Timeout: requestTimeout}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if exited != nil && exited() {
			return ErrProcessExited
		}

		ready, err := tryOnce(ctx, client, url)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("health check deadline exceeded for %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryOnce issues one GET. It returns (true, nil) on ready, (false, nil) on a
// retryable condition, and a non-nil error on a terminal one.
func tryOnce(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("building health request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Let the caller's select report the deadline.
			return false, nil
		}
		if retryable(err) {
			return false, nil
		}
		return false, fmt.Errorf("health check failed for %s: %w", url, err)
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func retryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
