// Package providers contains the vendor-specific image generation clients.
// Each client validates its configuration at construction and implements
// image.Provider.
package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/kidcanvas/imagesvc/types"
)

// newLimiter builds a client-side rate limiter, nil when rps <= 0.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// waitLimiter blocks until the limiter admits one request. A nil limiter
// admits everything.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return types.NewError(types.ErrProviderTransport, "rate limiter wait aborted").WithCause(err)
	}
	return nil
}

// transportError wraps a network-level failure.
func transportError(providerID string, cause error) *types.Error {
	return types.NewError(types.ErrProviderTransport,
		fmt.Sprintf("%s request failed", providerID)).
		WithProvider(providerID).
		WithRetryable(true).
		WithCause(cause)
}

// protocolError wraps a malformed or rejecting vendor response. 429 and 5xx
// responses are marked retryable.
func protocolError(providerID string, status int, body []byte) *types.Error {
	retryable := status == http.StatusTooManyRequests || status >= 500
	return types.NewError(types.ErrProviderProtocol,
		fmt.Sprintf("%s error: status=%d body=%s", providerID, status, string(body))).
		WithProvider(providerID).
		WithHTTPStatus(status).
		WithRetryable(retryable)
}

// fetchAsDataURL downloads an image and re-encodes it as a data URI. Vendor
// result URLs can be short-lived or CORS-restricted, so successful tasks are
// materialized immediately.
func fetchAsDataURL(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("image download failed: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
