package automation

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	webhookTimeout  = 7 * time.Second
	maxResponseBody = 500
)

// DispatchResult is the outcome of one webhook POST.
type DispatchResult struct {
	Status       string
	ResponseCode *int
	ResponseBody string
}

// Dispatcher POSTs JSON payloads to automation webhooks. A shared rate
// limiter keeps a noisy anomaly batch from hammering downstream systems.
type Dispatcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewDispatcher builds a dispatcher allowing perSecond dispatches with a
// small burst. perSecond <= 0 disables limiting.
func NewDispatcher(perSecond float64) *Dispatcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: webhookTimeout},
		limiter: rate.NewLimiter(limit, 2),
	}
}

// Dispatch POSTs the payload and classifies the outcome. Transport errors
// and non-2xx responses both come back as "failed" with the error or body
// captured; only the rate limiter or context can make Dispatch return an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, webhookURL string, payload []byte) (DispatchResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return DispatchResult{}, eris.Wrap(err, "automation: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return DispatchResult{Status: "failed", ResponseBody: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return DispatchResult{Status: "failed", ResponseBody: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	code := resp.StatusCode

	status := "failed"
	if code >= 200 && code < 300 {
		status = "success"
	}
	return DispatchResult{Status: status, ResponseCode: &code, ResponseBody: string(body)}, nil
}
