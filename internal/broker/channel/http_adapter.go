package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// breakerSet lazily creates and caches one circuit breaker per
// (channel, target) pair, so a single noisy target cannot trip the
// breaker for every other target on the same channel.
type breakerSet struct {
	mu       sync.Mutex
	prefix   string
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(prefix string) *breakerSet {
	return &breakerSet{prefix: prefix, breakers: map[string]*gobreaker.CircuitBreaker{}}
}

func (bs *breakerSet) get(target string) *gobreaker.CircuitBreaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.breakers[target]; ok {
		return b
	}
	b := newBreaker(bs.prefix + ":" + target)
	bs.breakers[target] = b
	return b
}

// retryingPost POSTs body to endpoint with up to 3 attempts of
// exponential backoff and a capped delay, per the retry policy shared
// by every HTTP-backed channel adapter. A 4xx response is treated as
// non-retryable; 5xx and transport errors are retried.
func retryingPost(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker, endpoint string, headers map[string]string, body []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := breaker.Execute(func() (any, error) {
			return nil, doPost(ctx, client, endpoint, headers, body)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		var perm permanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
	return lastErr
}

func doPost(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewTimeoutError(err)
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("connector returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return permanentError{fmt.Errorf("connector returned %d", resp.StatusCode)}
	}
	return nil
}

// permanentError marks a failure the retry loop must not retry (a
// malformed request or a 4xx response).
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
}

// TicketAdapter POSTs a ticket-creation request to a generic HTTP
// ticketing backend. The response body is discarded, so no ticket id
// is read from it and SendResult.TicketID is always nil.
type TicketAdapter struct {
	client   *http.Client
	endpoint string
	secret   string
	breakers *breakerSet
}

func NewTicketAdapter(endpoint, secret string, timeout time.Duration) *TicketAdapter {
	return &TicketAdapter{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   secret,
		breakers: newBreakerSet("ticket"),
	}
}

func (a *TicketAdapter) Send(ctx context.Context, n Notification) (SendResult, error) {
	body, err := json.Marshal(map[string]any{
		"title": n.Title, "body": n.Body, "tags": n.Tags, "priority": n.Priority, "alarm_id": n.AlarmID,
	})
	if err != nil {
		return SendResult{}, err
	}
	headers := map[string]string{}
	if a.secret != "" {
		headers["Authorization"] = "Bearer " + a.secret
	}
	breaker := a.breakers.get(breakerKey(n.Address, a.endpoint))
	if err := retryingPost(ctx, a.client, breaker, a.endpoint, headers, body); err != nil {
		return SendResult{}, err
	}
	return SendResult{}, nil
}

func breakerKey(address, fallback string) string {
	if address != "" {
		return address
	}
	return fallback
}

// SMSAdapter posts to a generic SMS gateway.
type SMSAdapter struct {
	client   *http.Client
	endpoint string
	secret   string
	breakers *breakerSet
}

func NewSMSAdapter(endpoint, secret string, timeout time.Duration) *SMSAdapter {
	return &SMSAdapter{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   secret,
		breakers: newBreakerSet("sms"),
	}
}

func (a *SMSAdapter) Send(ctx context.Context, n Notification) (SendResult, error) {
	body, err := json.Marshal(map[string]any{
		"to": n.Address, "text": n.Title + ": " + n.Body,
	})
	if err != nil {
		return SendResult{}, err
	}
	headers := map[string]string{}
	if a.secret != "" {
		headers["Authorization"] = "Bearer " + a.secret
	}
	breaker := a.breakers.get(breakerKey(n.Address, a.endpoint))
	return SendResult{}, retryingPost(ctx, a.client, breaker, a.endpoint, headers, body)
}

// WebhookAdapter signs its request body with an HMAC-SHA256 shared
// secret header when one is configured, and uses the timeout it was
// constructed with (channels.webhook.timeout in the config).
type WebhookAdapter struct {
	client   *http.Client
	endpoint string
	secret   string
	breakers *breakerSet
}

func NewWebhookAdapter(endpoint, secret string, timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		secret:   secret,
		breakers: newBreakerSet("webhook"),
	}
}

func (a *WebhookAdapter) Send(ctx context.Context, n Notification) (SendResult, error) {
	body, err := json.Marshal(map[string]any{
		"alarm_id": n.AlarmID, "title": n.Title, "body": n.Body, "tags": n.Tags,
		"priority": n.Priority, "step": n.StepNo,
	})
	if err != nil {
		return SendResult{}, err
	}
	headers := map[string]string{}
	if a.secret != "" {
		headers["X-Signature"] = signHMAC(a.secret, body)
	}
	breaker := a.breakers.get(breakerKey(n.Address, a.endpoint))
	return SendResult{}, retryingPost(ctx, a.client, breaker, a.endpoint, headers, body)
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
