// Package trigger implements the device-facing ingress pipeline: shape
// validation, idempotency-bucket dedup, per-token rate limiting,
// device resolution, and alarm creation.
package trigger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/silentline/sentinel/internal/broker/clock"
	"github.com/silentline/sentinel/internal/broker/model"
	"github.com/silentline/sentinel/internal/broker/queue"
	"github.com/silentline/sentinel/internal/broker/ratelimit"
	"github.com/silentline/sentinel/internal/broker/store"
)

const (
	idempotencyBucketSeconds = 10
	reservationTTL           = 30 * time.Second
	reservationRetries       = 3
)

type kvReserver interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Request is one device trigger attempt.
type Request struct {
	DeviceToken string
	ClientAddr  string
	UserAgent   string
	Severity    model.Severity // optional; empty means "unset, use device/default"
}

// Result is the trigger operation's contract.
type Result struct {
	AlarmID   uuid.UUID
	Status    model.AlarmStatus
	Duplicate bool
}

type Pipeline struct {
	kv      kvReserver
	store   *store.Store
	queue   *queue.Queue
	limiter *ratelimit.Limiter
	clock   clock.Clock
	allowIP func(addr string) bool // nil disables IP policy
}

func New(kv kvReserver, st *store.Store, q *queue.Queue, limiter *ratelimit.Limiter, c clock.Clock, allowIP func(string) bool) *Pipeline {
	if c == nil {
		c = clock.Real{}
	}
	return &Pipeline{kv: kv, store: st, queue: q, limiter: limiter, clock: c, allowIP: allowIP}
}

var validSeverities = map[model.Severity]bool{
	model.SeverityP0: true, model.SeverityP1: true, model.SeverityP2: true, model.SeverityP3: true,
}

// Trigger runs the 8-step pipeline described in the component design
// (shape validation, idempotency lookup, reservation, IP policy, rate
// limit, device resolution, alarm creation, "created" event emission).
func (p *Pipeline) Trigger(ctx context.Context, req Request) (*Result, error) {
	// 1. Shape validation — touches neither KV nor DB.
	token := strings.TrimSpace(req.DeviceToken)
	if token == "" {
		return nil, model.NewValidation("token", "device token must not be empty")
	}
	if req.Severity != "" && !validSeverities[req.Severity] {
		return nil, model.NewValidation("severity", "unknown severity %q", req.Severity)
	}

	now := p.clock.Now()
	bucket := now.Unix() / idempotencyBucketSeconds
	key := idempotencyKey(token, bucket)

	// 2. Idempotency lookup.
	if existing, err := p.kv.Get(ctx, key); err == nil && existing != "" {
		if id, err := uuid.Parse(existing); err == nil {
			if a, err := p.store.GetAlarm(ctx, id); err == nil {
				return &Result{AlarmID: a.ID, Status: a.Status, Duplicate: true}, nil
			}
		}
		// Stale/invalid value: clear and continue as if absent.
		_ = p.kv.Delete(ctx, key)
	}

	// 3. Reservation: atomic set-if-absent, retried so a concurrent
	// winner can be observed. The reservation's value is the candidate
	// alarm id itself, so a racing request that loses can resolve
	// directly to the winner without a second round trip once the
	// winner stamps its committed id (see below).
	newID := uuid.New()
	reserved := false
	var winnerID string
	for attempt := 0; attempt < reservationRetries; attempt++ {
		ok, err := p.kv.Reserve(ctx, key, newID.String(), reservationTTL)
		if err != nil {
			continue
		}
		if ok {
			reserved = true
			break
		}
		// Someone else won; see if they've finished creating the alarm yet.
		if v, err := p.kv.Get(ctx, key); err == nil && v != "" {
			winnerID = v
			break
		}
	}
	if !reserved {
		if winnerID != "" {
			if id, err := uuid.Parse(winnerID); err == nil {
				if a, err := p.store.GetAlarm(ctx, id); err == nil {
					return &Result{AlarmID: a.ID, Status: a.Status, Duplicate: true}, nil
				}
			}
		}
		return nil, model.NewTransientFailure("could not reserve idempotency key after retries")
	}
	release := func() { _ = p.kv.Delete(ctx, key) }

	// 4. IP policy.
	if p.allowIP != nil && !p.allowIP(req.ClientAddr) {
		release()
		return nil, model.NewAuthorization("client address not permitted")
	}

	// 5. Rate limit.
	if p.limiter != nil {
		if err := p.limiter.Allow(ctx, token, now); err != nil {
			release()
			return nil, err
		}
	}

	// 6. Device resolution.
	device, err := p.store.GetDeviceByToken(ctx, token)
	if err != nil {
		release()
		return nil, model.NewNotFound("device", "")
	}
	if device.PersonID == "" || device.RoomID == "" {
		release()
		return nil, model.NewConflict("device mapping incomplete")
	}

	// 7. Create alarm.
	ackToken, err := newAckToken()
	if err != nil {
		release()
		return nil, fmt.Errorf("generate ack token: %w", err)
	}
	severity := req.Severity
	if severity == "" {
		severity = model.SeverityP0
	}
	alarm := model.Alarm{
		ID:        newID,
		Status:    model.StatusTriggered,
		Source:    device.Vendor,
		Event:     "alarm",
		CreatedAt: now,
		PersonID:  device.PersonID,
		RoomID:    device.RoomID,
		DeviceID:  device.ID,
		Severity:  severity,
		Silent:    true,
		AckToken:  ackToken,
		Meta: map[string]any{
			"received_at":      now.UTC().Format(time.RFC3339),
			"client_addr":      req.ClientAddr,
			"user_agent":       req.UserAgent,
			"idempotency_key":  key,
			"idempotency_bucket": bucket,
		},
	}
	if room, err := p.store.GetRoom(ctx, device.RoomID); err == nil {
		alarm.SiteID = room.SiteID
	}

	created, err := p.store.CreateAlarm(ctx, alarm)
	if err != nil {
		release()
		return nil, fmt.Errorf("create alarm: %w", err)
	}
	_ = p.store.TouchDeviceLastSeen(ctx, device.ID, now)

	// Re-stamp the reservation with the committed alarm id (it already
	// held newID, but this keeps the TTL fresh for the remainder of
	// the dedup window).
	_ = p.kv.Set(ctx, key, created.ID.String(), reservationTTL)

	// 8. Emit "created" event.
	if p.queue != nil {
		if _, err := p.queue.Enqueue(ctx, "created", map[string]string{"alarm_id": created.ID.String()}, 0); err != nil {
			return nil, fmt.Errorf("enqueue created event: %w", err)
		}
	}

	return &Result{AlarmID: created.ID, Status: created.Status, Duplicate: false}, nil
}

func idempotencyKey(token string, bucket int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", token, bucket)))
	return "idem:" + hex.EncodeToString(h[:16])
}

// AllowlistFunc builds the allowIP predicate New expects from a list
// of exact IPs and/or CIDR blocks. An empty list disables IP policy
// (returns nil, matching New's "nil means no restriction" contract).
func AllowlistFunc(entries []string) func(string) bool {
	if len(entries) == 0 {
		return nil
	}
	var nets []*net.IPNet
	var ips []net.IP
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			ips = append(ips, ip)
		}
	}
	return func(addr string) bool {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		candidate := net.ParseIP(host)
		if candidate == nil {
			return false
		}
		for _, ip := range ips {
			if ip.Equal(candidate) {
				return true
			}
		}
		for _, n := range nets {
			if n.Contains(candidate) {
				return true
			}
		}
		return false
	}
}

func newAckToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
