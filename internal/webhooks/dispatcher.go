// Package webhooks posts signed JSON notifications about domain status
// changes to statically configured endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>".
const SignatureHeader = "X-Senderauth-Signature"

// Three attempts with backoff: immediately, after 1s, then after 5s more.
var defaultDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher fans events out to endpoints in the background. Deliveries
// outlive the request that caused them; Close waits for them to finish.
type Dispatcher struct {
	endpoints  []Endpoint
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	now        func() time.Time
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher for endpoints.
func NewDispatcher(endpoints []Endpoint, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     defaultDelays,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt; its length is the
// attempt count. Used by tests.
func (d *Dispatcher) SetRetryDelays(delays []time.Duration) {
	d.delays = delays
}

// Dispatch queues eventType for every endpoint subscribed to it.
func (d *Dispatcher) Dispatch(eventType string, payload map[string]string) {
	event := Event{
		ID:        ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Type:      eventType,
		Timestamp: d.now(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	for _, ep := range d.endpoints {
		if !ep.wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func(ep Endpoint) {
			defer d.wg.Done()
			d.deliver(ep, event, body)
		}(ep)
	}
}

// Close waits for in-flight deliveries or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ep Endpoint, event Event, body []byte) {
	signature := Sign(body, ep.Secret)

	for attempt, delay := range d.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		ok, errMsg := d.post(ep.URL, event.ID, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(ok)
		}
		if ok {
			return
		}
		d.logger.Warn("webhook: delivery failed",
			zap.String("url", ep.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
}

func (d *Dispatcher) post(url, id string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Senderauth-Event-ID", id)
	req.Header.Set(SignatureHeader, signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// Sign computes the HMAC-SHA256 signature sent in SignatureHeader.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
