package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zynqcloud/capdocs/internal/metrics"
	"github.com/zynqcloud/capdocs/internal/store"
)

const maxDeliveryAttempts = 6

// Delivery is one signed event enqueued for dispatch to a webhook's URL.
type Delivery struct {
	Webhook *store.Webhook
	Event   string
	Payload map[string]any
}

// Dispatcher owns the bounded in-process queue and worker pool described in
// §5 and §9: delivery runs outside the request transaction and must not
// block the mutating request path beyond enqueueing.
type Dispatcher struct {
	store   *store.Store
	logger  zerolog.Logger
	queue   chan Delivery
	client  *http.Client
}

// NewDispatcher creates a dispatcher with the given queue depth. Start must
// be called to launch its worker pool.
func NewDispatcher(s *store.Store, logger zerolog.Logger, queueDepth int) *Dispatcher {
	return &Dispatcher{
		store:  s,
		logger: logger,
		queue:  make(chan Delivery, queueDepth),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start launches workerCount goroutines draining the queue until ctx is
// cancelled, mirroring the teacher's RunPeriodic background-goroutine shape
// generalized from a single periodic task to a worker pool. The returned
// channel closes once every worker has exited; deliveries still queued when
// ctx is cancelled are not sent.
func (d *Dispatcher) Start(ctx context.Context, workerCount int) <-chan struct{} {
	if workerCount <= 0 {
		workerCount = 1
	}
	done := make(chan struct{})
	remaining := workerCount
	workerDone := make(chan struct{}, workerCount)

	for i := 0; i < workerCount; i++ {
		go d.worker(ctx, workerDone)
	}

	go func() {
		for remaining > 0 {
			<-workerDone
			remaining--
		}
		close(done)
	}()

	return done
}

func (d *Dispatcher) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, delivery)
		}
	}
}

// Enqueue submits a delivery without blocking. If the queue is saturated the
// delivery is dropped and logged — mutating requests must still succeed
// even when webhook delivery falls behind (§5).
func (d *Dispatcher) Enqueue(delivery Delivery) {
	select {
	case d.queue <- delivery:
		metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
	default:
		d.logger.Warn().Str("webhookId", delivery.Webhook.ID).Str("event", delivery.Event).
			Msg("webhook queue saturated, dropping delivery")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	record := &store.WebhookDelivery{
		ID:        "whd_" + uuid.NewString(),
		WebhookID: delivery.Webhook.ID,
		Event:     delivery.Event,
		Payload:   string(body),
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	attempt := 0
	op := func() error {
		attempt++
		record.Attempts = attempt
		record.UpdatedAt = time.Now().UTC()

		ts := fmt.Sprintf("%d", time.Now().Unix())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.Webhook.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", Sign(delivery.Webhook.Secret, ts, string(body)))

		resp, err := d.client.Do(req)
		if err != nil {
			record.LastError = err.Error()
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			record.LastError = fmt.Sprintf("server returned %d", resp.StatusCode)
			return fmt.Errorf("retryable status %d", resp.StatusCode)
		}
		return nil
	}

	err = backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxDeliveryAttempts-1))
	if err != nil {
		record.Status = "failed"
	} else {
		record.Status = "delivered"
	}
	metrics.WebhookDeliveries.WithLabelValues(record.Status).Inc()
	if e := d.store.PutDelivery(record); e != nil {
		d.logger.Error().Err(e).Msg("failed to record webhook delivery attempt")
	}
}
