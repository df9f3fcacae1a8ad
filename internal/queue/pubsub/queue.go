// Package pubsub implements the distributed queue variant on Google Cloud
// Pub/Sub. The topic carries the pending sequence with at-least-once delivery;
// a durable seen-set side table shared by all producers performs the enqueue
// dedup. Ordering is approximately FIFO across concurrent producers; callers
// must not assume strict arrival order, and downstream processing must stay
// idempotent under duplicate delivery.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	pubsubv1 "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	gax "github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webharvest/internal/pipeline"
	"github.com/JakeFAU/webharvest/internal/seenset"
)

// publisherAPI and subscriberAPI cover the slice of the Pub/Sub v1 API the
// queue uses, so tests can substitute fakes.
type publisherAPI interface {
	Publish(ctx context.Context, req *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error)
	Close() error
}

type subscriberAPI interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error
	Close() error
}

// Config identifies the backing resources, which are provisioned externally.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string

	// MaxEmptyPolls is how many empty pulls IsEmpty tolerates, pausing
	// between them, before declaring the queue drained. Transient
	// emptiness is normal while other producers are still publishing.
	MaxEmptyPolls int

	// PauseBase and PauseMax bound the exponential pause between empty
	// polls.
	PauseBase time.Duration
	PauseMax  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxEmptyPolls <= 0 {
		c.MaxEmptyPolls = 3
	}
	if c.PauseBase <= 0 {
		c.PauseBase = 300 * time.Millisecond
	}
	if c.PauseMax <= 0 {
		c.PauseMax = 30 * time.Minute
	}
}

// Queue is the distributed pipeline.Queue. Dequeued messages stay leased
// (invisible to other consumers) until the subscription's ack deadline;
// callers must Ack after successful processing or the item redelivers.
type Queue struct {
	cfg   Config
	topic string
	sub   string

	pub    publisherAPI
	puller subscriberAPI
	seen   seenset.Set

	mu     sync.Mutex
	peeked *pubsubpb.ReceivedMessage
	leased map[string]string
	pauses int

	logger *zap.Logger
}

// New connects publisher and subscriber clients using Application Default
// Credentials. The seen-set must be a durable backend shared by every
// producer; a volatile one silently breaks cross-producer dedup.
func New(ctx context.Context, cfg Config, seen seenset.Set, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub queue requires project, topic, and subscription")
	}
	if seen == nil {
		return nil, fmt.Errorf("pubsub queue requires a shared seen-set")
	}
	pub, err := pubsubv1.NewPublisherClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create pubsub publisher client: %w", err)
	}
	sub, err := pubsubv1.NewSubscriberClient(ctx)
	if err != nil {
		closeErr := pub.Close()
		if closeErr != nil {
			logger.Warn("failed to close publisher after subscriber failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("create pubsub subscriber client: %w", err)
	}
	return NewWithClients(cfg, pub, sub, seen, logger), nil
}

// NewWithClients wires pre-built clients; tests use it with fakes.
func NewWithClients(cfg Config, pub publisherAPI, sub subscriberAPI, seen seenset.Set, logger *zap.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:    cfg,
		topic:  fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.Topic),
		sub:    fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.Subscription),
		pub:    pub,
		puller: sub,
		seen:   seen,
		leased: make(map[string]string),
		logger: logger,
	}
}

// Enqueue implements pipeline.Queue. The seen-set insert is atomic per
// backend, so two producers racing on the same new item publish it once,
// except for the narrow window where a producer crashes between the insert
// and the publish. Consumers must stay idempotent under that duplicate.
func (q *Queue) Enqueue(ctx context.Context, item string) error {
	added, err := q.seen.Add(ctx, item)
	if err != nil {
		return fmt.Errorf("seen-set add: %w", err)
	}
	if !added {
		return nil
	}
	return q.publish(ctx, item)
}

// ReEnqueue implements pipeline.Queue, publishing unconditionally.
func (q *Queue) ReEnqueue(ctx context.Context, item string) error {
	return q.publish(ctx, item)
}

func (q *Queue) publish(ctx context.Context, item string) error {
	_, err := q.pub.Publish(ctx, &pubsubpb.PublishRequest{
		Topic:    q.topic,
		Messages: []*pubsubpb.PubsubMessage{{Data: []byte(item)}},
	})
	if err != nil {
		return fmt.Errorf("publish %q: %w", item, err)
	}
	q.logger.Debug("published", zap.String("topic", q.topic), zap.String("item", item))
	return nil
}

// Dequeue implements pipeline.Queue. The returned item is leased until the
// subscription's ack deadline; call Ack after processing succeeds.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := q.peeked
	q.peeked = nil
	if msg == nil {
		var err error
		msg, err = q.pull(ctx)
		if err != nil {
			return "", err
		}
	}
	if msg == nil {
		return "", pipeline.ErrEmptyQueue
	}
	item := string(msg.GetMessage().GetData())
	// Duplicate delivery of the same item overwrites the previous lease;
	// acking the newest receipt is sufficient either way.
	q.leased[item] = msg.GetAckId()
	q.pauses = 0
	return item, nil
}

// Ack retires the lease on a successfully processed item. Acking an item with
// no outstanding lease is a no-op, which tolerates duplicate deliveries.
func (q *Queue) Ack(ctx context.Context, item string) error {
	q.mu.Lock()
	ackID, ok := q.leased[item]
	if ok {
		delete(q.leased, item)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.puller.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: q.sub,
		AckIds:       []string{ackID},
	}); err != nil {
		return fmt.Errorf("acknowledge %q: %w", item, err)
	}
	return nil
}

// ExtendLease pushes out the ack deadline for a leased item, for downloads
// that outlast the subscription's default visibility window.
func (q *Queue) ExtendLease(ctx context.Context, item string, d time.Duration) error {
	q.mu.Lock()
	ackID, ok := q.leased[item]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("no lease held for %q", item)
	}
	if err := q.puller.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       q.sub,
		AckIds:             []string{ackID},
		AckDeadlineSeconds: int32(d / time.Second),
	}); err != nil {
		return fmt.Errorf("extend lease for %q: %w", item, err)
	}
	return nil
}

// IsEmpty implements pipeline.Queue. Emptiness is observational: it polls up
// to MaxEmptyPolls times with exponentially growing pauses before concluding
// the pending sequence is drained. A message found during polling is buffered
// so the next Dequeue returns it without another pull.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.peeked != nil {
		return false, nil
	}
	for i := 0; i < q.cfg.MaxEmptyPolls; i++ {
		msg, err := q.pull(ctx)
		if err != nil {
			return false, err
		}
		if msg != nil {
			q.peeked = msg
			q.pauses = 0
			return false, nil
		}
		if i < q.cfg.MaxEmptyPolls-1 {
			if err := q.pause(ctx); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// Len implements pipeline.Queue. Pub/Sub exposes no exact backlog count, so
// this is a best-effort local view: leased plus buffered messages.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.leased)
	if q.peeked != nil {
		n++
	}
	return n, nil
}

// Contains implements pipeline.Queue. In-flight messages cannot be inspected,
// so this answers ever-seen membership from the side table rather than the
// local variant's pending-only semantics.
func (q *Queue) Contains(ctx context.Context, item string) (bool, error) {
	return q.seen.Contains(ctx, item)
}

// Close releases both client connections.
func (q *Queue) Close() error {
	if err := q.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	if err := q.puller.Close(); err != nil {
		return fmt.Errorf("close subscriber: %w", err)
	}
	return nil
}

func (q *Queue) pull(ctx context.Context) (*pubsubpb.ReceivedMessage, error) {
	resp, err := q.puller.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: q.sub,
		MaxMessages:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("pull from %s: %w", q.sub, err)
	}
	msgs := resp.GetReceivedMessages()
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// pause sleeps with exponential growth between empty polls, capped at
// PauseMax, respecting cancelation. Callers hold q.mu.
func (q *Queue) pause(ctx context.Context) error {
	d := q.cfg.PauseBase << q.pauses
	if d > q.cfg.PauseMax || d <= 0 {
		d = q.cfg.PauseMax
	}
	q.pauses++
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
