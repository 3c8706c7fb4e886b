// Package eventqueue waits on the per-frame SQS queue the backend uses to
// announce asset processing progress. One Poller serves one queue URL and any
// number of concurrent waiters; a single receive loop runs only while someone
// is waiting.
package eventqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/striglia/auraframes/internal/identity"
	"github.com/striglia/auraframes/internal/models"
)

// Event is one message from a frame's client queue.
type Event struct {
	Type    string             `json:"event"`
	FrameID string             `json:"frame_id"`
	AssetID string             `json:"asset_id"`
	Status  models.AssetStatus `json:"status"`
}

// TimeoutError reports that the expected event did not arrive in time.
type TimeoutError struct {
	AssetID string
	Status  models.AssetStatus
	Waited  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("eventqueue: no %s event for asset %s within %s", e.Status, e.AssetID, e.Waited)
}

// SQSAPI is the subset of the SQS API the poller calls.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// NewSQSClient builds an SQS client from ticket credentials. The frame queues
// live in the same account and region as the upload bucket, and the identity
// pool's role is what grants receive access.
func NewSQSClient(ticket identity.Ticket) *sqs.Client {
	return sqs.New(sqs.Options{
		Region: identity.DefaultRegion,
		Credentials: credentials.NewStaticCredentialsProvider(
			ticket.AccessKeyID, ticket.SecretKey, ticket.SessionToken),
	})
}

// Config configures a Poller.
type Config struct {
	// QueueURL is the frame's client_queue_url. Required.
	QueueURL string
	// API is the SQS client to poll with. Required.
	API SQSAPI
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// WaitTime is the long-poll duration per receive call.
	WaitTime time.Duration
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
	// MaxRequeues bounds how often a message nobody waits for is made
	// immediately visible again before it is left to the queue's own
	// visibility timeout.
	MaxRequeues int
	// DedupeWindow is how long delivered events are remembered so
	// at-least-once redeliveries can be dropped.
	DedupeWindow time.Duration
	// WaitTimeout bounds Wait calls that pass no explicit timeout.
	WaitTimeout time.Duration
}

type waiterKey struct {
	assetID string
	status  models.AssetStatus
}

type waiter struct {
	ch chan Event
}

type trackedMessage struct {
	count int
	last  time.Time
}

// Poller owns one queue's receive loop and waiter registry.
type Poller struct {
	queueURL     string
	api          SQSAPI
	logger       *slog.Logger
	waitTime     time.Duration
	errorBackoff time.Duration
	maxRequeues  int
	dedupeWindow time.Duration
	waitTimeout  time.Duration
	now          func() time.Time

	mu         sync.Mutex
	waiters    map[waiterKey][]*waiter
	seen       map[waiterKey]time.Time
	requeues   map[string]trackedMessage
	running    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New validates the config and builds a Poller. The receive loop does not
// start until the first Wait registers.
func New(cfg Config) (*Poller, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("eventqueue: queue url is required")
	}
	if cfg.API == nil {
		return nil, errors.New("eventqueue: sqs api is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.MaxRequeues <= 0 {
		cfg.MaxRequeues = 3
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 5 * time.Minute
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 90 * time.Second
	}
	return &Poller{
		queueURL:     cfg.QueueURL,
		api:          cfg.API,
		logger:       cfg.Logger,
		waitTime:     cfg.WaitTime,
		errorBackoff: cfg.ErrorBackoff,
		maxRequeues:  cfg.MaxRequeues,
		dedupeWindow: cfg.DedupeWindow,
		waitTimeout:  cfg.WaitTimeout,
		now:          time.Now,
		waiters:      make(map[waiterKey][]*waiter),
		seen:         make(map[waiterKey]time.Time),
		requeues:     make(map[string]trackedMessage),
	}, nil
}

// Wait blocks until the queue announces the given status for the asset, the
// timeout elapses, or ctx is cancelled. A zero timeout uses the configured
// default. The matched message is removed from the queue exactly once.
func (p *Poller) Wait(ctx context.Context, assetID string, status models.AssetStatus, timeout time.Duration) (Event, error) {
	if assetID == "" {
		return Event{}, errors.New("eventqueue: asset id is required")
	}
	if timeout <= 0 {
		timeout = p.waitTimeout
	}
	key := waiterKey{assetID: assetID, status: status}
	w := &waiter{ch: make(chan Event, 1)}
	p.register(key, w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-w.ch:
		p.drop(key, w)
		return event, nil
	case <-timer.C:
		// The event can land in the buffer in the same instant the timer
		// fires; prefer delivering it.
		if event, ok := p.drop(key, w); ok {
			return event, nil
		}
		return Event{}, &TimeoutError{AssetID: assetID, Status: status, Waited: timeout}
	case <-ctx.Done():
		if event, ok := p.drop(key, w); ok {
			return event, nil
		}
		return Event{}, fmt.Errorf("eventqueue: wait for asset %s %s: %w", assetID, status, ctx.Err())
	}
}

// register adds the waiter and starts the receive loop if it is idle.
func (p *Poller) register(key waiterKey, w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters[key] = append(p.waiters[key], w)
	if !p.running {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		p.running = true
		p.loopCancel = cancel
		p.loopDone = done
		go p.receiveLoop(ctx, done)
	}
}

// drop removes the waiter, returns any event already buffered for it, and
// stops the receive loop once the registry is empty.
func (p *Poller) drop(key waiterKey, w *waiter) (Event, bool) {
	p.mu.Lock()
	list := p.waiters[key]
	for i, candidate := range list {
		if candidate == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.waiters, key)
	} else {
		p.waiters[key] = list
	}

	var event Event
	delivered := false
	select {
	case event = <-w.ch:
		delivered = true
	default:
	}

	var cancel context.CancelFunc
	var done chan struct{}
	if len(p.waiters) == 0 && p.running {
		cancel = p.loopCancel
		done = p.loopDone
		p.running = false
		p.loopCancel = nil
		p.loopDone = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return event, delivered
}

func (p *Poller) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		out, err := p.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     int32(p.waitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("queue receive failed", "queue", p.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorBackoff):
			}
			continue
		}
		for _, msg := range out.Messages {
			p.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one received message: deliver-and-ack on a waiter match,
// drop duplicates and garbage, requeue everything else so other sequences can
// claim their own events.
func (p *Poller) dispatch(ctx context.Context, msg sqstypes.Message) {
	var event Event
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &event); err != nil {
		p.logger.Warn("dropping undecodable queue message", "message_id", aws.ToString(msg.MessageId), "error", err)
		p.ack(ctx, msg)
		return
	}
	if event.AssetID == "" || event.Status == "" {
		p.logger.Warn("dropping queue message without asset id or status", "message_id", aws.ToString(msg.MessageId))
		p.ack(ctx, msg)
		return
	}

	key := waiterKey{assetID: event.AssetID, status: event.Status}

	p.mu.Lock()
	p.pruneLocked()
	if _, dup := p.seen[key]; dup {
		p.mu.Unlock()
		p.ack(ctx, msg)
		return
	}
	var target *waiter
	if list := p.waiters[key]; len(list) > 0 {
		target = list[0]
	}
	if target != nil {
		// Buffered send under the lock: drop() drains under the same lock,
		// so a matched event is either returned by Wait or never sent.
		target.ch <- event
		p.seen[key] = p.now()
	}
	p.mu.Unlock()

	if target != nil {
		p.ack(ctx, msg)
		return
	}
	p.requeue(ctx, msg)
}

// ack deletes the message from the queue.
func (p *Poller) ack(ctx context.Context, msg sqstypes.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	_, err := p.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("queue ack failed", "message_id", aws.ToString(msg.MessageId), "error", err)
	}
}

// requeue makes a message nobody is waiting for immediately visible again,
// up to the configured bound. Past the bound the message is left alone and
// reappears when its visibility timeout lapses.
func (p *Poller) requeue(ctx context.Context, msg sqstypes.Message) {
	id := aws.ToString(msg.MessageId)
	p.mu.Lock()
	tracked := p.requeues[id]
	tracked.count++
	tracked.last = p.now()
	p.requeues[id] = tracked
	count := tracked.count
	p.mu.Unlock()

	if count > p.maxRequeues {
		return
	}
	if msg.ReceiptHandle == nil {
		return
	}
	_, err := p.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(p.queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("queue requeue failed", "message_id", id, "error", err)
	}
}

// pruneLocked ages out dedupe and requeue bookkeeping. Callers hold p.mu.
func (p *Poller) pruneLocked() {
	cutoff := p.now().Add(-p.dedupeWindow)
	for key, deliveredAt := range p.seen {
		if deliveredAt.Before(cutoff) {
			delete(p.seen, key)
		}
	}
	for id, tracked := range p.requeues {
		if tracked.last.Before(cutoff) {
			delete(p.requeues, id)
		}
	}
}
