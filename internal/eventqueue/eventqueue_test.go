package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/striglia/auraframes/internal/models"
)

// fakeSQS serves pushed messages one at a time and records every delete and
// visibility change. Requeued messages become receivable again, like the
// real queue.
type fakeSQS struct {
	messages chan sqstypes.Message

	mu       sync.Mutex
	byHandle map[string]sqstypes.Message
	deleted  []string
	requeued []string
	receives int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{
		messages: make(chan sqstypes.Message, 64),
		byHandle: make(map[string]sqstypes.Message),
	}
}

func (f *fakeSQS) push(id, body string) {
	handle := "rh-" + id
	msg := sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(body),
	}
	f.mu.Lock()
	f.byHandle[handle] = msg
	f.mu.Unlock()
	f.messages <- msg
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives++
	f.mu.Unlock()
	select {
	case msg := <-f.messages:
		return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{msg}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	handle := aws.ToString(in.ReceiptHandle)
	f.mu.Lock()
	f.requeued = append(f.requeued, handle)
	msg, ok := f.byHandle[handle]
	f.mu.Unlock()
	if ok {
		f.messages <- msg
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) deleteCount(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.deleted {
		if h == handle {
			n++
		}
	}
	return n
}

func (f *fakeSQS) requeueCount(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.requeued {
		if h == handle {
			n++
		}
	}
	return n
}

func (f *fakeSQS) receiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receives
}

func newTestPoller(t *testing.T, api SQSAPI) *Poller {
	t.Helper()
	poller, err := New(Config{
		QueueURL:     "https://sqs.us-east-1.amazonaws.com/123/frame-queue",
		API:          api,
		WaitTime:     time.Second,
		ErrorBackoff: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return poller
}

func eventBody(assetID string, status models.AssetStatus) string {
	return fmt.Sprintf(`{"event":"asset_updated","frame_id":"frame-1","asset_id":%q,"status":%q}`, assetID, status)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{API: newFakeSQS()}); err == nil {
		t.Fatal("expected error for missing queue url")
	}
	if _, err := New(Config{QueueURL: "https://example.com/q"}); err == nil {
		t.Fatal("expected error for missing api")
	}
	if _, err := New(Config{QueueURL: "https://example.com/q", API: newFakeSQS()}); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
}

func TestWaitDeliversAndAcksOnce(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)
	queue.push("m1", eventBody("asset-1", models.StatusReady))

	event, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if event.AssetID != "asset-1" || event.Status != models.StatusReady {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.FrameID != "frame-1" || event.Type != "asset_updated" {
		t.Fatalf("event envelope not decoded: %+v", event)
	}
	if got := queue.deleteCount("rh-m1"); got != 1 {
		t.Fatalf("message deleted %d times, want 1", got)
	}
	if got := queue.requeueCount("rh-m1"); got != 0 {
		t.Fatalf("matched message requeued %d times", got)
	}
}

func TestUnmatchedMessageRequeuedNotDeleted(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)
	queue.push("other", eventBody("asset-9", models.StatusReady))
	queue.push("mine", eventBody("asset-1", models.StatusReady))

	if _, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 2*time.Second); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if got := queue.deleteCount("rh-other"); got != 0 {
		t.Fatalf("unmatched message was deleted %d times", got)
	}
	if got := queue.requeueCount("rh-other"); got == 0 {
		t.Fatal("unmatched message was never requeued")
	}
}

func TestRequeueBound(t *testing.T) {
	queue := newFakeSQS()
	poller, err := New(Config{
		QueueURL:     "https://example.com/q",
		API:          queue,
		WaitTime:     time.Second,
		ErrorBackoff: 5 * time.Millisecond,
		MaxRequeues:  2,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	queue.push("stranger", eventBody("asset-9", models.StatusReady))

	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		_, err := poller.Wait(ctx, "asset-1", models.StatusReady, time.Minute)
		waitErr <- err
	}()

	// The stranger's message cycles until the bound, then is left alone.
	eventually(t, func() bool { return queue.requeueCount("rh-stranger") == 2 }, "requeue bound never reached")
	time.Sleep(50 * time.Millisecond)
	if got := queue.requeueCount("rh-stranger"); got != 2 {
		t.Fatalf("requeued %d times, want exactly 2", got)
	}
	if got := queue.deleteCount("rh-stranger"); got != 0 {
		t.Fatalf("stranger message deleted %d times", got)
	}

	cancel()
	if err := <-waitErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait returned %v, want context.Canceled", err)
	}
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)

	// A second waiter on an unrelated key keeps the receive loop alive
	// while the duplicate arrives.
	ctx, cancel := context.WithCancel(context.Background())
	holdErr := make(chan error, 1)
	go func() {
		_, err := poller.Wait(ctx, "asset-hold", models.StatusProcessing, time.Minute)
		holdErr <- err
	}()

	queue.push("m1", eventBody("asset-1", models.StatusReady))
	if _, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 2*time.Second); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	queue.push("m2", eventBody("asset-1", models.StatusReady))
	eventually(t, func() bool { return queue.deleteCount("rh-m2") == 1 }, "duplicate was not acked")
	if got := queue.requeueCount("rh-m2"); got != 0 {
		t.Fatalf("duplicate requeued %d times", got)
	}

	cancel()
	if err := <-holdErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("holding waiter returned %v, want context.Canceled", err)
	}
}

func TestUndecodableMessageAckedAndSkipped(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)
	queue.push("junk", "{not json")
	queue.push("blank", `{"event":"asset_updated"}`)
	queue.push("good", eventBody("asset-1", models.StatusReady))

	if _, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 2*time.Second); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if got := queue.deleteCount("rh-junk"); got != 1 {
		t.Fatalf("undecodable message deleted %d times, want 1", got)
	}
	if got := queue.deleteCount("rh-blank"); got != 1 {
		t.Fatalf("incomplete message deleted %d times, want 1", got)
	}
}

func TestWaitTimeout(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)

	_, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 30*time.Millisecond)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Wait returned %v, want *TimeoutError", err)
	}
	if timeoutErr.AssetID != "asset-1" || timeoutErr.Status != models.StatusReady {
		t.Fatalf("timeout error fields %+v", timeoutErr)
	}
}

func TestWaitRequiresAssetID(t *testing.T) {
	poller := newTestPoller(t, newFakeSQS())
	if _, err := poller.Wait(context.Background(), "", models.StatusReady, time.Second); err == nil {
		t.Fatal("expected error for empty asset id")
	}
}

func TestLoopStopsWhenIdle(t *testing.T) {
	queue := newFakeSQS()
	poller := newTestPoller(t, queue)
	queue.push("m1", eventBody("asset-1", models.StatusReady))

	if _, err := poller.Wait(context.Background(), "asset-1", models.StatusReady, 2*time.Second); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	idle := queue.receiveCount()
	time.Sleep(50 * time.Millisecond)
	if got := queue.receiveCount(); got != idle {
		t.Fatalf("receive loop still polling after last waiter left: %d -> %d", idle, got)
	}
}
