package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
	"github.com/supportly/backend/internal/domain"
)

// fakeChannel records publishes. When gate is set each publish waits on it.
type fakeChannel struct {
	gate     chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Bool

	mu   sync.Mutex
	keys []string
	msgs []amqp091.Publishing
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed.Load() }
func (f *fakeChannel) Close() error   { f.closed.Store(true); return nil }

var testData = map[string]interface{}{"supporterName": "Rina", "creatorName": "Bayu", "tierLevel": 1}

func newTestAMQPMailer(dial func() (*amqpSession, error)) *AMQPMailer {
	return &AMQPMailer{exchange: "notifications", dial: dial}
}

func TestAMQPMailer_PublishesRenderedEvent(t *testing.T) {
	ch := &fakeChannel{}
	m := newTestAMQPMailer(func() (*amqpSession, error) { return &amqpSession{ch: ch}, nil })

	err := m.SendTemplate(context.Background(), domain.NotifyWelcome, "sup@example.com", map[string]interface{}{
		"supporterName": "Rina", "creatorName": "Bayu",
	})
	if err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if len(ch.keys) != 1 || ch.keys[0] != "email.welcome" {
		t.Fatalf("routing keys = %v", ch.keys)
	}
	var ev EmailEvent
	if err := json.Unmarshal(ch.msgs[0].Body, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Recipient != "sup@example.com" || ev.Subject == "" || ch.msgs[0].DeliveryMode != amqp091.Persistent {
		t.Errorf("event = %+v", ev)
	}
}

func TestAMQPMailer_ConcurrentSendsDoNotSerialize(t *testing.T) {
	ch := &fakeChannel{gate: make(chan struct{})}
	m := newTestAMQPMailer(func() (*amqpSession, error) { return &amqpSession{ch: ch}, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.SendTemplate(ctx, domain.NotifyWelcome, "sup@example.com", testData)
		}()
	}

	deadline := time.After(time.Second)
	for ch.inFlight.Load() < 2 {
		select {
		case <-deadline:
			close(ch.gate)
			wg.Wait()
			t.Fatalf("publishes in flight = %d, want 2", ch.inFlight.Load())
		case <-time.After(time.Millisecond):
		}
	}
	close(ch.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("SendTemplate: %v", err)
		}
	}
	if ch.peak.Load() != 2 {
		t.Errorf("peak concurrent publishes = %d", ch.peak.Load())
	}
}

func TestAMQPMailer_ReconnectsAfterClose(t *testing.T) {
	var dials atomic.Int32
	var last *fakeChannel
	m := newTestAMQPMailer(func() (*amqpSession, error) {
		dials.Add(1)
		last = &fakeChannel{}
		return &amqpSession{ch: last}, nil
	})
	ctx := context.Background()

	if err := m.SendTemplate(ctx, domain.NotifyExpired, "sup@example.com", testData); err != nil {
		t.Fatalf("first send: %v", err)
	}
	last.closed.Store(true)
	if err := m.SendTemplate(ctx, domain.NotifyExpired, "sup@example.com", testData); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
}

func TestAMQPMailer_DialFailure(t *testing.T) {
	m := newTestAMQPMailer(func() (*amqpSession, error) { return nil, errors.New("amqp dial: connection refused") })
	if err := m.SendTemplate(context.Background(), domain.NotifyExpired, "sup@example.com", testData); err == nil {
		t.Fatal("expected an error when the broker is unreachable")
	}
}
