package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/supportly/backend/internal/domain"
)

// EmailEvent is the message published for the mail relay to deliver.
type EmailEvent struct {
	ID        string                  `json:"id"`
	Kind      domain.NotificationKind `json:"kind"`
	Recipient string                  `json:"recipient"`
	Subject   string                  `json:"subject"`
	Body      string                  `json:"body"`
	Data      map[string]interface{}  `json:"data,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// amqpChannel is the part of *amqp091.Channel the mailer publishes through.
// amqp091 channels are safe for concurrent publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

// amqpSession is one broker connection and its publishing channel.
type amqpSession struct {
	conn io.Closer
	ch   amqpChannel
}

func (s *amqpSession) close() {
	s.ch.Close()
	if s.conn != nil {
		s.conn.Close()
	}
}

// AMQPMailer publishes rendered emails to a durable topic exchange with
// routing key email.<kind>; a mail relay consumes and delivers them.
// mu guards only the session pointer; dials and publishes run outside it.
type AMQPMailer struct {
	exchange string
	dial     func() (*amqpSession, error)

	mu     sync.Mutex
	sess   *amqpSession
	dialMu sync.Mutex
}

// NewAMQPMailer dials the broker and declares the exchange.
func NewAMQPMailer(url, exchange string) (*AMQPMailer, error) {
	m := &AMQPMailer{
		exchange: exchange,
		dial:     func() (*amqpSession, error) { return dialAMQP(url, exchange) },
	}
	if _, err := m.session(); err != nil {
		return nil, err
	}
	return m, nil
}

func dialAMQP(url, exchange string) (*amqpSession, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &amqpSession{conn: conn, ch: ch}, nil
}

func (m *AMQPMailer) current() *amqpSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil && !m.sess.ch.IsClosed() {
		return m.sess
	}
	return nil
}

// session returns a live session, reconnecting when the last one closed. One
// caller dials at a time; senders holding a live session never wait on it.
func (m *AMQPMailer) session() (*amqpSession, error) {
	if s := m.current(); s != nil {
		return s, nil
	}
	m.dialMu.Lock()
	defer m.dialMu.Unlock()
	if s := m.current(); s != nil {
		return s, nil
	}

	s, err := m.dial()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	old := m.sess
	m.sess = s
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	return s, nil
}

// SendTemplate renders kind and publishes it persistently.
func (m *AMQPMailer) SendTemplate(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]interface{}) error {
	subject, body, err := Render(kind, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(EmailEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode email event: %v", ErrPermanent, err)
	}

	sess, err := m.session()
	if err != nil {
		return err
	}
	err = sess.ch.PublishWithContext(ctx, m.exchange, "email."+string(kind), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (m *AMQPMailer) Close() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s != nil {
		s.close()
	}
}
