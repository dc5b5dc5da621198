package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the publisher and consumer use.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Connection is a broker connection able to open channels.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a new broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

const (
	// DialTimeout bounds the TCP connect and AMQP handshake of one dial.
	DialTimeout = 3 * time.Second
	// RedialBackoff is how long a failed dial is reported to later callers
	// before the broker is dialed again.
	RedialBackoff = time.Second
)

// Dial connects with a heartbeat and a named connection so the broker UI
// shows which service holds it.
func Dial(url string) (Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:       amqp.DefaultDial(DialTimeout),
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": "product-service"},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

var ErrSessionClosed = errors.New("rabbitmq session closed")

// Session owns the process-wide broker connection and the shared publishing
// channel. Nothing is dialed until first use; a faulted connection or
// channel is replaced on the next call, never retried within one. After a
// failed dial, callers get that error without dialing until RedialBackoff
// has passed, so writers queued on the lock do not each wait out a dial.
type Session struct {
	url      string
	dial     Dialer
	confirms bool
	now      func() time.Time

	mu      sync.Mutex
	conn    Connection
	ch      Channel
	closed  bool
	dialErr error
	retryAt time.Time
}

func NewSession(url string, dial Dialer, confirms bool) *Session {
	if dial == nil {
		dial = Dial
	}
	return &Session{url: url, dial: dial, confirms: confirms, now: time.Now}
}

func (s *Session) connection() (Connection, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	if s.dialErr != nil && s.now().Before(s.retryAt) {
		return nil, s.dialErr
	}
	conn, err := s.dial(s.url)
	if err != nil {
		s.dialErr, s.retryAt = err, s.now().Add(RedialBackoff)
		return nil, err
	}
	zap.L().Info("connected to rabbitmq")
	s.dialErr = nil
	s.conn = conn
	s.ch = nil
	return conn, nil
}

// Channel returns the shared publishing channel, opening it (and the
// connection) when missing or faulted. With confirms enabled the channel is
// put into confirm mode.
func (s *Session) Channel() (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil && !s.ch.IsClosed() && s.conn != nil && !s.conn.IsClosed() {
		return s.ch, nil
	}
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if s.confirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	s.ch = ch
	return ch, nil
}

// OpenChannel opens a dedicated channel for a consumer. The caller closes it.
func (s *Session) OpenChannel() (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	return conn.Channel()
}

// Discard drops ch if it is still the shared channel, so the next Channel
// call opens a fresh one.
func (s *Session) Discard(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == ch {
		_ = ch.Close()
		s.ch = nil
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
		s.ch = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}
