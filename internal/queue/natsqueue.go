package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// inFlightNATSMsgs tracks the live *nats.Msg behind each receipt handle
// returned by FetchBatch, so Ack can find the message to acknowledge.
type inFlightNATSMsgs struct {
	mu sync.Mutex
	m  map[string]*nats.Msg
}

func (s *inFlightNATSMsgs) store(handle string, msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[handle] = msg
}

func (s *inFlightNATSMsgs) load(handle string) (*nats.Msg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.m[handle]
	return msg, ok
}

func (s *inFlightNATSMsgs) delete(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, handle)
}

// NATSQueue is the hosted Queue: a NATS JetStream stream with a durable
// pull consumer, used once QUEUE_URL is set. AckWait mirrors the
// visibility-timeout semantics of MemQueue — an unacked message is
// redelivered once AckWait elapses (ack-timeout at-least-once; no Nak is
// sent).
type NATSQueue struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	stream   string
	subject  string
	sub      *nats.Subscription
	inFlight *inFlightNATSMsgs
}

// NATSConfig configures the connection and stream/consumer naming.
type NATSConfig struct {
	URL               string
	Stream            string
	Subject           string
	Durable           string
	VisibilityTimeout time.Duration
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectTimeout    time.Duration
}

// NewNATSQueue connects to NATS, ensures the classification stream
// exists, and binds a durable pull consumer, using the
// nats.Connect(url, options...) idiom.
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsqueue: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natsqueue: jetstream context: %w", err)
	}

	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("natsqueue: add stream: %w", err)
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.AckWait(visibility))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natsqueue: pull subscribe: %w", err)
	}

	return &NATSQueue{
		conn: conn, js: js, stream: cfg.Stream, subject: cfg.Subject, sub: sub,
		inFlight: &inFlightNATSMsgs{m: map[string]*nats.Msg{}},
	}, nil
}

// Send publishes a message referencing metadataPath to the stream's subject.
func (q *NATSQueue) Send(ctx context.Context, metadataPath string) error {
	data, err := EncodePayload(metadataPath)
	if err != nil {
		return fmt.Errorf("natsqueue: encode payload: %w", err)
	}
	if _, err := q.js.Publish(q.subject, data); err != nil {
		return fmt.Errorf("natsqueue: publish: %w", err)
	}
	return nil
}

// FetchBatch pulls up to max undelivered messages.
func (q *NATSQueue) FetchBatch(ctx context.Context, max int) ([]Message, error) {
	msgs, err := q.sub.Fetch(max, nats.MaxWait(2*time.Second))
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, nil
		}
		return nil, fmt.Errorf("natsqueue: fetch: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		path, err := DecodePayload(m.Data)
		if err != nil {
			// Malformed payload: ack it so it doesn't redeliver forever and skip.
			_ = m.Ack()
			continue
		}
		meta, metaErr := m.Metadata()
		handle := fmt.Sprintf("%d", time.Now().UnixNano())
		if metaErr == nil {
			handle = fmt.Sprintf("%d.%d", meta.Sequence.Stream, meta.Sequence.Consumer)
		}
		q.inFlight.store(handle, m)
		out = append(out, Message{ReceiptHandle: handle, S3MetadataPath: path})
	}
	return out, nil
}

// Ack acknowledges the underlying NATS message for msg. Unacked messages
// redeliver automatically once AckWait elapses.
func (q *NATSQueue) Ack(ctx context.Context, msg Message) error {
	natsMsg, ok := q.inFlight.load(msg.ReceiptHandle)
	if !ok {
		return fmt.Errorf("natsqueue: unknown receipt handle %s", msg.ReceiptHandle)
	}
	q.inFlight.delete(msg.ReceiptHandle)
	if err := natsMsg.Ack(); err != nil {
		return fmt.Errorf("natsqueue: ack: %w", err)
	}
	return nil
}

// Close unsubscribes the consumer subscription and closes the connection.
func (q *NATSQueue) Close() error {
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	q.conn.Close()
	return nil
}

var _ Queue = (*NATSQueue)(nil)
