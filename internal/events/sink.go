package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// Default outbound bounds for event delivery.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReadTimeout    = 4 * time.Second
	DefaultNATSSubject    = "satlink.events"
)

// ErrDeliveryRejected is returned when the sink answers with a non-2xx status.
var ErrDeliveryRejected = errors.New("event delivery rejected")

// Sink delivers one encoded payload.
type Sink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// NewHTTPClient returns a client that fails closed after the connect and
// response timeouts.
func NewHTTPClient(connect, read time.Duration) *http.Client {
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	if read <= 0 {
		read = DefaultReadTimeout
	}
	dialer := &net.Dialer{Timeout: connect}
	return &http.Client{
		Timeout: connect + read,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: read,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// HTTPSink posts payloads to the monitor ingest endpoint.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink posts to url. A nil client uses NewHTTPClient defaults.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = NewHTTPClient(0, 0)
	}
	return &HTTPSink{url: url, client: client}
}

// Deliver implements Sink.
func (s *HTTPSink) Deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrDeliveryRejected, resp.StatusCode)
	}
	return nil
}

// natsConn is the subset of *nats.Conn used by NATSSink.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes payloads on a NATS subject. A flush after every publish
// surfaces connection failures to the retry loop.
type NATSSink struct {
	conn    natsConn
	subject string
	flush   time.Duration
}

// NewNATSSink publishes on subject using conn.
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return newNATSSink(conn, subject)
}

func newNATSSink(conn natsConn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSink{conn: conn, subject: subject, flush: DefaultReadTimeout}
}

// DialNATS connects to url with the delivery timeouts applied.
func DialNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(DefaultConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// Deliver implements Sink.
func (s *NATSSink) Deliver(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	if err := s.conn.FlushTimeout(s.flush); err != nil {
		return fmt.Errorf("flush %s: %w", s.subject, err)
	}
	return nil
}
