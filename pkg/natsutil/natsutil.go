// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation, plus a Connect wrapper with
// exponential-backoff reconnect and connection-state callbacks.
package natsutil

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// ConnectOpts configures Connect.
type ConnectOpts struct {
	// Name identifies the connection to the server.
	Name string
	// MaxWait caps the reconnect backoff.
	MaxWait time.Duration
	// OnStateChange is invoked with true when (re)connected and false when
	// the connection drops. May be nil.
	OnStateChange func(online bool)
}

// Connect dials the NATS server with unlimited reconnects and exponential
// backoff, reporting connectivity transitions through OnStateChange.
func Connect(url string, opts ConnectOpts) (*nats.Conn, error) {
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	notify := opts.OnStateChange
	if notify == nil {
		notify = func(bool) {}
	}

	return nats.Connect(url,
		nats.Name(opts.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			wait := time.Second << uint(min(attempts, 5))
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
			return wait
		}),
		nats.ConnectHandler(func(*nats.Conn) { notify(true) }),
		nats.ReconnectHandler(func(*nats.Conn) { notify(true) }),
		nats.DisconnectErrHandler(func(*nats.Conn, error) { notify(false) }),
		nats.ClosedHandler(func(*nats.Conn) { notify(false) }),
	)
}

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the
// handler. Messages that fail to decode are reported through onErr (which
// may be nil to drop them); a decode failure never unsubscribes the feed.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T), onErr func(error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}
