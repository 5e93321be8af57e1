package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/types"
)

// Publisher mirrors broadcast events to systems outside the process.
type Publisher interface {
	Publish(ctx context.Context, roomID string, ev engine.Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, engine.Event) error { return nil }
func (Nop) Close() error                                       { return nil }

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		SubjectPrefix: "gasha.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	closed chan struct{}
}

func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.Name("gasha-backend"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix, closed: closed}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, roomID string, ev engine.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := types.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	msg := nats.NewMsg(Subject(p.prefix, roomID, ev.Type))
	msg.Header.Set("Room-Id", roomID)
	msg.Data = data
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close flushes buffered messages and returns once the connection is closed.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		return err
	}
	<-p.closed
	return nil
}

// Subject builds "<prefix>.<roomID>.<EVENT_TYPE>".
func Subject(prefix, roomID string, t engine.EventType) string {
	return fmt.Sprintf("%s.%s.%s", prefix, roomID, t)
}
