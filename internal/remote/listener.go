package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/limbo/routinesync/pkg/entity"
)

// notifyChannel is the single NOTIFY channel the routines trigger publishes
// on. Payloads carry the owner id, so one channel serves every session and
// the client filters.
const notifyChannel = "routine_changes"

// NotifyConn is the slice of pgx.Conn the listener needs. LISTEN requires a
// dedicated session-scoped connection, not a pooled one.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener opens owner-scoped subscriptions to the remote change channel.
type Listener struct {
	dial   func(ctx context.Context) (NotifyConn, error)
	logger *slog.Logger
}

func NewListener(cfg DBConfig, logger *slog.Logger) *Listener {
	connString := cfg.ConnString()
	return NewListenerWithDial(func(ctx context.Context) (NotifyConn, error) {
		return pgx.Connect(ctx, connString)
	}, logger)
}

func NewListenerWithDial(dial func(ctx context.Context) (NotifyConn, error), logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{dial: dial, logger: logger}
}

// Subscription is a live change channel. Events are delivered in server
// order; after a reconnect a synthetic resync event is emitted first, since
// notifications sent while disconnected are lost.
type Subscription struct {
	events    chan entity.ChangeEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) Events() <-chan entity.ChangeEvent {
	return s.events
}

// Close terminates the channel and waits for the pump to exit. Safe to call
// more than once and after the underlying connection has already dropped.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe dials and starts LISTENing before returning, so a broken remote
// surfaces immediately instead of on the first missed event.
func (l *Listener) Subscribe(ctx context.Context, ownerID uuid.UUID) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	conn, err := l.listen(ctx)
	if err != nil {
		cancel()
		return nil, errors.New("opening change subscription error: " + err.Error())
	}
	sub := &Subscription{
		events: make(chan entity.ChangeEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.pump(ctx, conn, ownerID, sub)
	return sub, nil
}

func (l *Listener) listen(ctx context.Context) (NotifyConn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (l *Listener) pump(ctx context.Context, conn NotifyConn, ownerID uuid.UUID, sub *Subscription) {
	defer close(sub.done)
	defer close(sub.events)
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			conn.Close(context.Background())
			conn = nil
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("change subscription dropped, reconnecting", slog.String("error", err.Error()))
			conn, err = l.reconnect(ctx)
			if err != nil {
				return
			}
			// Anything published while disconnected is gone; the consumer
			// has to run a fresh merge pass.
			if !deliver(ctx, sub.events, entity.ChangeEvent{Kind: entity.EventResync, OwnerID: ownerID}) {
				return
			}
			continue
		}

		var ev entity.ChangeEvent
		if err := sonic.Unmarshal([]byte(n.Payload), &ev); err != nil {
			l.logger.Error("dropping malformed change payload", slog.String("error", err.Error()))
			continue
		}
		if ev.OwnerID != ownerID {
			continue
		}
		if !deliver(ctx, sub.events, ev) {
			return
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) (NotifyConn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	var conn NotifyConn
	op := func() error {
		c, err := l.listen(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func deliver(ctx context.Context, ch chan<- entity.ChangeEvent, ev entity.ChangeEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
