package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/limbo/routinesync/internal/remote"
	"github.com/limbo/routinesync/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type waitResult struct {
	n   *pgconn.Notification
	err error
}

type fakeConn struct {
	results chan waitResult
	closed  chan struct{}
}

func newFakeConn(buffer int) *fakeConn {
	return &fakeConn{
		results: make(chan waitResult, buffer),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case res := <-f.results:
		return res.n, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close(ctx context.Context) error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func notification(t *testing.T, ev entity.ChangeEvent) waitResult {
	t.Helper()
	payload, err := sonic.Marshal(ev)
	require.NoError(t, err)
	return waitResult{n: &pgconn.Notification{Channel: "routine_changes", Payload: string(payload)}}
}

func recvEvent(t *testing.T, sub *remote.Subscription) entity.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
		return entity.ChangeEvent{}
	}
}

func TestSubscriptionDeliversOwnerEvents(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	conn := newFakeConn(8)
	listener := remote.NewListenerWithDial(func(ctx context.Context) (remote.NotifyConn, error) {
		return conn, nil
	}, nil)

	mine := entity.ChangeEvent{Kind: entity.EventInsert, OwnerID: owner, RoutineID: uuid.New()}
	theirs := entity.ChangeEvent{Kind: entity.EventUpdate, OwnerID: other, RoutineID: uuid.New()}
	conn.results <- notification(t, theirs)
	conn.results <- notification(t, mine)

	sub, err := listener.Subscribe(context.Background(), owner)
	require.NoError(t, err)
	defer sub.Close()

	// The foreign-owner event is filtered out; only ours arrives.
	got := recvEvent(t, sub)
	assert.Equal(t, entity.EventInsert, got.Kind)
	assert.Equal(t, mine.RoutineID, got.RoutineID)
}

func TestSubscriptionReconnectEmitsResync(t *testing.T) {
	owner := uuid.New()
	first := newFakeConn(8)
	second := newFakeConn(8)
	dials := 0
	listener := remote.NewListenerWithDial(func(ctx context.Context) (remote.NotifyConn, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}, nil)

	before := entity.ChangeEvent{Kind: entity.EventInsert, OwnerID: owner, RoutineID: uuid.New()}
	after := entity.ChangeEvent{Kind: entity.EventDelete, OwnerID: owner, RoutineID: uuid.New()}
	first.results <- notification(t, before)
	first.results <- waitResult{err: errors.New("connection reset")}
	second.results <- notification(t, after)

	sub, err := listener.Subscribe(context.Background(), owner)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, entity.EventInsert, recvEvent(t, sub).Kind)
	assert.Equal(t, entity.EventResync, recvEvent(t, sub).Kind)
	assert.Equal(t, entity.EventDelete, recvEvent(t, sub).Kind)
}

func TestSubscribeFailsWhenDialFails(t *testing.T) {
	listener := remote.NewListenerWithDial(func(ctx context.Context) (remote.NotifyConn, error) {
		return nil, errors.New("no route to host")
	}, nil)
	_, err := listener.Subscribe(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	conn := newFakeConn(1)
	listener := remote.NewListenerWithDial(func(ctx context.Context) (remote.NotifyConn, error) {
		return conn, nil
	}, nil)

	sub, err := listener.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)

	sub.Close()
	// A second close must not panic or block.
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel should be closed after Close")
}
