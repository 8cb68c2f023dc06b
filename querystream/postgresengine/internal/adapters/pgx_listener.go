package adapters

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationBufferSize = 16
const reconnectDelay = time.Second

// PGXNotificationListener implements NotificationListener on a dedicated
// connection acquired from a pgxpool.Pool. The connection is held for the
// lifetime of the listen loop so that LISTEN stays registered.
type PGXNotificationListener struct {
	pool   *pgxpool.Pool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGXNotificationListener creates a listener backed by the given pool.
func NewPGXNotificationListener(pool *pgxpool.Pool) *PGXNotificationListener {
	return &PGXNotificationListener{pool: pool}
}

// Listen registers LISTEN on the given channel and returns a channel of
// notifications. The channel is closed when the listener shuts down or the
// context is cancelled.
func (l *PGXNotificationListener) Listen(ctx context.Context, channel string) (<-chan Notification, error) {
	listenCtx, cancel := context.WithCancel(ctx)

	conn, err := l.pool.Acquire(listenCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	listenSQL := "LISTEN " + pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.Exec(listenCtx, listenSQL); execErr != nil {
		conn.Release()
		cancel()

		return nil, execErr
	}

	out := make(chan Notification, notificationBufferSize)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.waitForNotifications(listenCtx, conn, channel, listenSQL, out)

	return out, nil
}

// Close stops the listen loop and waits for it to finish.
func (l *PGXNotificationListener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}

	if l.done != nil {
		<-l.done
	}

	return nil
}

func (l *PGXNotificationListener) waitForNotifications(
	ctx context.Context,
	conn *pgxpool.Conn,
	channel string,
	listenSQL string,
	out chan<- Notification,
) {
	defer close(l.done)
	defer close(out)

	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			conn.Release()
			conn = nil

			reconnected, reconnectErr := l.reestablishListen(ctx, listenSQL)
			if reconnectErr != nil {
				return
			}
			conn = reconnected

			// Notifications may have been missed while disconnected, so push
			// an empty payload which the engine treats as a refresh of all
			// watched tables.
			select {
			case out <- Notification{Channel: channel}:
			case <-ctx.Done():
				return
			}

			continue
		}

		select {
		case out <- Notification{Channel: notification.Channel, Payload: notification.Payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (l *PGXNotificationListener) reestablishListen(ctx context.Context, listenSQL string) (*pgxpool.Conn, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectDelay):
		}

		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			continue
		}

		if _, execErr := conn.Exec(ctx, listenSQL); execErr != nil {
			conn.Release()
			continue
		}

		return conn, nil
	}
}
