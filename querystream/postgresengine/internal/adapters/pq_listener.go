package adapters

import (
	"context"
	"time"

	"github.com/lib/pq"
)

const pqMinReconnectInterval = 10 * time.Second
const pqMaxReconnectInterval = time.Minute

// PQNotificationListener implements NotificationListener on lib/pq, which
// maintains its own connection and reconnect handling. It serves the sql.DB
// and sqlx.DB engine constructors, where no pgx pool is available to listen on.
type PQNotificationListener struct {
	dsn      string
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPQNotificationListener creates a listener that connects with the given DSN.
func NewPQNotificationListener(dsn string) *PQNotificationListener {
	return &PQNotificationListener{dsn: dsn}
}

// Listen registers LISTEN on the given channel and returns a channel of
// notifications. The channel is closed when the listener shuts down or the
// context is cancelled.
func (l *PQNotificationListener) Listen(ctx context.Context, channel string) (<-chan Notification, error) {
	listener := pq.NewListener(l.dsn, pqMinReconnectInterval, pqMaxReconnectInterval, nil)

	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(ctx)

	out := make(chan Notification, notificationBufferSize)
	l.listener = listener
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.forwardNotifications(listenCtx, channel, out)

	return out, nil
}

// Close stops the listen loop and waits for it to finish.
func (l *PQNotificationListener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}

	if l.done != nil {
		<-l.done
	}

	return nil
}

func (l *PQNotificationListener) forwardNotifications(ctx context.Context, channel string, out chan<- Notification) {
	defer close(l.done)
	defer close(out)

	defer func() {
		_ = l.listener.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-l.listener.Notify:
			if !open {
				return
			}

			// lib/pq sends a nil notification after it reconnects, meaning
			// notifications may have been missed. Push an empty payload which
			// the engine treats as a refresh of all watched tables.
			if notification == nil {
				select {
				case out <- Notification{Channel: channel}:
				case <-ctx.Done():
					return
				}

				continue
			}

			select {
			case out <- Notification{Channel: notification.Channel, Payload: notification.Extra}:
			case <-ctx.Done():
				return
			}
		}
	}
}
