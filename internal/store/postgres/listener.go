package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const tokensChannel = "tokens_changed"

// Listener holds one LISTEN connection and fans tokens_changed
// notifications out to per-clinic callbacks. It starts on the first
// subscription and reconnects with exponential backoff.
type Listener struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]map[string]func()

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewListener(pool *pgxpool.Pool, logger zerolog.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		pool:   pool,
		logger: logger,
		subs:   make(map[string]map[string]func()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Subscribe registers onChange for clinicID. The returned func removes it;
// it is safe to call more than once. Cancelling ctx also removes it.
func (l *Listener) Subscribe(ctx context.Context, clinicID string, onChange func()) func() {
	id := uuid.NewString()
	l.mu.Lock()
	if l.subs[clinicID] == nil {
		l.subs[clinicID] = make(map[string]func())
	}
	l.subs[clinicID][id] = onChange
	l.mu.Unlock()

	l.startOnce.Do(func() {
		go l.run()
	})

	var once sync.Once
	stop := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			l.mu.Lock()
			delete(l.subs[clinicID], id)
			if len(l.subs[clinicID]) == 0 {
				delete(l.subs, clinicID)
			}
			l.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		case <-l.ctx.Done():
		}
	}()
	return unsubscribe
}

// Close stops the listen loop and waits for it when it was started.
func (l *Listener) Close() {
	l.cancel()
	started := true
	l.startOnce.Do(func() { started = false })
	if started {
		<-l.done
	}
}

func (l *Listener) run() {
	defer close(l.done)

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 30 * time.Second
	reconnect := false
	for {
		err := l.listen(retry, reconnect)
		if l.ctx.Err() != nil {
			return
		}
		wait := retry.NextBackOff()
		l.logger.Warn().Err(err).Dur("retry_in", wait).Msg("token change listener disconnected")
		select {
		case <-l.ctx.Done():
			return
		case <-time.After(wait):
		}
		reconnect = true
	}
}

func (l *Listener) listen(retry *backoff.ExponentialBackOff, reconnect bool) error {
	conn, err := l.pool.Acquire(l.ctx)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}()

	if _, err := conn.Exec(l.ctx, "LISTEN "+tokensChannel); err != nil {
		return err
	}
	retry.Reset()
	l.logger.Info().Bool("reconnect", reconnect).Msg("listening for token changes")

	// Changes made while disconnected were not delivered.
	if reconnect {
		l.signalAll()
	}

	for {
		notification, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			return err
		}
		if notification.Channel != tokensChannel {
			continue
		}
		l.signal(notification.Payload)
	}
}

func (l *Listener) signal(clinicID string) {
	l.mu.Lock()
	callbacks := make([]func(), 0, len(l.subs[clinicID]))
	for _, fn := range l.subs[clinicID] {
		callbacks = append(callbacks, fn)
	}
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (l *Listener) signalAll() {
	l.mu.Lock()
	var callbacks []func()
	for _, subs := range l.subs {
		for _, fn := range subs {
			callbacks = append(callbacks, fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (l *Listener) subscriberCount(clinicID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[clinicID])
}
