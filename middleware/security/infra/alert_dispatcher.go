package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
)

// Alerter é um destino de alertas (log, banco, SIEM...).
//
// Implementações devem suportar chamadas concorrentes de Send.
type Alerter interface {
	Send(ctx context.Context, alert domain.Alert) error
	Close() error
}

// AlertDispatcher implementa domain.AlertSink com uma fila limitada e um worker.
//
// Emit nunca bloqueia: fila cheia descarta o alerta. Falha de um Alerter é
// logada e engolida, sem afetar os outros nem o caminho da requisição.
type AlertDispatcher struct {
	queue       chan domain.Alert
	alerters    []Alerter
	throttle    *Throttle
	sendTimeout time.Duration
	log         zerolog.Logger
	onDrop      func(reason string)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
}

var _ domain.AlertSink = (*AlertDispatcher)(nil)

type DispatcherOption func(*AlertDispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *AlertDispatcher) {
		if n > 0 {
			d.queue = make(chan domain.Alert, n)
		}
	}
}

func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *AlertDispatcher) { d.sendTimeout = t }
}

// WithThrottle limita alertas por cliente antes de entrar na fila.
func WithThrottle(t *Throttle) DispatcherOption {
	return func(d *AlertDispatcher) { d.throttle = t }
}

func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *AlertDispatcher) { d.log = l }
}

func WithDropHook(fn func(reason string)) DispatcherOption {
	return func(d *AlertDispatcher) { d.onDrop = fn }
}

func NewAlertDispatcher(alerters []Alerter, opts ...DispatcherOption) *AlertDispatcher {
	d := &AlertDispatcher{
		queue:       make(chan domain.Alert, 1024),
		alerters:    alerters,
		sendTimeout: 2 * time.Second,
		log:         zerolog.Nop(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

func (d *AlertDispatcher) Emit(a domain.Alert) {
	if d.throttle != nil && !d.throttle.Allow(a.ClientID) {
		d.drop("throttled")
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop("closed")
		return
	}

	select {
	case d.queue <- a:
	default:
		d.drop("queue_full")
	}
}

func (d *AlertDispatcher) drop(reason string) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(reason)
	}
}

func (d *AlertDispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		d.dispatch(a)
	}
}

func (d *AlertDispatcher) dispatch(a domain.Alert) {
	for _, al := range d.alerters {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := safeSend(ctx, al, a)
		cancel()
		if err != nil {
			d.log.Error().Err(err).
				Str("alert_id", a.ID).
				Str("kind", string(a.Kind)).
				Msg("alert delivery failed")
		}
	}
	d.delivered.Add(1)
}

// safeSend isola pânicos de um Alerter.
func safeSend(ctx context.Context, al Alerter, a domain.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("alerter panicked")
		}
	}()
	return al.Send(ctx, a)
}

// Dropped conta alertas descartados (fila cheia, throttle, após Close).
func (d *AlertDispatcher) Dropped() int64 { return d.dropped.Load() }

// Delivered conta alertas processados pelo worker.
func (d *AlertDispatcher) Delivered() int64 { return d.delivered.Load() }

// Close drena a fila e fecha os alerters. Seguro para chamar mais de uma vez.
func (d *AlertDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done

	var errs []error
	for _, al := range d.alerters {
		if err := al.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
