package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 12 * time.Second
	defaultBatchSize      = 50
	defaultMaxBackoff     = 5 * time.Minute
)

type Options struct {
	Interval       time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
	BatchSize      int
	MaxBackoff     time.Duration
}

func (o *Options) withDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
}

// Dispatcher drains a Store and hands each notification to the Sender of its
// platform. Failed deliveries are reported on Errors and retried with
// exponential backoff until MaxAttempts.
type Dispatcher struct {
	store Store
	opts  Options

	mu      sync.RWMutex
	senders map[string]Sender

	errs     chan error
	wake     chan struct{}
	stopChan chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	running   bool

	now func() time.Time
}

func NewDispatcher(store Store, opts Options, senders ...Sender) *Dispatcher {
	opts.withDefaults()
	d := &Dispatcher{
		store:    store,
		opts:     opts,
		senders:  make(map[string]Sender),
		errs:     make(chan error, 64),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	for _, s := range senders {
		d.AddSender(s)
	}
	return d
}

// AddSender registers s for its platform, replacing any previous one.
func (d *Dispatcher) AddSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Platform()] = s
}

func (d *Dispatcher) sender(platform string) Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.senders[platform]
}

// Errors reports delivery failures. When the channel is full the error is
// logged instead.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// Enqueue stores a notification for identity and returns its id without
// waiting for delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, identity, text string) (string, error) {
	platform, chatID := Route(identity)
	if chatID == "" {
		return "", ErrNoRecipient
	}
	now := d.now()
	n := Notification{
		ID:          uuid.NewString(),
		Platform:    platform,
		ChatID:      chatID,
		Text:        text,
		Status:      StatusQueued,
		NextAttempt: now,
		CreatedAt:   now,
	}
	if err := d.store.Enqueue(ctx, n); err != nil {
		return "", fmt.Errorf("enqueue notification: %w", err)
	}
	metrics.NotificationsQueued.Inc()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return n.ID, nil
}

// Start runs the delivery loop. A Dispatcher is started at most once.
func (d *Dispatcher) Start() {
	if d == nil {
		return
	}
	d.startOnce.Do(func() {
		d.mu.Lock()
		d.running = true
		d.mu.Unlock()
		go d.loop()
	})
}

// Stop ends the loop and waits for an in-flight batch to finish.
func (d *Dispatcher) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.mu.RLock()
		running := d.running
		d.mu.RUnlock()
		if running {
			<-d.done
		}
	})
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			d.RunOnce(ctx)
		case <-d.wake:
			d.RunOnce(ctx)
		case <-d.stopChan:
			return
		}
	}
}

// RunOnce delivers one batch of due notifications.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	now := d.now()
	due, err := d.store.Due(ctx, now, d.opts.BatchSize)
	if err != nil {
		log.Printf("notify: failed to load due notifications: %v", err)
		return
	}
	for _, n := range due {
		if ctx.Err() != nil {
			return
		}
		d.deliver(ctx, n, now)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification, now time.Time) {
	attempts := n.Attempts + 1

	var err error
	final := false
	if s := d.sender(n.Platform); s == nil {
		err = fmt.Errorf("no sender for platform %q", n.Platform)
		final = true
	} else {
		err = d.sendWithRetry(ctx, s, n)
	}

	if err == nil {
		metrics.NotificationsDelivered.WithLabelValues("sent").Inc()
		if merr := d.store.MarkSent(ctx, n.ID, now); merr != nil {
			log.Printf("notify: failed to mark %s sent: %v", n.ID, merr)
		}
		return
	}

	if attempts >= d.opts.MaxAttempts {
		final = true
	}
	d.report(&DeliveryError{
		NotificationID: n.ID,
		Platform:       n.Platform,
		ChatID:         n.ChatID,
		Attempts:       attempts,
		Final:          final,
		Err:            err,
	})

	if final {
		metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
		if ferr := d.store.Fail(ctx, n.ID, attempts, err.Error()); ferr != nil {
			log.Printf("notify: failed to mark %s failed: %v", n.ID, ferr)
		}
		return
	}
	metrics.NotificationsDelivered.WithLabelValues("retry").Inc()
	next := now.Add(d.backoff(attempts))
	if derr := d.store.Delay(ctx, n.ID, attempts, next, err.Error()); derr != nil {
		log.Printf("notify: failed to delay %s: %v", n.ID, derr)
	}
}

// backoff doubles the tick interval per failed attempt, up to MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.opts.Interval
	for i := 1; i < attempts; i++ {
		b *= 2
		if b >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return b
}

func (d *Dispatcher) report(err *DeliveryError) {
	select {
	case d.errs <- err:
	default:
		log.Printf("notify: %v", err)
	}
}

// sendWithRetry retries once within the same tick when the failure looks
// transient at the network level.
func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, n Notification) error {
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
		err := s.Send(sendCtx, n.ChatID, n.Text)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
