package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/domainbus/internal/reliability"
)

// ConnectionState is the lifecycle state of a ConnectionManager
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns one connection and one channel to the broker.
// It connects with a bounded retry, asserts the topology on every new
// channel, reconnects after unexpected closes, and drains in-flight
// publishes before closing.
type ConnectionManager struct {
	url             string
	dialer          Dialer
	topology        *Topology
	topologyManager *TopologyManager
	connectDelay    time.Duration
	connectAttempts int
	autoReconnect   bool
	confirm         bool
	drainTimeout    time.Duration
	logger          *slog.Logger

	mu       sync.RWMutex
	state    ConnectionState
	conn     Connection
	ch       Channel
	inFlight sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex

	// notifications are delivered in order by at most one goroutine;
	// notifyIdle is non-nil while it runs and closed when it exits
	notifyMu    sync.Mutex
	notifyQueue []func()
	notifyIdle  chan struct{}
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialer replaces the AMQP dialer
func WithDialer(dialer Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialer = dialer
	}
}

// WithTopology sets the topology asserted after every successful connect
func WithTopology(topology Topology) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.topology = &topology
	}
}

// WithConnectRetry sets the total attempts and the fixed delay between them
func WithConnectRetry(attempts int, delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectAttempts = attempts
		cm.connectDelay = delay
	}
}

// WithAutoReconnect toggles reconnection after an unexpected close
func WithAutoReconnect(enabled bool) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.autoReconnect = enabled
	}
}

// WithPublisherConfirms puts the channel in confirm mode
func WithPublisherConfirms(enabled bool) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.confirm = enabled
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight publishes
func WithDrainTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.drainTimeout = timeout
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:             url,
		dialer:          AMQPDialer(DefaultDialTimeout),
		connectDelay:    5 * time.Second,
		connectAttempts: 5,
		autoReconnect:   true,
		drainTimeout:    10 * time.Second,
		logger:          slog.Default(),
		state:           StateDisconnected,
	}

	for _, opt := range options {
		opt(cm)
	}

	cm.topologyManager = NewTopologyManager(cm.logger)
	cm.ctx, cm.cancel = context.WithCancel(context.Background())
	return cm
}

// Connect establishes the connection, making at most the configured number
// of attempts. When every attempt fails the manager stays disconnected and
// the returned error matches ErrMaxRetriesExceeded; callers are expected to
// log it and keep running in degraded mode.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	switch cm.state {
	case StateClosed:
		cm.mu.Unlock()
		return ErrConnectionClosed
	case StateConnected, StateConnecting:
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(cm.ctx, cancel)
	defer stop()

	return cm.connectWithRetry(ctx, "connect", false)
}

func (cm *ConnectionManager) connectWithRetry(ctx context.Context, op string, reconnecting bool) error {
	attempts := 0
	err := reliability.Retry(ctx, reliability.NewFixedDelay(cm.connectDelay, cm.connectAttempts),
		func(attempt int) error {
			attempts = attempt
			if reconnecting {
				cm.notifyReconnecting(attempt)
			}
			cm.logger.Info("connecting to RabbitMQ",
				"url", SanitizeURL(cm.url),
				"attempt", attempt,
				"maxAttempts", cm.connectAttempts)

			err := cm.dial()
			if err != nil {
				cm.logger.Error("RabbitMQ connection attempt failed",
					"attempt", attempt,
					"maxAttempts", cm.connectAttempts,
					"error", err)
				if !IsRetryable(err) {
					return reliability.Permanent(err)
				}
			}
			return err
		},
		reliability.WithOperation(op),
		reliability.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			cm.logger.Info("retrying RabbitMQ connection", "attempt", attempt, "nextRetryIn", delay)
		}),
	)
	if err == nil {
		return nil
	}

	cm.mu.Lock()
	if cm.state != StateClosed {
		cm.state = StateDisconnected
	}
	cm.mu.Unlock()

	connErr := &ConnectionError{
		Op:        op,
		URL:       SanitizeURL(cm.url),
		Err:       err,
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
	cm.logger.Warn("could not connect to RabbitMQ, running in degraded mode",
		"attempts", attempts,
		"error", err)
	return connErr
}

// dial performs one connection attempt: connection, channel, topology.
func (cm *ConnectionManager) dial() error {
	conn, err := cm.dialer(cm.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if cm.confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	cm.mu.Lock()
	if cm.state == StateClosed {
		cm.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return reliability.Permanent(ErrConnectionClosed)
	}

	if cm.topology != nil {
		if err := cm.topologyManager.Apply(ch, *cm.topology); err != nil {
			cm.mu.Unlock()
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cm.conn = conn
	cm.ch = ch
	cm.state = StateConnected
	cm.wg.Add(1)
	cm.mu.Unlock()

	go cm.watch(conn, connClosed, chClosed)

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()
	return nil
}

// watch waits for the connection or channel to close and reconnects
func (cm *ConnectionManager) watch(conn Connection, connClosed, chClosed chan *amqp.Error) {
	defer cm.wg.Done()

	var closeErr *amqp.Error
	select {
	case closeErr = <-connClosed:
	case closeErr = <-chClosed:
	case <-cm.ctx.Done():
		return
	}

	cm.mu.Lock()
	if cm.state == StateClosed || cm.conn != conn {
		cm.mu.Unlock()
		return
	}
	ch := cm.ch
	cm.state = StateDisconnected
	cm.conn = nil
	cm.ch = nil
	cm.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		_ = ch.Close()
	}
	if !conn.IsClosed() {
		_ = conn.Close()
	}

	var err error
	if closeErr != nil {
		err = closeErr
	}
	cm.logger.Error("RabbitMQ connection lost", "error", err)
	cm.notifyDisconnected(err)

	if !cm.autoReconnect {
		return
	}

	cm.mu.Lock()
	if cm.state != StateDisconnected {
		cm.mu.Unlock()
		return
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	if err := cm.connectWithRetry(cm.ctx, "reconnect", true); err != nil && !errors.Is(err, context.Canceled) {
		cm.notifyDisconnected(err)
	}
}

// Channel returns the live channel, or false when not connected
func (cm *ConnectionManager) Channel() (Channel, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.state != StateConnected || cm.ch == nil {
		return nil, false
	}
	return cm.ch, true
}

// IsReady reports whether a channel is available for publishing
func (cm *ConnectionManager) IsReady() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state == StateConnected
}

// State returns the current lifecycle state
func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// Publish sends msg on the shared channel. It returns ErrNotConnected when
// no channel is available. With publisher confirms enabled it waits for the
// broker to confirm the message.
func (cm *ConnectionManager) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	cm.mu.RLock()
	if cm.state != StateConnected || cm.ch == nil {
		cm.mu.RUnlock()
		return ErrNotConnected
	}
	ch := cm.ch
	cm.inFlight.Add(1)
	cm.mu.RUnlock()
	defer cm.inFlight.Done()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: key, Err: err, Timestamp: time.Now()}
	}

	// nil when the channel is not in confirm mode
	if confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: key, Err: err, Timestamp: time.Now()}
	}
	if !acked {
		return &PublishError{Exchange: exchange, RoutingKey: key, Err: ErrPublishNotConfirmed, Timestamp: time.Now()}
	}
	return nil
}

// Close stops reconnecting, waits for in-flight publishes up to the drain
// timeout, then closes the channel and the connection. Close is terminal.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	if cm.state == StateClosed {
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateClosed
	conn, ch := cm.conn, cm.ch
	cm.conn, cm.ch = nil, nil
	cm.mu.Unlock()

	cm.cancel()

	drained := make(chan struct{})
	go func() {
		cm.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cm.drainTimeout):
		cm.logger.Warn("closing with publishes still in flight", "drainTimeout", cm.drainTimeout)
	}

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}

	cm.wg.Wait()
	cm.waitNotifications()
	cm.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.notify(func(l ConnectionStateListener) { l.OnConnected() })
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.notify(func(l ConnectionStateListener) { l.OnDisconnected(err) })
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.notify(func(l ConnectionStateListener) { l.OnReconnecting(attempt) })
}

// notify queues a state change for the listeners registered now. Listeners
// run off the caller's goroutine, one notification at a time, in the order
// the changes happened.
func (cm *ConnectionManager) notify(fn func(ConnectionStateListener)) {
	cm.listenersMu.RLock()
	listeners := make([]ConnectionStateListener, len(cm.stateListeners))
	copy(listeners, cm.stateListeners)
	cm.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	cm.notifyMu.Lock()
	cm.notifyQueue = append(cm.notifyQueue, func() {
		for _, listener := range listeners {
			fn(listener)
		}
	})
	if cm.notifyIdle != nil {
		cm.notifyMu.Unlock()
		return
	}
	idle := make(chan struct{})
	cm.notifyIdle = idle
	cm.notifyMu.Unlock()

	go cm.drainNotifications(idle)
}

func (cm *ConnectionManager) drainNotifications(idle chan struct{}) {
	defer close(idle)
	for {
		cm.notifyMu.Lock()
		if len(cm.notifyQueue) == 0 {
			cm.notifyIdle = nil
			cm.notifyMu.Unlock()
			return
		}
		next := cm.notifyQueue[0]
		cm.notifyQueue[0] = nil
		cm.notifyQueue = cm.notifyQueue[1:]
		cm.notifyMu.Unlock()

		next()
	}
}

// waitNotifications waits, up to the drain timeout, for queued listener
// calls to finish
func (cm *ConnectionManager) waitNotifications() {
	cm.notifyMu.Lock()
	idle := cm.notifyIdle
	cm.notifyMu.Unlock()
	if idle == nil {
		return
	}

	select {
	case <-idle:
	case <-time.After(cm.drainTimeout):
		cm.logger.Warn("closing with state listeners still running", "drainTimeout", cm.drainTimeout)
	}
}
