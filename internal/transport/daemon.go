package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/tidewire/tidewire/config"
	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/observability"
	"github.com/tidewire/tidewire/internal/wire"
	"github.com/tidewire/tidewire/lib/async"
)

const (
	daemonWriteTimeout        = 5 * time.Second
	daemonAckTimeout          = 10 * time.Second
	daemonMaxReconnectWait    = 30 * time.Second
	daemonReadLimit           = 4 * 1024 * 1024
	daemonDispatchQueueDepth  = 1024
	daemonDefaultSubBatchSize = 100
)

// Daemon maintains the websocket session to the local communication daemon
// with automatic reconnection. Inbound events are handed to the session's
// handler on a single dispatch worker so event order is preserved end to end.
type Daemon struct {
	cfg     config.DaemonConfig
	handler wire.EventHandler

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	limiter  *rate.Limiter
	msgIDGen atomic.Uint64

	waiters  map[uint64]chan frame
	waiterMu sync.Mutex

	subscriptions map[wire.CorrelationID]wire.SubscriptionEntry
	subsMu        sync.Mutex

	dispatch  *async.Pool
	errorChan chan error

	ready     chan struct{}
	readyOnce sync.Once
}

// Dial connects to the daemon and blocks until the initial websocket session
// is established or the handshake timeout elapses. The connection keeps
// re-dialing in the background after transient faults.
func Dial(ctx context.Context, cfg config.DaemonConfig, handler wire.EventHandler) (*Daemon, error) {
	if handler == nil {
		return nil, errs.New("transport", errs.CodeInvalidState,
			errs.WithMessage("event handler required"))
	}
	interval := cfg.SubscribeInterval
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	dispatch, err := async.NewPool(1, daemonDispatchQueueDepth)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}

	linkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &Daemon{
		cfg:           cfg,
		handler:       handler,
		ctx:           linkCtx,
		cancel:        cancel,
		conn:          nil,
		connMu:        sync.RWMutex{},
		limiter:       rate.NewLimiter(limit, 1),
		msgIDGen:      atomic.Uint64{},
		waiters:       make(map[uint64]chan frame),
		waiterMu:      sync.Mutex{},
		subscriptions: make(map[wire.CorrelationID]wire.SubscriptionEntry),
		subsMu:        sync.Mutex{},
		dispatch:      dispatch,
		errorChan:     make(chan error, 16),
		ready:         make(chan struct{}),
		readyOnce:     sync.Once{},
	}

	go func() {
		if err := d.connect(); err != nil && !errors.Is(err, context.Canceled) {
			d.reportError(fmt.Errorf("daemon connection loop: %w", err))
		}
	}()

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = daemonAckTimeout
	}
	select {
	case <-d.ready:
		return d, nil
	case <-time.After(handshake):
		d.cancel()
		d.dispatch.Close()
		return nil, errs.New("transport", errs.CodeTimeout,
			errs.WithMessage(fmt.Sprintf("handshake with %s timed out", cfg.URL)))
	case <-ctx.Done():
		d.cancel()
		d.dispatch.Close()
		return nil, fmt.Errorf("dial daemon: %w", ctx.Err())
	}
}

// Errors exposes asynchronous transport faults: reconnects, rejected frames,
// handler failures. The channel is never closed; reads should select against
// the caller's shutdown signal.
func (d *Daemon) Errors() <-chan error { return d.errorChan }

// OpenService asks the daemon to open the named service and waits for the
// acknowledgement.
func (d *Daemon) OpenService(ctx context.Context, service string) (bool, error) {
	ack, err := d.sendAwait(ctx, frame{
		Op:      opOpenService,
		Service: service,
	})
	if err != nil {
		return false, fmt.Errorf("open service %s: %w", service, err)
	}
	return ack.OK, nil
}

// SendRequest encodes and ships one request frame. The response arrives later
// through the event handler under the same correlation id.
func (d *Daemon) SendRequest(ctx context.Context, req wire.Request, corr wire.CorrelationID) error {
	if req == nil {
		return errs.New("transport", errs.CodeRequestInvalid,
			errs.WithMessage("request must not be nil"),
			errs.WithCorrelation(corr.String()))
	}
	err := d.writeFrame(ctx, frame{
		Op:          opRequest,
		Service:     req.Service(),
		Operation:   req.Operation(),
		Correlation: corr.String(),
		Body:        fromWireElement(req.Body()),
	})
	if err != nil {
		return fmt.Errorf("send request %s/%s: %w", req.Service(), req.Operation(), err)
	}
	return nil
}

// Subscribe ships the new-subscription batch. Entries are recorded so they can
// be replayed if the websocket session drops and reconnects.
func (d *Daemon) Subscribe(ctx context.Context, entries []wire.SubscriptionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	d.remember(entries)
	return d.sendEntryBatches(ctx, opSubscribe, entries)
}

// Resubscribe ships the modified-subscription batch, replacing the replay
// snapshot for each correlation.
func (d *Daemon) Resubscribe(ctx context.Context, entries []wire.SubscriptionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	d.remember(entries)
	return d.sendEntryBatches(ctx, opResubscribe, entries)
}

// Cancel aborts the in-flight operation or subscription for the correlation.
func (d *Daemon) Cancel(ctx context.Context, corr wire.CorrelationID) error {
	d.subsMu.Lock()
	delete(d.subscriptions, corr)
	d.subsMu.Unlock()
	if err := d.writeFrame(ctx, frame{Op: opCancel, Correlation: corr.String()}); err != nil {
		return fmt.Errorf("cancel %s: %w", corr, err)
	}
	return nil
}

// Close tears the link down and waits for queued events to drain into the
// handler or the context to expire.
func (d *Daemon) Close(ctx context.Context) error {
	d.cancel()
	var closeErr error
	d.connMu.Lock()
	if d.conn != nil {
		if err := d.conn.Close(websocket.StatusNormalClosure, "shutdown"); err != nil &&
			!errors.Is(err, net.ErrClosed) {
			closeErr = fmt.Errorf("close websocket: %w", err)
		}
		d.conn = nil
	}
	d.connMu.Unlock()
	d.failWaiters()
	var drainErr error
	if err := d.dispatch.Shutdown(ctx); err != nil {
		drainErr = fmt.Errorf("drain dispatch: %w", err)
	}
	return observability.AggregateErrors("transport", []error{closeErr, drainErr},
		observability.Field{Key: "url", Value: d.cfg.URL})
}

func (d *Daemon) remember(entries []wire.SubscriptionEntry) {
	d.subsMu.Lock()
	for _, e := range entries {
		d.subscriptions[e.Correlation] = e
	}
	d.subsMu.Unlock()
}

func (d *Daemon) sendEntryBatches(ctx context.Context, op string, entries []wire.SubscriptionEntry) error {
	size := d.cfg.MaxEntriesPerFrame
	if size <= 0 {
		size = daemonDefaultSubBatchSize
	}
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace %s batch: %w", op, err)
		}
		if err := d.writeFrame(ctx, frame{Op: op, Entries: toEntries(entries[start:end])}); err != nil {
			return fmt.Errorf("send %s batch: %w", op, err)
		}
	}
	return nil
}

func (d *Daemon) writeFrame(ctx context.Context, f frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	d.connMu.RLock()
	conn := d.conn
	d.connMu.RUnlock()
	if conn == nil {
		return errs.New("transport", errs.CodeNetwork,
			errs.WithMessage("daemon link down"))
	}
	writeCtx, cancel := context.WithTimeout(ctx, daemonWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New("transport", errs.CodeNetwork,
			errs.WithMessage("write frame"), errs.WithCause(err))
	}
	return nil
}

// sendAwait writes a frame tagged with a fresh id and blocks for the matching
// ack. A reconnect while waiting surfaces as a network error.
func (d *Daemon) sendAwait(ctx context.Context, f frame) (frame, error) {
	f.ID = d.msgIDGen.Add(1)
	ch := make(chan frame, 1)
	d.waiterMu.Lock()
	d.waiters[f.ID] = ch
	d.waiterMu.Unlock()
	defer func() {
		d.waiterMu.Lock()
		delete(d.waiters, f.ID)
		d.waiterMu.Unlock()
	}()

	if err := d.writeFrame(ctx, f); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(daemonAckTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return frame{}, errs.New("transport", errs.CodeNetwork,
				errs.WithMessage("link dropped before ack"))
		}
		return ack, nil
	case <-timer.C:
		return frame{}, errs.New("transport", errs.CodeTimeout,
			errs.WithMessage("ack timed out"))
	case <-ctx.Done():
		return frame{}, fmt.Errorf("await ack: %w", ctx.Err())
	case <-d.ctx.Done():
		return frame{}, errs.New("transport", errs.CodeUnavailable,
			errs.WithMessage("transport closed"))
	}
}

// connect keeps a single websocket session alive until the transport is
// closed, replaying the subscription snapshot after each successful re-dial.
func (d *Daemon) connect() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = daemonMaxReconnectWait

	for {
		select {
		case <-d.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(d.ctx, d.cfg.URL, nil)
		if err != nil {
			d.reportError(fmt.Errorf("dial %s: %w", d.cfg.URL, err))
			if err := d.sleepBackoff(backoffCfg); err != nil {
				return err
			}
			continue
		}
		conn.SetReadLimit(daemonReadLimit)

		d.connMu.Lock()
		d.conn = conn
		d.connMu.Unlock()

		d.readyOnce.Do(func() { close(d.ready) })
		backoffCfg.Reset()

		if err := d.replaySubscriptions(); err != nil {
			d.reportError(fmt.Errorf("replay subscriptions: %w", err))
		}

		readErr := d.readLoop(conn)

		d.connMu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		d.failWaiters()

		if errors.Is(readErr, context.Canceled) {
			return context.Canceled
		}
		if readErr != nil {
			d.reportError(fmt.Errorf("daemon session: %w", readErr))
		}
		if err := d.sleepBackoff(backoffCfg); err != nil {
			return err
		}
	}
}

func (d *Daemon) sleepBackoff(cfg *backoff.ExponentialBackOff) error {
	sleep := cfg.NextBackOff()
	if sleep == backoff.Stop {
		sleep = daemonMaxReconnectWait
	}
	select {
	case <-d.ctx.Done():
		return context.Canceled
	case <-time.After(sleep):
		return nil
	}
}

func (d *Daemon) replaySubscriptions() error {
	d.subsMu.Lock()
	entries := make([]wire.SubscriptionEntry, 0, len(d.subscriptions))
	for _, e := range d.subscriptions {
		entries = append(entries, e)
	}
	d.subsMu.Unlock()
	if len(entries) == 0 {
		return nil
	}
	return d.sendEntryBatches(d.ctx, opResubscribe, entries)
}

func (d *Daemon) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(d.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure {
					return context.Canceled
				}
				return fmt.Errorf("remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			d.reportError(err)
			continue
		}

		switch f.Op {
		case opAck:
			d.deliverAck(f)
		case opEvent:
			d.dispatchEvent(f)
		default:
			observability.Log().Debug("unknown daemon frame",
				observability.Field{Key: "op", Value: f.Op})
		}
	}
}

func (d *Daemon) deliverAck(f frame) {
	d.waiterMu.Lock()
	ch, ok := d.waiters[f.ID]
	if ok {
		delete(d.waiters, f.ID)
	}
	d.waiterMu.Unlock()
	if ok {
		ch <- f
	}
}

// dispatchEvent hands the event to the single-worker pool. Submission order is
// read order, and the lone worker preserves it through the handler.
func (d *Daemon) dispatchEvent(f frame) {
	evt := toWireEvent(f.Event)
	err := d.dispatch.Submit(d.ctx, func(context.Context) error {
		if err := d.handler.ProcessEvent(evt); err != nil {
			d.reportError(fmt.Errorf("process %s event: %w", evt.Kind, err))
		}
		return nil
	})
	if err != nil {
		d.reportError(fmt.Errorf("dispatch %s event: %w", evt.Kind, err))
	}
}

func (d *Daemon) failWaiters() {
	d.waiterMu.Lock()
	for id, ch := range d.waiters {
		close(ch)
		delete(d.waiters, id)
	}
	d.waiterMu.Unlock()
}

func (d *Daemon) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case d.errorChan <- err:
	default:
		observability.Log().Warn("transport error dropped",
			observability.Field{Key: "error", Value: err.Error()})
	}
}
