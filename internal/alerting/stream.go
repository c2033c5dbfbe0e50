package alerting

import (
	"sync"
	"sync/atomic"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
)

const (
	// streamBufferSize is the capacity of the async alert channel.
	// Alerts are dropped if the buffer is full to avoid blocking callers.
	streamBufferSize = 1000
)

// AlertHandler receives emitted alerts.
type AlertHandler func(a *alert.Alert)

// AlertStream is an async fan-out for emitted alerts. Publish is
// non-blocking: alerts go to a buffered channel drained by a worker
// goroutine, so the evaluation path is never blocked by subscribers.
type AlertStream struct {
	log      logger.Logger
	handlers []AlertHandler
	mu       sync.RWMutex
	alertCh  chan *alert.Alert
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// NewAlertStream creates a stream and starts its worker.
func NewAlertStream(log logger.Logger) *AlertStream {
	if log == nil {
		log = logger.NewNop()
	}
	s := &AlertStream{
		log:     log.With(logger.Component("stream")),
		alertCh: make(chan *alert.Alert, streamBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.processLoop()
	return s
}

// Subscribe registers a handler.
func (s *AlertStream) Subscribe(handler AlertHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Publish enqueues a copy of a. If the buffer is full the alert is dropped.
// Alerts published after Stop are discarded.
func (s *AlertStream) Publish(a alert.Alert) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	cp := a.Clone()
	select {
	case s.alertCh <- &cp:
	default:
		s.dropped.Add(1)
		s.log.Warn("alert stream buffer full, dropping alert",
			logger.String("alert_id", a.ID),
			logger.String("rule_id", a.RuleID.String()))
	}
}

// Dropped returns the number of alerts dropped on overflow.
func (s *AlertStream) Dropped() int64 {
	return s.dropped.Load()
}

// Stop drains queued alerts and waits for the worker to exit. Safe to call
// multiple times.
func (s *AlertStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *AlertStream) processLoop() {
	defer close(s.doneCh)
	for {
		select {
		case a := <-s.alertCh:
			s.dispatch(a)
		case <-s.stopCh:
			for {
				select {
				case a := <-s.alertCh:
					s.dispatch(a)
				default:
					return
				}
			}
		}
	}
}

func (s *AlertStream) dispatch(a *alert.Alert) {
	s.mu.RLock()
	handlers := make([]AlertHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		s.safeCall(handler, a)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the worker.
func (s *AlertStream) safeCall(handler AlertHandler, a *alert.Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("alert handler panicked",
				logger.String("alert_id", a.ID),
				logger.Error(errors.FromPanic(r)))
		}
	}()
	handler(a)
}
