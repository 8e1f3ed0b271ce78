package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectivityChannelBufferSize is the buffer size for connectivity
// subscriber channels
const ConnectivityChannelBufferSize = 10

// Monitor probes server reachability and reports online/offline
// transitions. An offline-to-online transition fires the registered
// callback, which is how queued mutations get drained as soon as the
// network returns.
type Monitor struct {
	remote   RemoteAPI
	interval time.Duration
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	online      bool
	started     bool
	stopped     bool
	onOnline    func()
	subscribers []chan bool

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a connectivity monitor probing at the given interval
func NewMonitor(remote RemoteAPI, interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		remote:   remote,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// IsOnline reports the last observed reachability
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline registers the callback fired on each offline-to-online
// transition. Register before Start.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// Start probes immediately, then on every tick, until Stop
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.probeLoop()
}

func (m *Monitor) probeLoop() {
	defer close(m.done)

	m.probe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	err := m.remote.Ping(ctx)
	m.setOnline(err == nil)
}

// ReportOffline records an observed network failure without waiting for the
// next probe. The sync engine calls this when uploads start timing out.
func (m *Monitor) ReportOffline() {
	m.setOnline(false)
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	callback := m.onOnline
	var subscribers []chan bool
	if changed {
		subscribers = make([]chan bool, len(m.subscribers))
		copy(subscribers, m.subscribers)
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Infow("Connectivity restored")
	} else {
		m.logger.Warnw("Connectivity lost")
	}

	for _, ch := range subscribers {
		select {
		case ch <- online:
		default:
		}
	}

	if online && callback != nil {
		callback()
	}
}

// Subscribe returns a channel receiving reachability transitions.
// The caller is responsible for calling Unsubscribe when done.
func (m *Monitor) Subscribe() chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, ConnectivityChannelBufferSize)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a reachability subscriber channel
func (m *Monitor) Unsubscribe(ch chan bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// Stop halts probing. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	close(m.stop)
	if started {
		<-m.done
	}
}
