package app

import (
	"log/slog"
	"sync"
	"time"
)

const defaultLevelInterval = 100 * time.Millisecond

// levelEmitter forwards meter readings at most once per interval.
type levelEmitter struct {
	emit     func(name string, data any)
	interval time.Duration

	mu      sync.Mutex
	last    time.Time
	seq     int
	stopped bool
}

func newLevelEmitter(emit func(name string, data any), interval time.Duration) *levelEmitter {
	if interval <= 0 {
		interval = defaultLevelInterval
	}
	return &levelEmitter{emit: emit, interval: interval}
}

// update is the capture's level callback.
func (l *levelEmitter) update(level float64) {
	now := time.Now()

	l.mu.Lock()
	if l.stopped || now.Sub(l.last) < l.interval {
		l.mu.Unlock()
		return
	}
	l.last = now
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	l.emit(EventLevel, Level{Level: level, Timestamp: now.UnixMilli(), Seq: seq})

	if seq%100 == 0 {
		slog.Debug("emitted level updates", "count", seq)
	}
}

// reset drops the meter to zero once the mic is off.
func (l *levelEmitter) reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.last = time.Time{}
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	l.emit(EventLevel, Level{Timestamp: time.Now().UnixMilli(), Seq: seq})
}

func (l *levelEmitter) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}
