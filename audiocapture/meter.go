package audiocapture

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Decibel range mapped onto byte bins, matching common analyser defaults.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// FrequencyAnalyser exposes frequency-domain energy as byte bins (0..255).
type FrequencyAnalyser interface {
	BinCount() int
	ByteFrequencyData(dst []byte)
}

// Level returns the mean bin magnitude divided by the maximum bin value.
func Level(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}

// LevelMeter samples an analyser at a fixed cadence and keeps the latest level.
// It only observes; it never touches the capture path.
type LevelMeter struct {
	analyser FrequencyAnalyser
	interval time.Duration
	onLevel  func(float64)

	level atomic.Uint64 // math.Float64bits

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewLevelMeter creates a meter. onLevel may be nil.
func NewLevelMeter(a FrequencyAnalyser, interval time.Duration, onLevel func(float64)) *LevelMeter {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &LevelMeter{
		analyser: a,
		interval: interval,
		onLevel:  onLevel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sampling. Calling it again has no effect.
func (m *LevelMeter) Start() {
	m.startOnce.Do(func() { go m.run() })
}

// Stop cancels sampling and resets the level to zero. Idempotent.
func (m *LevelMeter) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
		m.level.Store(0)
	})
}

// Level returns the latest level in [0, 1].
func (m *LevelMeter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *LevelMeter) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	bins := make([]byte, m.analyser.BinCount())
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.analyser.ByteFrequencyData(bins)
			l := Level(bins)
			m.level.Store(math.Float64bits(l))
			if m.onLevel != nil {
				m.onLevel(l)
			}
		}
	}
}

// FFTAnalyser computes frequency bins over the most recent window of samples.
type FFTAnalyser struct {
	size   int
	buf    *RingBuffer
	window []float64
}

// NewFFTAnalyser creates an analyser with the given window size (power of two
// is not required). It yields size/2 bins.
func NewFFTAnalyser(size int) *FFTAnalyser {
	if size < 2 {
		size = 256
	}
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return &FFTAnalyser{
		size:   size,
		buf:    NewRingBuffer(size),
		window: w,
	}
}

// Write feeds mono samples.
func (a *FFTAnalyser) Write(samples []float32) {
	a.buf.Write(samples)
}

// BinCount returns the number of frequency bins.
func (a *FFTAnalyser) BinCount() int {
	return a.size / 2
}

// ByteFrequencyData fills dst with bin magnitudes scaled to 0..255.
// Fewer samples than the window are zero-padded.
func (a *FFTAnalyser) ByteFrequencyData(dst []byte) {
	samples := a.buf.Read(a.size)
	n := a.size
	bins := min(len(dst), n/2)

	for k := 0; k < bins; k++ {
		var re, im float64
		for i, s := range samples {
			x := float64(s) * a.window[i]
			angle := -2 * math.Pi * float64(k*i) / float64(n)
			re += x * math.Cos(angle)
			im += x * math.Sin(angle)
		}
		mag := math.Hypot(re, im) / float64(n)
		dst[k] = toByte(mag)
	}
	for k := bins; k < len(dst); k++ {
		dst[k] = 0
	}
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}

// RingBuffer keeps the most recent samples for the level analyser.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []float32
	writePos int
	size     int
	filled   int // How many samples have been written (up to size)
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		data: make([]float32, size),
		size: size,
	}
}

// Write adds samples to the buffer.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range samples {
		rb.data[rb.writePos] = s
		rb.writePos = (rb.writePos + 1) % rb.size
		if rb.filled < rb.size {
			rb.filled++
		}
	}
}

// Read returns the last n samples from the buffer.
func (rb *RingBuffer) Read(n int) []float32 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.filled {
		n = rb.filled
	}
	if n == 0 {
		return nil
	}

	result := make([]float32, n)
	startPos := (rb.writePos - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.data[(startPos+i)%rb.size]
	}
	return result
}
