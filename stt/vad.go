package stt

import (
	"math"
	"time"
)

// VADConfig tunes voice activity detection for batch chunking.
type VADConfig struct {
	Threshold float32       // RMS above this counts as speech
	MinSpeech time.Duration // Shorter bursts never end an utterance
	Silence   time.Duration // Quiet needed to end an utterance
}

// DefaultVADConfig returns thresholds tuned for close-talking microphones.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold: 0.015,
		MinSpeech: 300 * time.Millisecond,
		Silence:   400 * time.Millisecond,
	}
}

// VADEvent is what a block of samples meant for the current utterance.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechContinue
	VADSpeechEnd
)

// VAD detects utterance boundaries by signal energy. Time is counted in
// samples, so results do not depend on how fast audio arrives.
type VAD struct {
	threshold float32
	minSpeech int
	silence   int

	inSpeech   bool
	speechLen  int // samples since speech started
	silenceLen int // quiet samples since the last loud block
}

// NewVAD creates a detector for audio at sampleRate.
func NewVAD(cfg VADConfig, sampleRate int) *VAD {
	def := DefaultVADConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinSpeech == 0 {
		cfg.MinSpeech = def.MinSpeech
	}
	if cfg.Silence == 0 {
		cfg.Silence = def.Silence
	}
	return &VAD{
		threshold: cfg.Threshold,
		minSpeech: samplesFor(cfg.MinSpeech, sampleRate),
		silence:   samplesFor(cfg.Silence, sampleRate),
	}
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Process classifies the next block of samples.
func (v *VAD) Process(samples []float32) VADEvent {
	loud := calculateRMS(samples) > v.threshold

	if !v.inSpeech {
		if !loud {
			return VADNone
		}
		v.inSpeech = true
		v.speechLen = len(samples)
		v.silenceLen = 0
		return VADSpeechStart
	}

	v.speechLen += len(samples)
	if loud {
		v.silenceLen = 0
		return VADSpeechContinue
	}

	v.silenceLen += len(samples)
	if v.silenceLen >= v.silence && v.speechLen-v.silenceLen >= v.minSpeech {
		v.inSpeech = false
		return VADSpeechEnd
	}
	if v.silenceLen >= v.silence {
		// A click or cough; forget it.
		v.inSpeech = false
	}
	return VADNone
}

// InSpeech reports whether an utterance is in progress.
func (v *VAD) InSpeech() bool {
	return v.inSpeech
}

// Reset forgets any utterance in progress.
func (v *VAD) Reset() {
	v.inSpeech = false
	v.speechLen = 0
	v.silenceLen = 0
}

// calculateRMS calculates the root mean square of audio samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
