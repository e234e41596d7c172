package livetranslate

import (
	"strings"

	"github.com/google/uuid"

	"go.aimuz.me/voxbridge/internal/types"
)

// Transcript holds the recognized segments of a session.
//
// At most one interim segment exists and it is always the last one. A new
// interim replaces it in place, and so does its final form. Final segments
// never change.
type Transcript struct {
	segments []types.TranscriptSegment
	finals   int
}

// Apply records seg and returns it as stored, with its ID assigned.
// Empty text is ignored; ok is false in that case.
func (t *Transcript) Apply(seg types.TranscriptSegment) (stored types.TranscriptSegment, ok bool) {
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		return types.TranscriptSegment{}, false
	}
	if seg.Speaker == "" {
		seg.Speaker = types.SpeakerUnknown
	}

	if n := len(t.segments); n > 0 && !t.segments[n-1].IsFinal {
		// Replace the trailing interim, keeping its identity.
		seg.ID = t.segments[n-1].ID
		t.segments[n-1] = seg
	} else {
		seg.ID = uuid.NewString()
		t.segments = append(t.segments, seg)
	}
	if seg.IsFinal {
		t.finals++
	}
	return seg, true
}

// Segments returns a copy of all segments in order.
func (t *Transcript) Segments() []types.TranscriptSegment {
	out := make([]types.TranscriptSegment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Interim returns the pending interim segment, if any.
func (t *Transcript) Interim() (types.TranscriptSegment, bool) {
	if n := len(t.segments); n > 0 && !t.segments[n-1].IsFinal {
		return t.segments[n-1], true
	}
	return types.TranscriptSegment{}, false
}

// DropInterim discards the pending interim segment. A recording that stops
// mid-utterance leaves nothing half-finished behind.
func (t *Transcript) DropInterim() {
	if _, ok := t.Interim(); ok {
		t.segments = t.segments[:len(t.segments)-1]
	}
}

// Finals returns the number of finalized segments.
func (t *Transcript) Finals() int {
	return t.finals
}

// Len returns the number of segments, interim included.
func (t *Transcript) Len() int {
	return len(t.segments)
}

// Reset clears all state.
func (t *Transcript) Reset() {
	t.segments = nil
	t.finals = 0
}
