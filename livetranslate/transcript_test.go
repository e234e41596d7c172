package livetranslate

import (
	"testing"

	"go.aimuz.me/voxbridge/internal/types"
)

func TestTranscript_SingleSegment(t *testing.T) {
	var tr Transcript

	seg, ok := tr.Apply(types.TranscriptSegment{Text: " Hello world ", IsFinal: true})
	if !ok {
		t.Fatal("Apply() ignored a final segment")
	}
	if seg.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", seg.Text, "Hello world")
	}
	if seg.ID == "" {
		t.Error("ID should not be empty")
	}
	if seg.Speaker != types.SpeakerUnknown {
		t.Errorf("Speaker = %q, want unknown", seg.Speaker)
	}
	if tr.Finals() != 1 || tr.Len() != 1 {
		t.Errorf("Finals() = %d, Len() = %d", tr.Finals(), tr.Len())
	}
}

func TestTranscript_InterimSequence(t *testing.T) {
	var tr Transcript

	sequence := []struct {
		name       string
		text       string
		final      bool
		wantLen    int
		wantFinals int
		wantSameID bool // same ID as the previous step
	}{
		{"1. first interim", "wh", false, 1, 0, false},
		{"2. interim replaces interim", "where does", false, 1, 0, true},
		{"3. final replaces interim", "where does it hurt", true, 1, 1, true},
		{"4. next interim appends", "my", false, 2, 1, false},
		{"5. blank interim ignored", "  ", false, 2, 1, true},
		{"6. final replaces interim", "my chest", true, 2, 2, true},
		{"7. final appends after final", "since yesterday", true, 3, 3, false},
	}

	var prevID string
	for _, step := range sequence {
		t.Run(step.name, func(t *testing.T) {
			seg, ok := tr.Apply(types.TranscriptSegment{Text: step.text, IsFinal: step.final})
			id := prevID
			if ok {
				id = seg.ID
			}
			if tr.Len() != step.wantLen {
				t.Errorf("Len() = %d, want %d", tr.Len(), step.wantLen)
			}
			if tr.Finals() != step.wantFinals {
				t.Errorf("Finals() = %d, want %d", tr.Finals(), step.wantFinals)
			}
			if got := id == prevID; got != step.wantSameID {
				t.Errorf("kept ID = %v, want %v", got, step.wantSameID)
			}
			prevID = id
		})
	}

	segs := tr.Segments()
	want := []string{"where does it hurt", "my chest", "since yesterday"}
	for i, w := range want {
		if segs[i].Text != w || !segs[i].IsFinal {
			t.Errorf("segment %d = %+v, want final %q", i, segs[i], w)
		}
	}
}

func TestTranscript_DropInterimAndReset(t *testing.T) {
	var tr Transcript
	tr.Apply(types.TranscriptSegment{Text: "hello", IsFinal: true})
	tr.Apply(types.TranscriptSegment{Text: "wor", IsFinal: false})

	if _, ok := tr.Interim(); !ok {
		t.Fatal("Interim() = false with a pending interim")
	}
	tr.DropInterim()
	if _, ok := tr.Interim(); ok || tr.Len() != 1 {
		t.Errorf("after DropInterim: Len() = %d", tr.Len())
	}

	tr.Reset()
	if tr.Len() != 0 || tr.Finals() != 0 || len(tr.Segments()) != 0 {
		t.Error("Reset() left state behind")
	}
}
