package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/internal/app"
	"go.aimuz.me/voxbridge/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a live session from raw PCM audio",
	Long: `Run a live interpreter session. Audio is read as signed 16-bit little-endian
PCM from a file or stdin, for example:

  arecord -f S16_LE -r 16000 -c 1 -t raw | voxbridge run --input en-US --output es`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func init() {
	runCmd.Flags().StringP("file", "f", "-", "PCM source file, - for stdin")
	runCmd.Flags().Int("rate", 16000, "sample rate of the PCM source")
	runCmd.Flags().Int("channels", 1, "channel count of the PCM source (1 or 2)")
	runCmd.Flags().Bool("realtime", false, "pace a file source at playback speed")
	runCmd.Flags().Bool("json", false, "print events as JSON lines")
	runCmd.Flags().Duration("status", 0, "log the session status at this interval")
}

func runLive(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	rate, _ := cmd.Flags().GetInt("rate")
	channels, _ := cmd.Flags().GetInt("channels")
	realtime, _ := cmd.Flags().GetBool("realtime")
	asJSON, _ := cmd.Flags().GetBool("json")
	statusEvery, _ := cmd.Flags().GetDuration("status")

	var src io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open audio: %w", err)
		}
		defer f.Close()
		src = f
	} else {
		realtime = false // a live pipe paces itself
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(cmd.OutOrStdout(), asJSON)
	svc := app.New(version, cfg, out)
	defer svc.Shutdown()

	device := audiocapture.NewReaderDevice(src, rate, channels, audiocapture.WithRealtime(realtime))
	if err := svc.Init(ctx, device); err != nil {
		// The session keeps a banner up; translation will be degraded.
		slog.Error("initialize", "error", err)
	}
	if err := svc.ToggleMic(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-out.finished:
		}
		return nil
	})
	if statusEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-out.finished:
					return nil
				case <-ticker.C:
					st := svc.Status()
					slog.Info("status",
						"mic", st.MicState,
						"strategy", st.STTStrategy,
						"transcripts", st.TranscriptCount,
						"translations", st.TranslationCount,
						"queue", st.QueueLength)
				}
			}
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Let queued translations land before shutting down.
	drain(ctx, svc, 10*time.Second)
	st := svc.Status()
	slog.Info("session finished", "transcripts", st.TranscriptCount, "translations", st.TranslationCount)
	return nil
}

func drain(ctx context.Context, svc *app.Service, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for svc.Status().QueueLength > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

var (
	sourceStyle   = lipgloss.NewStyle().Faint(true)
	patientStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00afaf")).Bold(true)
	providerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8800")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#d70000"))
)

// printer writes session events to the terminal and notices when recording
// has ended on its own.
type printer struct {
	w    io.Writer
	json bool
	enc  *json.Encoder

	mu       sync.Mutex
	wasOn    bool
	once     sync.Once
	finished chan struct{}
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON, enc: json.NewEncoder(w), finished: make(chan struct{})}
}

func (p *printer) Emit(name string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name == app.EventMicState {
		switch data {
		case types.MicOn.String():
			p.wasOn = true
		case types.MicOff.String():
			if p.wasOn {
				p.once.Do(func() { close(p.finished) })
			}
		}
	}

	if p.json {
		if name == app.EventLevel {
			return
		}
		p.enc.Encode(struct {
			Event string `json:"event"`
			Data  any    `json:"data,omitempty"`
		}{name, data})
		return
	}

	switch name {
	case app.EventTranscript:
		seg := data.(types.TranscriptSegment)
		if seg.IsFinal {
			fmt.Fprintln(p.w, sourceStyle.Render("› "+seg.Text))
		}
	case app.EventTranslation:
		seg := data.(types.TranslationSegment)
		fmt.Fprintln(p.w, speakerStyle(seg).Render(seg.Text))
	case app.EventBanner:
		b := data.(types.Banner)
		switch {
		case b.Message == "":
		case b.Kind == types.BannerError:
			slog.Error(b.Message)
		default:
			slog.Info(b.Message)
		}
	case app.EventTranscription:
		st := data.(app.TranscriptionState)
		slog.Debug("transcription", "state", st.State, "strategy", st.Strategy)
	}
}

func speakerStyle(seg types.TranslationSegment) lipgloss.Style {
	switch {
	case seg.Degraded:
		return failedStyle
	case seg.Speaker == types.SpeakerPatient:
		return patientStyle
	case seg.Speaker == types.SpeakerProvider:
		return providerStyle
	default:
		return lipgloss.NewStyle()
	}
}
