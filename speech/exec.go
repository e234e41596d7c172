package speech

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ExecConfig configures an ExecSynthesizer.
type ExecConfig struct {
	// Command is the program and arguments. "{voice}", "{lang}" and "{text}"
	// are substituted. Default: espeak-ng -v {voice} {text}
	Command []string
	Voices  []Voice
}

// ExecSynthesizer speaks by running an external TTS program.
// Pause and Resume are no-ops.
type ExecSynthesizer struct {
	command []string
	voices  []Voice

	mu  sync.Mutex
	cur *run
}

type run struct {
	cmd      *exec.Cmd
	canceled bool
}

// NewExecSynthesizer creates a synthesizer.
func NewExecSynthesizer(cfg ExecConfig) *ExecSynthesizer {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"espeak-ng", "-v", "{voice}", "{text}"}
	}
	return &ExecSynthesizer{command: cfg.Command, voices: cfg.Voices}
}

// Available reports whether the TTS program is installed.
func (s *ExecSynthesizer) Available() bool {
	_, err := exec.LookPath(s.command[0])
	return err == nil
}

func (s *ExecSynthesizer) Voices() []Voice { return s.voices }

func (s *ExecSynthesizer) Speak(u Utterance, onEnd func(EndReason, error)) error {
	voice := u.Lang
	if u.Voice != nil {
		voice = u.Voice.Name
	}
	r := strings.NewReplacer("{voice}", voice, "{lang}", u.Lang, "{text}", u.Text)
	args := make([]string, len(s.command))
	for i, a := range s.command {
		args[i] = r.Replace(a)
	}

	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	cur := &run{cmd: cmd}
	s.mu.Lock()
	s.cur = cur
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		canceled := cur.canceled
		if s.cur == cur {
			s.cur = nil
		}
		s.mu.Unlock()

		switch {
		case err == nil:
			onEnd(EndCompleted, nil)
		case canceled:
			onEnd(EndInterrupted, nil)
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				slog.Debug("tts exited", "code", exitErr.ExitCode())
			}
			onEnd(EndFailed, err)
		}
	}()
	return nil
}

func (s *ExecSynthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.canceled = true
	_ = s.cur.cmd.Process.Kill()
}

func (s *ExecSynthesizer) Pause()  {}
func (s *ExecSynthesizer) Resume() {}

func (s *ExecSynthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}
