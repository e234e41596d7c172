package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.aimuz.me/voxbridge/lang"
)

// WhisperLocal transcribes chunks on-device with the whisper.cpp CLI.
type WhisperLocal struct {
	modelPath string
	binPath   string
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelPath string // ggml model file
	BinPath   string // Optional, looked up on PATH when empty
}

// NewWhisperLocal creates a local transcriber.
func NewWhisperLocal(cfg WhisperLocalConfig) *WhisperLocal {
	w := &WhisperLocal{
		modelPath: cfg.ModelPath,
		binPath:   cfg.BinPath,
	}
	if w.binPath == "" {
		w.binPath = findWhisperBinary()
	}
	return w
}

// Available reports whether both the binary and the model exist.
func (w *WhisperLocal) Available() bool {
	if w.binPath == "" || w.modelPath == "" {
		return false
	}
	if _, err := os.Stat(w.modelPath); err != nil {
		return false
	}
	return true
}

// Transcribe runs whisper.cpp over wav.
func (w *WhisperLocal) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if !w.Available() {
		return "", fmt.Errorf("whisper.cpp not available: binary %q, model %q", w.binPath, w.modelPath)
	}

	f, err := os.CreateTemp("", "voxbridge-*.wav")
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	audioPath := f.Name()
	defer os.Remove(audioPath)

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj", // JSON to stdout
		"--no-prints",
	}
	if base := lang.Base(language); base != "" {
		args = append(args, "-l", base)
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper-cpp failed: %w, stderr: %s", err, stderr.String())
	}

	var out whisperCppOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		// Older builds print plain text.
		return strings.TrimSpace(stdout.String()), nil
	}

	var sb strings.Builder
	for _, seg := range out.Transcription {
		sb.WriteString(seg.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func findWhisperBinary() string {
	// whisper-cli is the Homebrew name
	names := []string{"whisper-cli", "whisper-cpp", "whisper"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
	}
	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// whisperCppOutput represents the JSON output from whisper.cpp.
type whisperCppOutput struct {
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}
