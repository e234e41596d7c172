package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/llm"
)

// mockCompleter implements llm.Completer for testing.
type mockCompleter struct {
	response string
	usage    types.Usage
	err      error

	got []llm.Message
}

func (m *mockCompleter) Complete(_ context.Context, msgs []llm.Message) (string, types.Usage, error) {
	m.got = msgs
	return m.response, m.usage, m.err
}

func TestBuildMessages(t *testing.T) {
	req := Request{Text: "Where does it hurt?", InputLanguage: "en-US", OutputLanguage: "es"}

	tests := []struct {
		name         string
		style        PromptStyle
		wantContains []string
	}{
		{"json style", StyleJSON, []string{"JSON array", `"speaker"`, "Where does it hurt?", "into Spanish"}},
		{"plain style", StylePlain, []string{"ONLY the translated text", `"Where does it hurt?"`, "to Spanish"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := buildMessages(tt.style, req)
			if len(msgs) != 2 {
				t.Fatalf("got %d messages, want 2", len(msgs))
			}
			if msgs[0].Role != "system" || msgs[0].Content != systemPrompt {
				t.Errorf("system message = %+v", msgs[0])
			}
			if msgs[1].Role != "user" {
				t.Errorf("second message role = %q", msgs[1].Role)
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(msgs[1].Content, want) {
					t.Errorf("user message missing %q:\n%s", want, msgs[1].Content)
				}
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		style       PromptStyle
		raw         string
		wantText    string
		wantSpeaker types.Speaker
	}{
		{"json array", StyleJSON, `[{"speaker":"patient","text":"Me duele el pecho."}]`, "Me duele el pecho.", types.SpeakerPatient},
		{"json fenced", StyleJSON, "```json\n[{\"speaker\":\"provider\",\"text\":\"Respire hondo.\"}]\n```", "Respire hondo.", types.SpeakerProvider},
		{"json odd speaker", StyleJSON, `[{"speaker":"nurse","text":"hola"}]`, "hola", types.SpeakerUnknown},
		{"json empty array", StyleJSON, `[]`, "[]", types.SpeakerUnknown},
		{"not json", StyleJSON, "  hola  ", "hola", types.SpeakerUnknown},
		{"plain", StylePlain, "hola", "hola", types.SpeakerUnknown},
		{"plain quoted", StylePlain, `"hola"`, "hola", types.SpeakerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, speaker := parseResponse(tt.style, tt.raw)
			if text != tt.wantText || speaker != tt.wantSpeaker {
				t.Errorf("parseResponse() = (%q, %s), want (%q, %s)", text, speaker, tt.wantText, tt.wantSpeaker)
			}
		})
	}
}

func TestLLMProvider_Translate(t *testing.T) {
	var built []string
	mock := &mockCompleter{
		response: `[{"speaker":"unknown","text":"hola"}]`,
		usage:    types.Usage{TotalTokens: 20},
	}
	p := NewLLMProvider(LLMConfig{
		ID: Groq,
		NewCompleter: func(model string) llm.Completer {
			built = append(built, model)
			return mock
		},
	})

	res, err := p.Translate(context.Background(), Request{Text: "hello", InputLanguage: "en-US", OutputLanguage: "es"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Translation != "hola" || res.Speaker != types.SpeakerUnknown || res.Model != "llama3-8b-8192" {
		t.Errorf("result = %+v", res)
	}
	if res.Usage.TotalTokens != 20 {
		t.Errorf("usage = %+v", res.Usage)
	}

	p.Translate(context.Background(), Request{Text: "bye", InputLanguage: "en-US", OutputLanguage: "es"})
	if len(built) != 1 {
		t.Errorf("completers built = %v, want one reused", built)
	}
}

func TestLLMProvider_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		response    string
		wantStatus  int
		unavailable bool
	}{
		{"service unavailable", &llm.APIError{StatusCode: 503, Message: "over capacity"}, "", 503, true},
		{"unauthorized", &llm.APIError{StatusCode: 401, Message: "invalid key"}, "", 401, false},
		{"network", errors.New("dial tcp: refused"), "", 0, false},
		{"empty answer", nil, "   ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCompleter{response: tt.response, err: tt.err}
			p := NewLLMProvider(LLMConfig{ID: Together, Style: StylePlain, NewCompleter: func(string) llm.Completer { return mock }})

			_, err := p.Translate(context.Background(), Request{Text: "hello", InputLanguage: "en", OutputLanguage: "es"})
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want ProviderError", err)
			}
			if pe.Status != tt.wantStatus || pe.Provider != Together {
				t.Errorf("ProviderError = %+v", pe)
			}
			if got := errors.Is(err, ErrServiceUnavailable); got != tt.unavailable {
				t.Errorf("errors.Is(ErrServiceUnavailable) = %v, want %v", got, tt.unavailable)
			}
		})
	}
}

func TestHTTPProvider(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantText    string
		wantSpeaker types.Speaker
		wantStatus  int
	}{
		{"ok", 200, `{"translation":"hola","speaker":"patient"}`, "hola", types.SpeakerPatient, 0},
		{"ok without speaker", 200, `{"translation":"hola"}`, "hola", types.SpeakerUnknown, 0},
		{"unavailable", 503, `{"error":"busy"}`, "", "", 503},
		{"server error", 500, `{"error":"Translation failed"}`, "", "", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(Groq, srv.URL, "")
			res, err := p.Translate(context.Background(), Request{Text: "hello", InputLanguage: "en-US", OutputLanguage: "es"})

			if got.Model != "llama3-8b-8192" || got.InputLanguage != "en-US" || got.Text != "hello" {
				t.Errorf("request body = %+v", got)
			}
			if tt.wantStatus != 0 {
				var pe *ProviderError
				if !errors.As(err, &pe) || pe.Status != tt.wantStatus {
					t.Fatalf("error = %v, want status %d", err, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if res.Translation != tt.wantText || res.Speaker != tt.wantSpeaker {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestHTTPProvider_OversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"translation":"` + strings.Repeat("a", 2*maxResponseSize) + `"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(Groq, srv.URL, "")
	res, err := p.Translate(context.Background(), Request{Text: "hello", InputLanguage: "en-US", OutputLanguage: "es"})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Translate() = %+v, %v; want a provider error", res, err)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groq":
			w.Write([]byte(`{"valid":false,"error":"Groq API key is not configured"}`))
		case "/together":
			w.Write([]byte(`{"valid":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &HTTPChecker{URLs: map[ProviderID]string{
		Groq:     srv.URL + "/groq",
		Together: srv.URL + "/together",
	}}

	if err := c.Check(context.Background(), Groq); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Check(groq) = %v", err)
	}
	if err := c.Check(context.Background(), Together); err != nil {
		t.Errorf("Check(together) = %v", err)
	}

	id, err := FirstUsable(context.Background(), c, ProviderIDs)
	if err != nil || id != Together {
		t.Errorf("FirstUsable() = %s, %v; want together", id, err)
	}
}

func TestCompleterChecker(t *testing.T) {
	c := &CompleterChecker{Completers: map[ProviderID]llm.Completer{
		Groq:     &mockCompleter{err: &llm.APIError{StatusCode: 401, Message: "invalid"}},
		Together: &mockCompleter{err: &llm.APIError{StatusCode: 401, Message: "invalid"}},
	}}

	_, err := FirstUsable(context.Background(), c, ProviderIDs)
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("FirstUsable() error = %v, want ErrNoProvider", err)
	}

	c.Completers[Groq] = &mockCompleter{response: "Hello!"}
	id, err := FirstUsable(context.Background(), c, ProviderIDs)
	if err != nil || id != Groq {
		t.Errorf("FirstUsable() = %s, %v; want groq", id, err)
	}
}
