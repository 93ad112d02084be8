package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-dialog/internal/config"
)

func TestCompleteMock(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(), Request{Prompt: "  hello there "})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "You said: hello there" {
		t.Fatalf("unexpected content %q", out.Content)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.LLMConfig{DefaultTier: "balanced", MaxTokens: 64, Temperature: 0.2, System: "be brief"}
	req, err := OptionsFromConfig(cfg, "")
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if req.Tier != "balanced" || req.MaxTokens != 64 || req.System != "be brief" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req, _ := OptionsFromConfig(cfg, "fast"); req.Tier != "fast" {
		t.Fatalf("expected tier override, got %q", req.Tier)
	}
	if _, err := OptionsFromConfig(cfg, "huge"); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(config.LLMConfig{Mode: "nope"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
	if _, err := New(config.LLMConfig{Mode: "openai"}); err == nil {
		t.Fatal("expected missing api key error")
	}
	if _, err := New(config.LLMConfig{Mode: "ollama", Endpoint: "http://localhost:11434"}); err != nil {
		t.Fatalf("ollama: %v", err)
	}
}

func TestExecGenerator(t *testing.T) {
	script := filepath.Join(t.TempDir(), "llm.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"content\":\"from exec\",\"prompt_tokens\":3,\"completion_tokens\":2}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	gen, err := NewExecGenerator("sh " + script)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	out, err := Complete(context.Background(), gen, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "from exec" || out.PromptTokens != 3 || out.CompletionTokens != 2 {
		t.Fatalf("unexpected completion %+v", out)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "small" || !req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "greet" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":", world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"eval_count":4,"prompt_eval_count":7}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL+"/", "small", "")
	out, err := Complete(context.Background(), gen, Request{Prompt: "greet", System: "be kind", Tier: "fast"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "Hello, world" || out.CompletionTokens != 4 || out.PromptTokens != 7 {
		t.Fatalf("unexpected completion %+v", out)
	}
}

func TestOllamaGeneratorTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "", "")
	if _, err := Complete(context.Background(), gen, Request{Prompt: "greet"}); err == nil {
		t.Fatal("expected error for stream without done marker")
	}
}

func TestOpenAIGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"It is ", "sunny."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":3,\"total_tokens\":8}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	gen, err := New(config.LLMConfig{Mode: "openai", APIKey: "sk-test", Endpoint: srv.URL + "/v1", ModelBalanced: "gpt-test"})
	if err != nil {
		t.Fatalf("new openai generator: %v", err)
	}
	out, err := Complete(context.Background(), gen, Request{Prompt: "weather?", System: "be brief"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "It is sunny." {
		t.Fatalf("unexpected content %q", out.Content)
	}
	if out.PromptTokens != 5 || out.CompletionTokens != 3 {
		t.Fatalf("expected usage from stream, got %+v", out)
	}
}

func TestExecGeneratorStreamsObjects(t *testing.T) {
	script := filepath.Join(t.TempDir(), "llm.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"content\":\"It is \"}'\necho '{\"content\":\"noon.\",\"completion_tokens\":3}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	gen, err := NewExecGenerator("sh " + script)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	var partials int
	err = gen.Generate(context.Background(), Request{Prompt: "time?"}, func(c Chunk) error {
		if c.Partial {
			partials++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if partials != 1 {
		t.Fatalf("expected one partial chunk, got %d", partials)
	}
	out, err := Complete(context.Background(), gen, Request{Prompt: "time?"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Content != "It is noon." || out.CompletionTokens != 3 {
		t.Fatalf("unexpected completion %+v", out)
	}
}

func TestMockGeneratorStreamsWords(t *testing.T) {
	var pieces []string
	err := NewMockGenerator().Generate(context.Background(), Request{Prompt: "good morning"}, func(c Chunk) error {
		if c.Content != "" {
			pieces = append(pieces, c.Content)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pieces) != 4 || pieces[0] != "You" || pieces[3] != " morning" {
		t.Fatalf("unexpected pieces %q", pieces)
	}
}
