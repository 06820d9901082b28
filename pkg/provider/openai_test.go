package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			content := `{"ai_score":0.2,"confidence":0.9,"reason":"handwritten"}`
			if strings.Contains(string(body), "data:image/png;base64,") {
				content = "Lecture 3\n- entropy"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "x",
				"object":  "chat.completion",
				"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
			})
		case "/v1/embeddings":
			if strings.Contains(string(body), "empty-please") {
				_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.5, -0.25, 1}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOpenAICompatTranscribeSendsImage(t *testing.T) {
	srv := fakeOpenAI(t)
	defer srv.Close()
	o := NewOpenAICompat("groq", srv.URL+"/v1", "k", "vision")
	text, err := o.Transcribe(context.Background(), []byte{1, 2, 3}, "image/png", "transcribe")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "Lecture 3\n- entropy" {
		t.Fatalf("unexpected text %q", text)
	}
	if o.Name() != "groq" {
		t.Fatalf("expected name groq got %s", o.Name())
	}
}

func TestOpenAICompatGenerate(t *testing.T) {
	srv := fakeOpenAI(t)
	defer srv.Close()
	o := NewOpenAICompat("groq", srv.URL+"/v1", "k", "chat")
	raw, err := o.Generate(context.Background(), "classify")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(string(raw), `"ai_score":0.2`) {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestOpenAICompatEmbed(t *testing.T) {
	srv := fakeOpenAI(t)
	defer srv.Close()
	o := NewOpenAICompat("local", srv.URL+"/v1", "", "nomic")
	vec, err := o.Embed(context.Background(), "notes")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Fatalf("unexpected vector %v", vec)
	}
	vec, err = o.Embed(context.Background(), "empty-please")
	if err != nil || vec != nil {
		t.Fatalf("expected nil vector without error got %v %v", vec, err)
	}
}

func TestOpenAICompatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	o := NewOpenAICompat("groq", srv.URL+"/v1", "k", "chat")
	if _, err := o.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestDataURL(t *testing.T) {
	if got := dataURL([]byte("hi"), ""); got != "data:image/jpeg;base64,aGk=" {
		t.Fatalf("unexpected data url %s", got)
	}
}
