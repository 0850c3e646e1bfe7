package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/llm"
	"github.com/dvloznov/finsight/internal/pdf"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func TestParseStatement_RequestShape(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(completion(`{"transactions":[{"date":"2024-01-05","description":"Salary","amount":2500,"type":"credit","category":"income"}]}`)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"}, zerolog.Nop())
	parsed, err := c.ParseStatement(context.Background(), llm.Input{Text: "05 Jan Salary 2,500.00"})
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["temperature"] != float64(0) {
		t.Errorf("temperature = %v, want 0", got["temperature"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", got["response_format"])
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", got["model"])
	}
	if len(parsed.Transactions) != 1 || parsed.Transactions[0].Amount.String() != "2500" {
		t.Fatalf("unexpected transactions: %+v", parsed.Transactions)
	}
}

func TestParseStatement_VisionSendsImageParts(t *testing.T) {
	var got struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(completion(`{"transactions":[]}`)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	images := []pdf.PageImage{{Page: 1, MIMEType: "image/png", Data: []byte("img")}}
	if _, err := c.ParseStatement(context.Background(), llm.Input{Images: images}); err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}

	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	var parts []map[string]any
	if err := json.Unmarshal(got.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content is not a part list: %v", err)
	}
	if len(parts) != 2 || parts[1]["type"] != "image_url" {
		t.Fatalf("unexpected parts: %v", parts)
	}
	url := parts[1]["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("unexpected image url %q", url)
	}
}

func TestParseStatement_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.ParseStatement(context.Background(), llm.Input{Text: "x"})

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
}

func TestParseStatement_LongErrorBodyStaysValidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("x" + strings.Repeat("é", 2000)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.ParseStatement(context.Background(), llm.Input{Text: "x"})

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !utf8.ValidString(apiErr.Body) {
		t.Errorf("body is not valid UTF-8: tail %q", apiErr.Body[len(apiErr.Body)-20:])
	}
	if !strings.HasSuffix(apiErr.Body, "...(truncated)") {
		t.Errorf("body not marked truncated")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc...(truncated)"},
		{"aé", 2, "a...(truncated)"},
		{"💳💳", 5, "💳...(truncated)"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestParseStatement_MalformedContentIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion(`{"transactions": [oops`)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	parsed, err := c.ParseStatement(context.Background(), llm.Input{Text: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.Transactions) != 0 {
		t.Errorf("expected empty result, got %d", len(parsed.Transactions))
	}
}
