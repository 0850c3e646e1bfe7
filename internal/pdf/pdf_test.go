package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// mockRunner mocks Runner for testing.
type mockRunner struct {
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
	calls   int
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.calls++
	if m.RunFunc != nil {
		return m.RunFunc(ctx, name, args...)
	}
	return nil, nil, nil
}

// fakePdftoppm writes n fake PNG pages next to the prefix argument.
func fakePdftoppm(n int) func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		width := len(fmt.Sprint(n))
		for i := 1; i <= n; i++ {
			path := fmt.Sprintf("%s-%0*d.png", prefix, width, i)
			if err := os.WriteFile(path, []byte(fmt.Sprintf("png-%d", i)), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
}

func TestExtractText_InvalidInput(t *testing.T) {
	e := NewTextExtractor()

	if _, err := e.ExtractText(nil); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := e.ExtractText([]byte("this is not a pdf")); err == nil {
		t.Error("expected error for non-PDF input")
	}
}

func TestExtractText_Fixtures(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		wantText []string
	}{
		{
			name:     "text layer",
			file:     "statement-text.pdf",
			wantText: []string{"TESCO STORES 3297 LONDON 42.10", "SALARY ACME LTD 2500.00"},
		},
		{
			name: "image only",
			file: "statement-scanned.pdf",
		},
	}

	e := NewTextExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := os.ReadFile(filepath.Join("testdata", tt.file))
			if err != nil {
				t.Fatal(err)
			}

			text, err := e.ExtractText(content)
			if err != nil {
				t.Fatalf("ExtractText: %v", err)
			}
			if len(tt.wantText) == 0 {
				if text != "" {
					t.Errorf("expected no text, got %q", text)
				}
				return
			}
			if n := utf8.RuneCountInString(text); n < 50 {
				t.Errorf("expected at least 50 runes, got %d: %q", n, text)
			}
			for _, want := range tt.wantText {
				if !strings.Contains(text, want) {
					t.Errorf("text missing %q: %q", want, text)
				}
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("ok", 8); got != "ok" {
		t.Errorf("got %q", got)
	}
	got := truncate("pdftoppm: é", 11)
	if !utf8.ValidString(got) || got != "pdftoppm: ...(truncated)" {
		t.Errorf("got %q", got)
	}
}

func TestRasterizer_PagesInOrder(t *testing.T) {
	runner := &mockRunner{RunFunc: fakePdftoppm(12)}
	r := NewRasterizer(RasterizerConfig{DPI: 144, MaxPages: 10}, runner, zerolog.Nop())

	var got []int
	for img := range r.Pages(context.Background(), []byte("%PDF-1.4")) {
		got = append(got, img.Page)
		if img.MIMEType != "image/png" {
			t.Errorf("page %d MIMEType = %q", img.Page, img.MIMEType)
		}
		if want := fmt.Sprintf("png-%d", img.Page); string(img.Data) != want {
			t.Errorf("page %d data = %q, want %q", img.Page, img.Data, want)
		}
	}

	if len(got) != 10 {
		t.Fatalf("expected 10 pages (cap), got %d", len(got))
	}
	for i, p := range got {
		if p != i+1 {
			t.Fatalf("pages out of order: %v", got)
		}
	}
}

func TestRasterizer_PassesRenderArgs(t *testing.T) {
	var gotArgs []string
	runner := &mockRunner{RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return fakePdftoppm(1)(ctx, name, args...)
	}}
	r := NewRasterizer(RasterizerConfig{}, runner, zerolog.Nop())

	if _, err := r.Render(context.Background(), []byte("%PDF")); err != nil {
		t.Fatalf("Render: %v", err)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-r 144", "-png", "-f 1", "-l 10"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestRasterizer_Restartable(t *testing.T) {
	runner := &mockRunner{RunFunc: fakePdftoppm(3)}
	r := NewRasterizer(RasterizerConfig{}, runner, zerolog.Nop())
	seq := r.Pages(context.Background(), []byte("%PDF"))

	for pass := 0; pass < 2; pass++ {
		count := 0
		for range seq {
			count++
		}
		if count != 3 {
			t.Errorf("pass %d: got %d pages, want 3", pass, count)
		}
	}
	if runner.calls != 2 {
		t.Errorf("expected a render per iteration, got %d", runner.calls)
	}
}

func TestRasterizer_EarlyBreak(t *testing.T) {
	r := NewRasterizer(RasterizerConfig{}, &mockRunner{RunFunc: fakePdftoppm(5)}, zerolog.Nop())

	count := 0
	for range r.Pages(context.Background(), []byte("%PDF")) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestRasterizer_FailureYieldsNothing(t *testing.T) {
	tests := []struct {
		name   string
		runner *mockRunner
		input  []byte
	}{
		{
			name: "command fails",
			runner: &mockRunner{RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
				return nil, []byte("Syntax Error: Couldn't read xref table"), errors.New("exit status 1")
			}},
			input: []byte("garbage"),
		},
		{
			name:   "no images produced",
			runner: &mockRunner{},
			input:  []byte("%PDF"),
		},
		{
			name:   "empty input",
			runner: &mockRunner{RunFunc: fakePdftoppm(1)},
			input:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRasterizer(RasterizerConfig{}, tt.runner, zerolog.Nop())
			for img := range r.Pages(context.Background(), tt.input) {
				t.Fatalf("unexpected page %d", img.Page)
			}
		})
	}
}

func TestRender_NoPagesError(t *testing.T) {
	r := NewRasterizer(RasterizerConfig{}, &mockRunner{}, zerolog.Nop())
	if _, err := r.Render(context.Background(), []byte("%PDF")); !errors.Is(err, ErrNoPages) {
		t.Errorf("expected ErrNoPages, got %v", err)
	}
}

func TestPageImage_DataURL(t *testing.T) {
	img := PageImage{Page: 1, MIMEType: "image/png", Data: []byte("abc")}
	if got, want := img.DataURL(), "data:image/png;base64,YWJj"; got != want {
		t.Errorf("DataURL() = %q, want %q", got, want)
	}
}
