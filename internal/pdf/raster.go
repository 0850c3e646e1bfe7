package pdf

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxPages caps how many pages of one document are rendered.
	DefaultMaxPages = 10
	// DefaultDPI renders at twice the 72dpi PDF base resolution.
	DefaultDPI = 144
)

// ErrNoPages is returned when rendering produced no images.
var ErrNoPages = errors.New("no pages rendered")

// PageImage is one rendered page.
type PageImage struct {
	Page     int
	MIMEType string
	Data     []byte
}

// DataURL encodes the image as a data: URL for APIs that accept inline images.
func (p PageImage) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// RasterizerConfig configures page rendering.
type RasterizerConfig struct {
	Pdftoppm string
	DPI      int
	MaxPages int
}

// Rasterizer renders PDF pages to PNG using poppler's pdftoppm.
type Rasterizer struct {
	cfg    RasterizerConfig
	runner Runner
	log    zerolog.Logger
}

// NewRasterizer creates a Rasterizer. Zero config values take defaults.
func NewRasterizer(cfg RasterizerConfig, runner Runner, log zerolog.Logger) *Rasterizer {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if runner == nil {
		runner = ExecRunner{Log: log}
	}
	return &Rasterizer{cfg: cfg, runner: runner, log: log}
}

// Pages returns a finite, restartable sequence of rendered pages in page
// order. Every iteration renders the document again. A document that cannot
// be rendered yields nothing; the failure is logged.
func (r *Rasterizer) Pages(ctx context.Context, content []byte) iter.Seq[PageImage] {
	return func(yield func(PageImage) bool) {
		images, err := r.Render(ctx, content)
		if err != nil {
			r.log.Warn().Err(err).Msg("Page rendering failed")
			return
		}
		for _, img := range images {
			if !yield(img) {
				return
			}
		}
	}
}

// Render renders up to MaxPages pages and returns them in page order.
func (r *Rasterizer) Render(ctx context.Context, content []byte) ([]PageImage, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	tmpDir, err := os.MkdirTemp("", "finsight-pages-*")
	if err != nil {
		return nil, fmt.Errorf("Render: temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.log.Warn().Err(err).Str("dir", tmpDir).Msg("Failed to remove temp dir")
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, content, 0o600); err != nil {
		return nil, fmt.Errorf("Render: write input: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-r", strconv.Itoa(r.cfg.DPI),
		"-png",
		"-f", "1",
		"-l", strconv.Itoa(r.cfg.MaxPages),
		in, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("Render: pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// pdftoppm writes prefix-1.png, prefix-2.png, ... (zero padded for long documents).
	matches, _ := filepath.Glob(prefix + "-*.png")
	pages := make([]PageImage, 0, len(matches))
	for _, path := range matches {
		n, ok := pageNumber(prefix, path)
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Render: read page %d: %w", n, err)
		}
		pages = append(pages, PageImage{Page: n, MIMEType: "image/png", Data: data})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	if len(pages) > r.cfg.MaxPages {
		pages = pages[:r.cfg.MaxPages]
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	return pages, nil
}

func pageNumber(prefix, path string) (int, bool) {
	s := strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
