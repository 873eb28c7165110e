package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

func init() {
	// keep pdfcpu from writing a config dir under $HOME
	api.DisableConfigDir()
}

type Config struct {
	Binary      string // pdftoppm
	Parallelism int
	Timeout     time.Duration // per page
	TempDir     string
}

// PDFRenderer rasterizes PDFs with poppler's pdftoppm and passes single images through.
type PDFRenderer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewPDFRenderer(cfg Config, runner Runner, logger *slog.Logger) *PDFRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if runner == nil {
		runner = ExecRunner(logger)
	}
	return &PDFRenderer{cfg: cfg, runner: runner, logger: logger}
}

func (r *PDFRenderer) Render(ctx context.Context, req Request) ([]entity.PageImage, error) {
	format, err := CheckInput(req.Document)
	if err != nil {
		return nil, err
	}
	if req.DPI <= 0 {
		return nil, invalidInput("resolution must be positive", nil)
	}
	switch format {
	case constants.FormatPNG, constants.FormatJPEG:
		return r.renderImage(req, format)
	default:
		return r.renderPDF(ctx, req)
	}
}

func (r *PDFRenderer) renderImage(req Request, format constants.DocumentFormat) ([]entity.PageImage, error) {
	if len(req.Pages) > 0 && (len(req.Pages) != 1 || req.Pages[0] != 1) {
		return nil, invalidInput("image documents have a single page", nil)
	}
	return []entity.PageImage{{
		PageNumber:  1,
		DPI:         req.DPI,
		ContentType: format.ContentType(),
		Data:        req.Document,
	}}, nil
}

// PageCount validates the PDF structure and returns its page count.
func PageCount(doc []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(doc), conf)
	if err != nil {
		return 0, invalidInput("unreadable pdf", err)
	}
	if n <= 0 {
		return 0, invalidInput("pdf has no pages", nil)
	}
	return n, nil
}

func (r *PDFRenderer) renderPDF(ctx context.Context, req Request) ([]entity.PageImage, error) {
	start := time.Now()
	count, err := PageCount(req.Document)
	if err != nil {
		return nil, err
	}
	pages, err := selectPages(req.Pages, count)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "render-*")
	if err != nil {
		return nil, transient("create work dir", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("render.cleanup_failed", "dir", dir, "err", err)
		}
	}()
	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, req.Document, 0o600); err != nil {
		return nil, transient("write work file", err)
	}

	text := map[int]string{}
	if !req.SkipTextLayer {
		text = TextLayer(req.Document, r.logger)
	}

	out := make([]entity.PageImage, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, page := range pages {
		g.Go(func() error {
			data, err := r.rasterize(gctx, in, dir, page, req.DPI)
			if err != nil {
				return err
			}
			out[i] = entity.PageImage{
				PageNumber:  page,
				DPI:         req.DPI,
				ContentType: "image/png",
				Data:        data,
				TextLayer:   text[page],
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("render.pdf.ok",
		"pages", len(out),
		"page_count", count,
		"dpi", req.DPI,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (r *PDFRenderer) rasterize(ctx context.Context, in, dir string, page, dpi int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	prefix := filepath.Join(dir, fmt.Sprintf("p%04d", page))
	p := strconv.Itoa(page)
	_, stderr, err := r.runner.Run(ctx, r.cfg.Binary,
		"-r", strconv.Itoa(dpi), "-png", "-f", p, "-l", p, "-singlefile", in, prefix)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, transient("renderer binary not available", err)
		}
		return nil, transient(fmt.Sprintf("rasterize page %d: %s", page, strings.TrimSpace(string(stderr))), err)
	}
	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, transient(fmt.Sprintf("read raster for page %d", page), err)
	}
	return data, nil
}

func selectPages(requested []int, count int) ([]int, error) {
	if len(requested) == 0 {
		all := make([]int, count)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}
	seen := make(map[int]bool, len(requested))
	out := make([]int, 0, len(requested))
	for _, p := range requested {
		if p < 1 || p > count {
			return nil, invalidInput(fmt.Sprintf("page %d out of range 1..%d", p, count), nil)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out, nil
}

// TextLayer returns the embedded text per page, keyed by page number. Scans yield an empty map.
func TextLayer(doc []byte, logger *slog.Logger) (out map[int]string) {
	out = map[int]string{}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Debug("render.text_layer.panic", "recovered", fmt.Sprint(rec))
			out = map[int]string{}
		}
	}()
	rd, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		logger.Debug("render.text_layer.unavailable", "err", err)
		return out
	}
	for i := 1; i <= rd.NumPage(); i++ {
		p := rd.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if txt = strings.TrimSpace(txt); txt != "" {
			out[i] = txt
		}
	}
	return out
}
