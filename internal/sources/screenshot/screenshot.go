// Package screenshot captures a full-page PNG of the PurpleAir map.
//
// Capturer drives a Browser through a fixed procedure: open, navigate, let
// the map settle, dismiss the cookie banner and sensor panel, then capture.
// The browser session is always closed, including on failure paths.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	logx "enel/pkg/logx"
)

const (
	DefaultURL    = "https://map.purpleair.com/1/mAQI/a60/p604800/cC0#1.8/42.3/166.1"
	DefaultDir    = "saved/sites/purpleair"
	DefaultSettle = 15 * time.Second
	fileLayout    = "2006-01-02_15-04-05"
	clickTimeout  = 5 * time.Second
	afterClicks   = time.Second
)

// DismissSelectors are clicked after the page settles. Failures are advisory.
var DismissSelectors = []string{"#gdpr-cookie-accept", ".sensorsCloseButton"}

// Browser opens isolated page sessions.
type Browser interface {
	Open(ctx context.Context) (Page, error)
}

// Page is one browser tab. Close must be safe to call once on every path.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	FullScreenshot(ctx context.Context) ([]byte, error)
	Close() error
}

type Config struct {
	URL    string
	Dir    string
	Settle time.Duration
}

// Shot is the task result published for getPeriodicAirQualityScreenshot.
type Shot struct {
	Path     string    `json:"path"`
	URL      string    `json:"url"`
	Bytes    int       `json:"bytes"`
	Taken    time.Time `json:"taken"`
	Advisory []string  `json:"advisory,omitempty"`
}

func (s *Shot) Summary() string {
	return fmt.Sprintf("Air quality map saved to %s (%s)", s.Path, humanize.Bytes(uint64(s.Bytes)))
}

type Capturer struct {
	cfg     Config
	browser Browser
	log     logx.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Capturer)

func WithClock(now func() time.Time) Option { return func(c *Capturer) { c.now = now } }

// WithSleep replaces the settle wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Capturer) { c.sleep = fn }
}

func New(cfg Config, b Browser, log logx.Logger, opts ...Option) *Capturer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Capturer{cfg: cfg, browser: b, log: log, now: time.Now, sleep: sleepCtx}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Capture runs the procedure and writes <dir>/<YYYY-MM-DD_HH-mm-ss>.png.
func (c *Capturer) Capture(ctx context.Context) (shot *Shot, err error) {
	if c.browser == nil {
		return nil, errors.New("screenshot: no browser configured")
	}
	c.log.Info("capturing air quality map", logx.String("url", c.cfg.URL))

	page, err := c.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: open browser: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			c.log.Warn("browser close failed", logx.Err(cerr))
			if err == nil {
				err = fmt.Errorf("screenshot: close browser: %w", cerr)
				shot = nil
			}
		}
	}()

	if err := page.Navigate(ctx, c.cfg.URL); err != nil {
		return nil, fmt.Errorf("screenshot: navigate: %w", err)
	}
	if err := c.sleep(ctx, c.cfg.Settle); err != nil {
		return nil, err
	}

	var advisory []string
	for _, sel := range DismissSelectors {
		cctx, cancel := context.WithTimeout(ctx, clickTimeout)
		cerr := page.Click(cctx, sel)
		cancel()
		if cerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			advisory = append(advisory, sel)
			c.log.Warn("page element not clickable", logx.String("selector", sel), logx.Err(cerr), logx.Tags("alert", "p10"))
		}
	}
	if err := c.sleep(ctx, afterClicks); err != nil {
		return nil, err
	}

	img, err := page.FullScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: capture: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("screenshot: empty image")
	}

	taken := c.now()
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot: mkdir: %w", err)
	}
	path := filepath.Join(c.cfg.Dir, taken.Format(fileLayout)+".png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return nil, fmt.Errorf("screenshot: write: %w", err)
	}
	c.log.Info("screenshot air quality", logx.String("path", path), logx.Int("bytes", len(img)))
	return &Shot{Path: path, URL: c.cfg.URL, Bytes: len(img), Taken: taken, Advisory: advisory}, nil
}
