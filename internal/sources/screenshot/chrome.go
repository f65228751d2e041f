package screenshot

import (
	"context"

	"github.com/chromedp/chromedp"
)

type ChromeConfig struct {
	Headless bool
	ExecPath string
	Width    int
	Height   int
}

// Chrome is a Browser backed by a local Chrome/Chromium through chromedp.
// Each Open starts a fresh browser process so sessions never share state.
type Chrome struct {
	cfg ChromeConfig
}

func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.Width <= 0 {
		cfg.Width = 1920
	}
	if cfg.Height <= 0 {
		cfg.Height = 1080
	}
	return &Chrome{cfg: cfg}
}

func (c *Chrome) Open(ctx context.Context) (Page, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.WindowSize(c.cfg.Width, c.cfg.Height),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}

	// The browser outlives individual action deadlines; only Close ends it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}
	return &chromePage{ctx: tabCtx, cancel: func() { cancelTab(); cancelAlloc() }}, nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// bind ties an action to the caller's deadline while running in the tab.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	tctx, cancel := p.bind(ctx)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Navigate(url))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	tctx, cancel := p.bind(ctx)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) FullScreenshot(ctx context.Context) ([]byte, error) {
	tctx, cancel := p.bind(ctx)
	defer cancel()
	var buf []byte
	// quality 100 selects PNG.
	if err := chromedp.Run(tctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
