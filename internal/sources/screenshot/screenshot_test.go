package screenshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	logx "enel/pkg/logx"
)

type fakePage struct {
	navErr   error
	clickErr map[string]error
	shotErr  error
	image    []byte

	visited []string
	clicked []string
	closed  int
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.visited = append(p.visited, url)
	return p.navErr
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.clicked = append(p.clicked, sel)
	return p.clickErr[sel]
}

func (p *fakePage) FullScreenshot(context.Context) ([]byte, error) { return p.image, p.shotErr }

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

type fakeBrowser struct {
	page    *fakePage
	openErr error
}

func (b *fakeBrowser) Open(context.Context) (Page, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.page, nil
}

var shotTime = time.Date(2026, 5, 4, 9, 8, 7, 0, time.UTC)

func newTestCapturer(t *testing.T, b Browser) (*Capturer, string, *[]time.Duration) {
	t.Helper()
	dir := t.TempDir()
	var slept []time.Duration
	c := New(Config{Dir: dir}, b, logx.Nop(),
		WithClock(func() time.Time { return shotTime }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)
	return c, dir, &slept
}

func TestCaptureWritesTimestampedPNG(t *testing.T) {
	t.Parallel()
	page := &fakePage{image: []byte("\x89PNG fake")}
	c, dir, slept := newTestCapturer(t, &fakeBrowser{page: page})

	shot, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}
	want := filepath.Join(dir, "2026-05-04_09-08-07.png")
	if shot.Path != want {
		t.Fatalf("Path = %s, want %s", shot.Path, want)
	}
	b, err := os.ReadFile(want)
	if err != nil || string(b) != "\x89PNG fake" {
		t.Fatalf("file = %q, %v", b, err)
	}
	if !reflect.DeepEqual(page.visited, []string{DefaultURL}) {
		t.Fatalf("visited = %v", page.visited)
	}
	if !reflect.DeepEqual(page.clicked, DismissSelectors) {
		t.Fatalf("clicked = %v", page.clicked)
	}
	if !reflect.DeepEqual(*slept, []time.Duration{DefaultSettle, time.Second}) {
		t.Fatalf("slept = %v", *slept)
	}
	if page.closed != 1 {
		t.Fatalf("closed = %d, want 1", page.closed)
	}
}

func TestCaptureClickFailuresAreAdvisory(t *testing.T) {
	t.Parallel()
	page := &fakePage{
		image:    []byte("png"),
		clickErr: map[string]error{"#gdpr-cookie-accept": errors.New("not found")},
	}
	c, _, _ := newTestCapturer(t, &fakeBrowser{page: page})

	shot, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}
	if !reflect.DeepEqual(shot.Advisory, []string{"#gdpr-cookie-accept"}) {
		t.Fatalf("Advisory = %v", shot.Advisory)
	}
	if len(page.clicked) != 2 {
		t.Fatalf("second selector must still be tried, clicked %v", page.clicked)
	}
}

func TestCaptureReleasesBrowserOnFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		page *fakePage
	}{
		{name: "navigate", page: &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}},
		{name: "screenshot", page: &fakePage{shotErr: errors.New("target closed")}},
		{name: "empty image", page: &fakePage{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _, _ := newTestCapturer(t, &fakeBrowser{page: tt.page})
			if _, err := c.Capture(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if tt.page.closed != 1 {
				t.Fatalf("closed = %d, want 1", tt.page.closed)
			}
		})
	}
}

func TestCaptureOpenFailure(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCapturer(t, &fakeBrowser{openErr: errors.New("chrome not found")})
	if _, err := c.Capture(context.Background()); err == nil {
		t.Fatal("expected open error")
	}
}
