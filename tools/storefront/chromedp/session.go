package chromedp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
)

// Options tunes the browser allocator.
type Options struct {
	Headless  bool
	UserAgent string
}

// Session owns one browser context for the lifetime of an order run.
type Session struct {
	profile profile.Profile

	browser       context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// Open starts a browser and returns a session bound to it.
func Open(ctx context.Context, p profile.Profile, o Options) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.WindowSize(1366, 900),
	)
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelBrowser := chromedp.NewContext(actx)

	s := &Session{profile: p, browser: bctx, cancelAlloc: cancelAlloc, cancelBrowser: cancelBrowser}
	// The first Run allocates the browser; it must run on the browser context itself.
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	if err := chromedp.Run(bctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// run executes actions on the browser tab while honouring ctx cancellation
// and deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	cctx, cancel := context.WithCancel(s.browser)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		cctx, cancelDL = context.WithDeadline(cctx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(cctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) settle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.profile.SettleDelay <= 0 {
			return nil
		}
		t := time.NewTimer(s.profile.SettleDelay)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("navigate: empty url")
	}
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.settle(),
	)
}

// Search submits query and waits for the results container to settle.
func (s *Session) Search(ctx context.Context, query string) error {
	p := s.profile
	if p.SearchURL != "" {
		return s.run(ctx,
			chromedp.Navigate(p.SearchURLFor(query)),
			chromedp.WaitReady(p.Ready(), chromedp.ByQuery),
			s.settle(),
		)
	}
	return s.run(ctx,
		chromedp.Navigate(p.HomeURL),
		chromedp.WaitVisible(p.SearchInput, chromedp.ByQuery),
		chromedp.SetValue(p.SearchInput, "", chromedp.ByQuery),
		chromedp.SendKeys(p.SearchInput, query, chromedp.ByQuery),
		chromedp.Submit(p.SearchInput, chromedp.ByQuery),
		chromedp.WaitReady(p.Ready(), chromedp.ByQuery),
		s.settle(),
	)
}

func (s *Session) snapshot(ctx context.Context) (string, string, error) {
	var html, loc string
	if err := s.run(ctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&loc),
	); err != nil {
		return "", "", err
	}
	return html, loc, nil
}

// ExtractCandidates reads the current page; it never navigates.
func (s *Session) ExtractCandidates(ctx context.Context) ([]models.Candidate, error) {
	html, loc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.profile.Extract(html, loc)
}

// ActivateByTitle re-reads the result list and opens the record whose title
// matches. It reports false when no such record is on the page.
func (s *Session) ActivateByTitle(ctx context.Context, title string) (bool, error) {
	html, loc, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	c, ok, err := s.profile.Locate(html, loc, title)
	if err != nil || !ok {
		return false, err
	}
	if err := s.run(ctx,
		chromedp.Navigate(c.Link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.settle(),
	); err != nil {
		return false, err
	}
	return true, nil
}

const clickScript = `(function(ids) {
  for (const id of ids) {
    let el = null;
    if (id.startsWith("text=")) {
      const want = id.slice(5).trim().toLowerCase();
      el = Array.from(document.querySelectorAll("button, a, input[type=submit], input[type=button]"))
        .find(e => ((e.innerText || e.value || "").trim().toLowerCase() === want));
    } else {
      try { el = document.querySelector(id); } catch (e) { el = null; }
    }
    if (el) {
      el.scrollIntoView({block: "center"});
      el.click();
      return id;
    }
  }
  return "";
})(%s)`

// LocateAndClick clicks the first control matching ids, in order. Identifiers
// are CSS selectors or "text=<label>".
func (s *Session) LocateAndClick(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	arg, err := json.Marshal(ids)
	if err != nil {
		return false, err
	}
	var matched string
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, arg), &matched)); err != nil {
		return false, err
	}
	if matched == "" {
		return false, nil
	}
	if err := s.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.settle(),
	); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Session) Screenshot(ctx context.Context) (models.Artifact, error) {
	var buf []byte
	// quality 100 yields PNG
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{Data: buf, MIME: "image/png"}, nil
}

func (s *Session) CurrentLocation(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close shuts down the tab and the browser process.
func (s *Session) Close() error {
	if s.cancelBrowser != nil {
		s.cancelBrowser()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
	return nil
}
