package storefront

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/chromedp"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/colly"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
)

// Session is one page-automation context. All calls for a run happen on a
// single session, one at a time.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Search(ctx context.Context, query string) error
	ExtractCandidates(ctx context.Context) ([]models.Candidate, error)
	ActivateByTitle(ctx context.Context, title string) (bool, error)
	LocateAndClick(ctx context.Context, ids []string) (bool, error)
	Screenshot(ctx context.Context) (models.Artifact, error)
	CurrentLocation(ctx context.Context) (string, error)
	Close() error
}

// Automation hands out sessions for one storefront profile.
type Automation interface {
	Open(ctx context.Context) (Session, error)
	Profile() profile.Profile
}

type BackendType string

const (
	ChromedpBackend BackendType = "chromedp"
	CollyBackend    BackendType = "colly"
)

// Options carries backend settings; fields irrelevant to a backend are ignored.
type Options struct {
	Headless  bool
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

type automation struct {
	profile profile.Profile
	open    func(ctx context.Context) (Session, error)
}

func (a *automation) Open(ctx context.Context) (Session, error) { return a.open(ctx) }
func (a *automation) Profile() profile.Profile                  { return a.profile }

// NewAutomation returns an Automation for the given backend.
func NewAutomation(backend BackendType, p profile.Profile, o Options) (Automation, error) {
	switch backend {
	case ChromedpBackend:
		return &automation{profile: p, open: func(ctx context.Context) (Session, error) {
			s, err := chromedp.Open(ctx, p, chromedp.Options{Headless: o.Headless, UserAgent: o.UserAgent})
			if err != nil {
				return nil, err
			}
			return s, nil
		}}, nil
	case CollyBackend:
		return &automation{profile: p, open: func(ctx context.Context) (Session, error) {
			s, err := colly.Open(ctx, p, colly.Options{UserAgent: o.UserAgent, Timeout: o.Timeout, Transport: o.Transport})
			if err != nil {
				return nil, err
			}
			return s, nil
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported storefront backend %q", backend)
	}
}
