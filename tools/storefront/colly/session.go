package colly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
)

// Options tunes the collector.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Session drives a server-rendered storefront over plain HTTP. The page the
// session "is on" is the body of the last successful response.
type Session struct {
	profile   profile.Profile
	collector *colly.Collector

	mu       sync.Mutex
	body     []byte
	location string
	lastErr  error
}

// Open builds a collector for p.
func Open(ctx context.Context, p profile.Profile, o Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if o.UserAgent != "" {
		opts = append(opts, colly.UserAgent(o.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if o.Timeout > 0 {
		c.SetRequestTimeout(o.Timeout)
	}
	if o.Transport != nil {
		c.WithTransport(o.Transport)
	}
	s := &Session{profile: p, collector: c}
	c.OnResponse(func(r *colly.Response) {
		s.mu.Lock()
		s.body = r.Body
		s.location = r.Request.URL.String()
		s.mu.Unlock()
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		s.mu.Lock()
		s.lastErr = fmt.Errorf("status %d: %w", status, err)
		s.mu.Unlock()
	})
	return s, nil
}

func (s *Session) visit(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.resetErr()
	if err := s.collector.Visit(target); err != nil {
		return fmt.Errorf("visit %s: %w", target, err)
	}
	return s.settle(ctx)
}

func (s *Session) post(ctx context.Context, target string, form map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.resetErr()
	if err := s.collector.Post(target, form); err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	return s.settle(ctx)
}

func (s *Session) resetErr() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Session) settle(ctx context.Context) error {
	s.mu.Lock()
	err := s.lastErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.profile.SettleDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.profile.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) page() ([]byte, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body, s.location
}

func (s *Session) Navigate(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("navigate: empty url")
	}
	return s.visit(ctx, target)
}

// Search loads the search results page. Profiles without a search URL submit
// the form that owns the search input.
func (s *Session) Search(ctx context.Context, query string) error {
	p := s.profile
	if p.SearchURL != "" {
		return s.visit(ctx, p.SearchURLFor(query))
	}
	if err := s.visit(ctx, p.HomeURL); err != nil {
		return err
	}
	doc, base, err := s.document()
	if err != nil {
		return err
	}
	input := doc.Find(p.SearchInput).First()
	if input.Length() == 0 {
		return fmt.Errorf("search input %q not found", p.SearchInput)
	}
	form := input.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("search input %q has no form", p.SearchInput)
	}
	fields := formFields(form)
	if name, ok := input.Attr("name"); ok {
		fields[name] = query
	}
	return s.submit(ctx, form, base, fields)
}

func (s *Session) document() (*goquery.Document, *url.URL, error) {
	body, loc := s.page()
	if body == nil {
		return nil, nil, errors.New("no page loaded")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, fmt.Errorf("parse page: %w", err)
	}
	base, _ := url.Parse(loc)
	return doc, base, nil
}

// ExtractCandidates reads the current page; it never issues a request.
func (s *Session) ExtractCandidates(ctx context.Context) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, loc := s.page()
	if body == nil {
		return nil, errors.New("no page loaded")
	}
	return s.profile.Extract(string(body), loc)
}

func (s *Session) ActivateByTitle(ctx context.Context, title string) (bool, error) {
	body, loc := s.page()
	if body == nil {
		return false, errors.New("no page loaded")
	}
	c, ok, err := s.profile.Locate(string(body), loc, title)
	if err != nil || !ok {
		return false, err
	}
	if err := s.visit(ctx, c.Link); err != nil {
		return false, err
	}
	return true, nil
}

// LocateAndClick follows the first matching link or submits the form owning
// the first matching button.
func (s *Session) LocateAndClick(ctx context.Context, ids []string) (bool, error) {
	doc, base, err := s.document()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		el := find(doc, id)
		if el.Length() == 0 {
			continue
		}
		if goquery.NodeName(el) == "a" {
			href, _ := el.Attr("href")
			target := profile.Resolve(base, href)
			if target == "" {
				continue
			}
			return true, s.visit(ctx, target)
		}
		form := el.Closest("form")
		if form.Length() == 0 {
			continue
		}
		fields := formFields(form)
		if name, ok := el.Attr("name"); ok {
			v, _ := el.Attr("value")
			fields[name] = v
		}
		return true, s.submit(ctx, form, base, fields)
	}
	return false, nil
}

func (s *Session) submit(ctx context.Context, form *goquery.Selection, base *url.URL, fields map[string]string) error {
	action, _ := form.Attr("action")
	target := profile.Resolve(base, action)
	if target == "" && base != nil {
		target = base.String()
	}
	method, _ := form.Attr("method")
	if strings.EqualFold(method, http.MethodPost) {
		return s.post(ctx, target, fields)
	}
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	q := u.Query()
	for k, v := range fields {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return s.visit(ctx, u.String())
}

// Screenshot returns the current HTML; there is no renderer behind colly.
func (s *Session) Screenshot(ctx context.Context) (models.Artifact, error) {
	body, _ := s.page()
	if body == nil {
		return models.Artifact{}, errors.New("no page loaded")
	}
	return models.Artifact{Data: append([]byte(nil), body...), MIME: "text/html"}, nil
}

func (s *Session) CurrentLocation(ctx context.Context) (string, error) {
	_, loc := s.page()
	return loc, nil
}

func (s *Session) Close() error { return nil }

func find(doc *goquery.Document, id string) *goquery.Selection {
	if label, ok := strings.CutPrefix(id, "text="); ok {
		want := strings.ToLower(strings.TrimSpace(label))
		return doc.Find("button, a, input[type=submit], input[type=button]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				text, _ = s.Attr("value")
			}
			return strings.ToLower(strings.TrimSpace(text)) == want
		}).First()
	}
	return doc.Find(id).First()
}

func formFields(form *goquery.Selection) map[string]string {
	fields := make(map[string]string)
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		typ, _ := in.Attr("type")
		switch strings.ToLower(typ) {
		case "submit", "button", "image", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		name, _ := in.Attr("name")
		val, _ := in.Attr("value")
		fields[name] = val
	})
	form.Find("select[name]").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		val, ok := opt.Attr("value")
		if !ok {
			val = strings.TrimSpace(opt.Text())
		}
		fields[name] = val
	})
	return fields
}
