package colly

import (
	"context"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
)

const profilesDoc = `
storefronts:
  - name: demo
    search_url: https://shop.example.com/search?q={query}
    result_selector: div.result
    title_selector: h2 a
    link_selector: h2 a
    price_selector: .price
    product_url_pattern: '/item/(\d+)'
    checkout_controls: ["#missing", "text=Buy now", "button.fallback"]
  - name: form
    home_url: https://shop.example.com/
    search_input: input[name=q]
    result_selector: div.result
    title_selector: h2 a
    link_selector: h2 a
    checkout_controls: ["#buy"]
`

const searchPage = `<html><body>
<div class="result"><h2><a href="/item/1">White Tee</a></h2><span class="price">$10</span></div>
<div class="result"><h2><a href="/item/2">Black Tee</a></h2><span class="price">$11</span></div>
</body></html>`

const itemPage = `<html><body>
<h1>Black Tee</h1>
<form action="/checkout" method="post">
  <input type="hidden" name="sku" value="2">
  <input type="submit" value="Buy now">
</form>
</body></html>`

const homePage = `<html><body>
<form action="/search" method="get"><input name="q"><input type="hidden" name="lang" value="en"></form>
</body></html>`

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func loadProfile(t *testing.T, name string) profile.Profile {
	t.Helper()
	profiles, err := profile.Parse([]byte(profilesDoc))
	if err != nil {
		t.Fatalf("parse profiles: %v", err)
	}
	p, err := profile.Select(profiles, name)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	return p
}

func TestSessionSearchExtractAndCheckout(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example.com/search?q=tee", htmlResponder(searchPage))
	transport.RegisterResponder("GET", "https://shop.example.com/item/2", htmlResponder(itemPage))
	transport.RegisterResponder("POST", "https://shop.example.com/checkout", htmlResponder("<html><body>Order review</body></html>"))

	p := loadProfile(t, "demo")
	ctx := context.Background()
	s, err := Open(ctx, p, Options{Transport: transport})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Search(ctx, "tee"); err != nil {
		t.Fatalf("search: %v", err)
	}
	first, err := s.ExtractCandidates(ctx)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	second, err := s.ExtractCandidates(ctx)
	if err != nil {
		t.Fatalf("extract again: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 candidates, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Same(second[i]) {
			t.Fatalf("extraction changed between reads")
		}
	}
	if first[1].Link != "https://shop.example.com/item/2" {
		t.Fatalf("unexpected link %s", first[1].Link)
	}

	ok, err := s.ActivateByTitle(ctx, "Black Tee")
	if err != nil || !ok {
		t.Fatalf("activate: ok=%v err=%v", ok, err)
	}
	loc, _ := s.CurrentLocation(ctx)
	if !p.IsProductDetail(loc, first[1]) {
		t.Fatalf("expected product detail at %s", loc)
	}

	clicked, err := s.LocateAndClick(ctx, p.CheckoutControls)
	if err != nil || !clicked {
		t.Fatalf("click: ok=%v err=%v", clicked, err)
	}
	shot, err := s.Screenshot(ctx)
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if shot.MIME != "text/html" || !strings.Contains(string(shot.Data), "Order review") {
		t.Fatalf("unexpected artifact %s %q", shot.MIME, shot.Data)
	}
	if got := transport.GetCallCountInfo()["POST https://shop.example.com/checkout"]; got != 1 {
		t.Fatalf("expected one checkout post, got %d", got)
	}
}

func TestSessionActivateMissingTitle(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example.com/search?q=tee", htmlResponder(searchPage))
	p := loadProfile(t, "demo")
	s, _ := Open(context.Background(), p, Options{Transport: transport})
	if err := s.Search(context.Background(), "tee"); err != nil {
		t.Fatalf("search: %v", err)
	}
	ok, err := s.ActivateByTitle(context.Background(), "Red Hoodie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no activation")
	}
	clicked, err := s.LocateAndClick(context.Background(), []string{"#nothing"})
	if err != nil || clicked {
		t.Fatalf("expected no click, got %v %v", clicked, err)
	}
}

func TestSessionSearchSubmitsForm(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example.com/", htmlResponder(homePage))
	transport.RegisterResponder("GET", "https://shop.example.com/search?lang=en&q=white+tee", htmlResponder(searchPage))
	p := loadProfile(t, "form")
	s, _ := Open(context.Background(), p, Options{Transport: transport})
	if err := s.Search(context.Background(), "white tee"); err != nil {
		t.Fatalf("search: %v", err)
	}
	cands, err := s.ExtractCandidates(context.Background())
	if err != nil || len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d err=%v", len(cands), err)
	}
}

func TestSessionSearchReportsHTTPErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example.com/search?q=tee", httpmock.NewStringResponder(503, "busy"))
	s, _ := Open(context.Background(), loadProfile(t, "demo"), Options{Transport: transport})
	if err := s.Search(context.Background(), "tee"); err == nil {
		t.Fatalf("expected error for 503")
	}
	if _, err := s.ExtractCandidates(context.Background()); err == nil {
		t.Fatalf("expected error with no page loaded")
	}
}
