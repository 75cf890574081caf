// Package unfurl extracts link-preview metadata for a URL: title,
// description, representative image and favicon. Resolution never fails from
// the caller's perspective; every error path yields the all-empty result and
// the client renders an empty bookmark.
package unfurl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/metrics"
)

const (
	maxBodyBytes = 2 << 20
	maxRedirects = 5
)

// Result always carries all four fields; missing values are empty strings.
type Result struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Favicon     string `json:"favicon"`
}

// Resolver fetches a page and extracts Open Graph metadata with
// Twitter-card fallback for the image.
type Resolver struct {
	client *http.Client
	logger zerolog.Logger
}

// NewResolver builds a resolver over the given client. The client should
// carry the timeout budget and any dial restrictions.
func NewResolver(client *http.Client) *Resolver {
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("unfurl: stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &Resolver{
		client: client,
		logger: log.WithComponent("unfurl"),
	}
}

// Resolve fetches rawURL and extracts its metadata. Any fetch or parse
// failure returns the empty result.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	res, err := r.resolve(ctx, rawURL)
	if err != nil {
		metrics.UnfurlFailed()
		r.logger.Debug().Err(err).Str("url", rawURL).Str("event", "unfurl.failed").Msg("unfurl failed")
		return Result{}
	}
	metrics.UnfurlSucceeded()
	return res
}

func (r *Resolver) resolve(ctx context.Context, rawURL string) (Result, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return Result{}, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "inkhub-unfurl/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	// The final URL after redirects anchors relative references.
	base := target
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	meta, err := extract(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("parse: %w", err)
	}

	res := Result{
		Title:       firstNonEmpty(meta["og:title"], meta["title"]),
		Description: firstNonEmpty(meta["og:description"], meta["description"]),
		Image:       absolutize(base, firstNonEmpty(meta["og:image"], meta["twitter:image"])),
		Favicon:     absolutize(base, meta["favicon"]),
	}
	if res.Favicon == "" {
		res.Favicon = base.Scheme + "://" + base.Host + "/favicon.ico"
	}
	return res, nil
}

// extract tokenizes the document head and collects meta/link/title values.
func extract(body io.Reader) (map[string]string, error) {
	meta := make(map[string]string)
	z := html.NewTokenizer(body)
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return meta, nil
			}
			// A truncated body still yields whatever was collected.
			return meta, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				key, content := "", ""
				for _, a := range tok.Attr {
					switch a.Key {
					case "property", "name":
						key = strings.ToLower(a.Val)
					case "content":
						content = a.Val
					}
				}
				if key != "" && content != "" {
					if _, seen := meta[key]; !seen {
						meta[key] = content
					}
				}
			case "link":
				rel, href := "", ""
				for _, a := range tok.Attr {
					switch a.Key {
					case "rel":
						rel = strings.ToLower(a.Val)
					case "href":
						href = a.Val
					}
				}
				if href != "" && strings.Contains(rel, "icon") {
					if _, seen := meta["favicon"]; !seen {
						meta["favicon"] = href
					}
				}
			case "title":
				inTitle = true
			case "body":
				// Everything we need lives in the head.
				return meta, nil
			}
		case html.TextToken:
			if inTitle {
				if _, seen := meta["title"]; !seen {
					meta["title"] = strings.TrimSpace(z.Token().Data)
				}
			}
		case html.EndTagToken:
			if z.Token().Data == "title" {
				inTitle = false
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// absolutize resolves ref against base so relative image and icon paths
// come back as fetchable URLs.
func absolutize(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
