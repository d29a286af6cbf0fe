package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"yomu/internal/commontypes"
)

// FetchError means a feed could not be downloaded or parsed.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads and parses RSS/Atom feeds.
type Fetcher struct {
	parser      *gofeed.Parser
	client      *http.Client
	userAgent   string
	extractBody bool
	logger      *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBodyExtraction makes the fetcher download the linked page for items
// that arrive without any body and use its readable text instead.
func WithBodyExtraction(enabled bool) Option {
	return func(f *Fetcher) { f.extractBody = enabled }
}

// WithUserAgent sets the User-Agent sent with feed and page requests.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// NewFetcher returns a Fetcher whose requests are bounded by timeout.
func NewFetcher(timeout time.Duration, logger *zap.Logger, opts ...Option) *Fetcher {
	client := &http.Client{Timeout: timeout}
	parser := gofeed.NewParser()
	parser.Client = client

	f := &Fetcher{
		parser: parser,
		client: client,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.userAgent != "" {
		parser.UserAgent = f.userAgent
	}
	return f
}

// Fetch returns the items of the feed at feedURL in feed order.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]commontypes.FeedItem, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}

	items := make([]commontypes.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		item := convertItem(it, parsed.FeedType)
		if item.Body == "" && item.Link != "" && f.extractBody {
			body, err := f.extract(ctx, item.Link)
			if err != nil {
				f.logger.Warn("Failed to extract article body",
					zap.String("link", item.Link),
					zap.Error(err))
			} else {
				item.Body = body
			}
		}
		items = append(items, item)
	}

	f.logger.Debug("Fetched feed",
		zap.String("url", feedURL),
		zap.String("title", parsed.Title),
		zap.Int("items", len(items)))
	return items, nil
}

// convertItem maps a gofeed item. RSS bodies come from <description>; Atom
// entries prefer <content> over <summary>.
func convertItem(it *gofeed.Item, feedType string) commontypes.FeedItem {
	body := it.Description
	if (feedType == "atom" && it.Content != "") || body == "" {
		body = it.Content
	}

	var published *time.Time
	if it.PublishedParsed != nil {
		published = it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		published = it.UpdatedParsed
	}

	return commontypes.FeedItem{
		Title:       it.Title,
		PublishedAt: published,
		Body:        body,
		Link:        it.Link,
	}
}

// extract pulls the readable text of the page at link.
func (f *Fetcher) extract(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil || pageURL.Scheme == "" || pageURL.Host == "" {
		return "", fmt.Errorf("invalid link %q", link)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}
