package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"yomu/internal/commontypes"
	"yomu/internal/config"
	"yomu/internal/openai"
	"yomu/internal/slack"
)

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

type fakeFetcher struct {
	feeds  map[string][]commontypes.FeedItem
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]commontypes.FeedItem, error) {
	f.calls = append(f.calls, url)
	if f.panics[url] {
		panic("parser blew up")
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.feeds[url], nil
}

type fakeSummarizer struct {
	calls []string
	err   error
}

func (s *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return "", s.err
	}
	return "要約: " + text, nil
}

type delivery struct {
	payload commontypes.NotificationPayload
	webhook string
}

type fakeNotifier struct {
	delivered []delivery
	failOn    map[string]bool // by title
	entered   chan struct{}   // closed on the first Deliver call
	block     chan struct{}
	once      sync.Once
}

func (n *fakeNotifier) Deliver(_ context.Context, p commontypes.NotificationPayload, webhook string) error {
	if n.entered != nil {
		n.once.Do(func() { close(n.entered) })
	}
	if n.block != nil {
		<-n.block
	}
	if n.failOn[p.Title] {
		return &slack.DeliveryError{Err: errors.New("status 500")}
	}
	n.delivered = append(n.delivered, delivery{p, webhook})
	return nil
}

func testConfig(categories ...commontypes.FeedCategory) *config.Config {
	return &config.Config{
		Filter: config.FilterConfig{
			MaxAge:         12 * time.Hour,
			SummarizeOver:  200,
			OnSummaryError: config.SummaryFallback,
		},
		Categories: categories,
	}
}

func newTestPipeline(cfg *config.Config, f Fetcher, s Summarizer, n Notifier, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := New(cfg, f, s, n, logger)
	p.now = func() time.Time { return now }
	return p
}

func TestRunTechNewsScenario(t *testing.T) {
	const hnURL = "https://hnrss.org/newest?points=100"
	body := "Fifty characters of English text about a release."

	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		hnURL: {
			{Title: "A", PublishedAt: ago(time.Hour), Body: body, Link: "https://example.com/a"},
			{Title: "B", PublishedAt: ago(20 * time.Hour), Body: "old", Link: "https://example.com/b"},
		},
	}}
	summarizer := &fakeSummarizer{}
	notifier := &fakeNotifier{}

	cfg := testConfig(commontypes.FeedCategory{
		Category: "tech-news",
		Webhook:  "https://hooks.slack.com/services/tech",
		Sources:  []commontypes.FeedSource{{Name: "Hacker News", URL: hnURL}},
	})
	report := newTestPipeline(cfg, fetcher, summarizer, notifier, nil).Run(context.Background())

	if len(summarizer.calls) != 1 || summarizer.calls[0] != body {
		t.Fatalf("summarizer calls = %v", summarizer.calls)
	}
	if len(notifier.delivered) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(notifier.delivered))
	}

	got := notifier.delivered[0]
	if got.webhook != "https://hooks.slack.com/services/tech" {
		t.Errorf("webhook = %s", got.webhook)
	}
	if got.payload.Title != "A" || got.payload.SourceName != "Hacker News" || got.payload.Link != "https://example.com/a" {
		t.Errorf("payload = %+v", got.payload)
	}
	if !got.payload.Summarized || got.payload.Summary != "要約: "+body {
		t.Errorf("summary = %q (summarized=%v)", got.payload.Summary, got.payload.Summarized)
	}

	want := commontypes.RunReport{Sources: 1, Items: 2, Stale: 1, Summarized: 1, Delivered: 1}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
}

func TestRunPostsJapaneseBodyVerbatim(t *testing.T) {
	body := "新しい機能が追加されました。詳しくはブログをご覧ください。"
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"u": {{Title: "お知らせ", PublishedAt: ago(time.Minute), Body: body}},
	}}
	summarizer := &fakeSummarizer{}
	notifier := &fakeNotifier{}

	cfg := testConfig(commontypes.FeedCategory{Category: "blog", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
	newTestPipeline(cfg, fetcher, summarizer, notifier, nil).Run(context.Background())

	if len(summarizer.calls) != 0 {
		t.Errorf("summarizer should not be called, got %v", summarizer.calls)
	}
	if len(notifier.delivered) != 1 || notifier.delivered[0].payload.Summary != body || notifier.delivered[0].payload.Summarized {
		t.Errorf("delivered = %+v", notifier.delivered)
	}
}

func TestRunUndatedItemIsNotDropped(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"u": {{Title: "undated", Body: ""}},
	}}
	notifier := &fakeNotifier{}
	summarizer := &fakeSummarizer{}

	cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
	newTestPipeline(cfg, fetcher, summarizer, notifier, nil).Run(context.Background())

	if len(notifier.delivered) != 1 {
		t.Fatalf("undated item should be delivered, got %d", len(notifier.delivered))
	}
	if len(summarizer.calls) != 0 {
		t.Errorf("empty body must not reach the summarizer")
	}
}

func TestRunDeliveryErrorDoesNotStopNextItem(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"u": {
			{Title: "first", PublishedAt: ago(time.Hour), Body: "短い本文です"},
			{Title: "second", PublishedAt: ago(time.Hour), Body: "短い本文です"},
		},
	}}
	notifier := &fakeNotifier{failOn: map[string]bool{"first": true}}

	cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
	report := newTestPipeline(cfg, fetcher, &fakeSummarizer{}, notifier, nil).Run(context.Background())

	if len(notifier.delivered) != 1 || notifier.delivered[0].payload.Title != "second" {
		t.Fatalf("delivered = %+v", notifier.delivered)
	}
	if report.DeliveryFailures != 1 || report.Delivered != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunSourceFailureDoesNotBlockSiblings(t *testing.T) {
	fetcher := &fakeFetcher{
		feeds: map[string][]commontypes.FeedItem{
			"ok-1": {{Title: "one", PublishedAt: ago(time.Hour), Body: "本文です"}},
			"ok-2": {{Title: "two", PublishedAt: ago(time.Hour), Body: "本文です"}},
		},
		errs:   map[string]error{"broken": errors.New("dial tcp: timeout")},
		panics: map[string]bool{"panicky": true},
	}
	notifier := &fakeNotifier{}

	cfg := testConfig(
		commontypes.FeedCategory{Category: "a", Webhook: "wa", Sources: []commontypes.FeedSource{
			{Name: "broken", URL: "broken"},
			{Name: "ok-1", URL: "ok-1"},
		}},
		commontypes.FeedCategory{Category: "b", Webhook: "wb", Sources: []commontypes.FeedSource{
			{Name: "panicky", URL: "panicky"},
			{Name: "ok-2", URL: "ok-2"},
		}},
	)
	report := newTestPipeline(cfg, fetcher, &fakeSummarizer{}, notifier, nil).Run(context.Background())

	if got := strings.Join(fetcher.calls, ","); got != "broken,ok-1,panicky,ok-2" {
		t.Errorf("fetch order = %s", got)
	}
	if len(notifier.delivered) != 2 {
		t.Fatalf("delivered %d, want 2", len(notifier.delivered))
	}
	if notifier.delivered[0].webhook != "wa" || notifier.delivered[1].webhook != "wb" {
		t.Errorf("each item must go to its own category webhook: %+v", notifier.delivered)
	}
	if report.SourcesFailed != 2 || report.Sources != 4 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunSummaryFailurePolicy(t *testing.T) {
	items := map[string][]commontypes.FeedItem{
		"u": {{Title: "english", PublishedAt: ago(time.Hour), Body: "An English body."}},
	}
	upstream := &openai.UpstreamError{Err: errors.New("429 too many requests")}

	t.Run("fallback", func(t *testing.T) {
		notifier := &fakeNotifier{}
		cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
		report := newTestPipeline(cfg, &fakeFetcher{feeds: items}, &fakeSummarizer{err: upstream}, notifier, nil).Run(context.Background())

		if len(notifier.delivered) != 1 {
			t.Fatalf("delivered %d, want 1", len(notifier.delivered))
		}
		p := notifier.delivered[0].payload
		if p.Summary != "An English body." || p.Summarized {
			t.Errorf("fallback payload = %+v", p)
		}
		if report.SummaryFailures != 1 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("skip", func(t *testing.T) {
		notifier := &fakeNotifier{}
		cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
		cfg.Filter.OnSummaryError = config.SummarySkip
		report := newTestPipeline(cfg, &fakeFetcher{feeds: items}, &fakeSummarizer{err: upstream}, notifier, nil).Run(context.Background())

		if len(notifier.delivered) != 0 {
			t.Fatalf("delivered %d, want 0", len(notifier.delivered))
		}
		if report.Skipped != 1 || report.SummaryFailures != 1 {
			t.Errorf("report = %+v", report)
		}
	})
}

func TestRunFallbackBodyFitsSlackSection(t *testing.T) {
	var sections []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg struct {
			Blocks []struct {
				Type string `json:"type"`
				Text struct {
					Text string `json:"text"`
				} `json:"text"`
			} `json:"blocks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		for _, b := range msg.Blocks {
			if b.Type == "section" {
				sections = append(sections, b.Text.Text)
			}
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body := strings.Repeat("An extracted article paragraph. ", 160)
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"u": {{Title: "long", PublishedAt: ago(time.Hour), Body: body, Link: "https://example.com/long"}},
	}}
	summarizer := &fakeSummarizer{err: &openai.UpstreamError{Err: errors.New("503 service unavailable")}}
	notifier := slack.NewNotifier(config.SlackConfig{NoTitle: "-", NoSummary: "-", ReadMore: "more", DateFormat: time.RFC3339}, time.UTC, 5*time.Second, zap.NewNop())

	cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: srv.URL, Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
	report := newTestPipeline(cfg, fetcher, summarizer, notifier, nil).Run(context.Background())

	if report.Delivered != 1 || report.DeliveryFailures != 0 || report.SummaryFailures != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}
	if n := utf8.RuneCountInString(sections[1]); n > 3000 {
		t.Errorf("body section has %d runes, Slack accepts at most 3000", n)
	}
	if !strings.HasPrefix(sections[1], "An extracted article paragraph.") {
		t.Errorf("body section = %q", sections[1][:40])
	}
}

func TestRunStopsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"first":  {{Title: "one", PublishedAt: ago(time.Hour), Body: "本文です"}},
		"second": {{Title: "two", PublishedAt: ago(time.Hour), Body: "本文です"}},
	}}
	notifier := &cancellingNotifier{cancel: cancel}

	cfg := testConfig(
		commontypes.FeedCategory{Category: "a", Webhook: "wa", Sources: []commontypes.FeedSource{{Name: "first", URL: "first"}}},
		commontypes.FeedCategory{Category: "b", Webhook: "wb", Sources: []commontypes.FeedSource{{Name: "second", URL: "second"}}},
	)
	report := newTestPipeline(cfg, fetcher, &fakeSummarizer{}, notifier, nil).Run(ctx)

	if got := strings.Join(fetcher.calls, ","); got != "first" {
		t.Errorf("fetched %s after cancellation", got)
	}
	if report.SourcesFailed != 0 || report.Sources != 1 || report.Delivered != 1 {
		t.Errorf("report = %+v", report)
	}
}

// cancellingNotifier cancels the run once it has delivered something.
type cancellingNotifier struct {
	cancel context.CancelFunc
}

func (n *cancellingNotifier) Deliver(context.Context, commontypes.NotificationPayload, string) error {
	n.cancel()
	return nil
}

func TestRunSkipsOverlappingRun(t *testing.T) {
	fetcher := &fakeFetcher{feeds: map[string][]commontypes.FeedItem{
		"u": {{Title: "t", PublishedAt: ago(time.Hour), Body: "本文です"}},
	}}
	notifier := &fakeNotifier{entered: make(chan struct{}), block: make(chan struct{})}
	core, logs := observer.New(zapcore.WarnLevel)

	cfg := testConfig(commontypes.FeedCategory{Category: "c", Webhook: "w", Sources: []commontypes.FeedSource{{Name: "s", URL: "u"}}})
	p := newTestPipeline(cfg, fetcher, &fakeSummarizer{}, notifier, zap.New(core))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(context.Background())
	}()

	select {
	case <-notifier.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached delivery")
	}

	report := p.Run(context.Background())
	close(notifier.block)
	wg.Wait()

	if report != (commontypes.RunReport{}) {
		t.Errorf("overlapping run should do nothing, got %+v", report)
	}
	if logs.FilterMessage("Previous run still in progress, skipping").Len() != 1 {
		t.Errorf("expected skip warning, got %v", logs.All())
	}
	if len(notifier.delivered) != 1 {
		t.Errorf("delivered %d, want 1", len(notifier.delivered))
	}
}
