package commontypes

import "time"

// FeedSource is one polled RSS/Atom endpoint.
type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FeedCategory groups sources announced to the same Slack channel.
type FeedCategory struct {
	Category string       `yaml:"category"`
	Webhook  string       `yaml:"webhook"` // Slack incoming-webhook URL, injected via env
	Sources  []FeedSource `yaml:"sources"`
}

// FeedItem is a single entry returned by a feed fetch
type FeedItem struct {
	Title       string
	PublishedAt *time.Time // nil when the feed carries no usable date
	Body        string
	Link        string
}

// NotificationPayload is what gets posted for one item.
type NotificationPayload struct {
	Title       string
	SourceName  string
	PublishedAt *time.Time
	Summary     string
	Link        string
	Summarized  bool // Summary came from the summarizer and is Markdown
}

// RunReport counts what happened during one pipeline run.
type RunReport struct {
	Sources          int
	SourcesFailed    int
	Items            int
	Stale            int
	Summarized       int
	SummaryFailures  int
	Delivered        int
	DeliveryFailures int
	Skipped          int
}
