package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"yomu/internal/commontypes"
	"yomu/internal/config"
)

// Slack rejects blocks whose text exceeds these rune counts.
const (
	headerTextLimit  = 150
	sectionTextLimit = 3000
)

// DeliveryError means the webhook post failed.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "slack delivery: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier posts one article per message to Slack incoming webhooks.
type Notifier struct {
	client   *http.Client
	labels   config.SlackConfig
	location *time.Location
	logger   *zap.Logger
}

// NewNotifier returns a Notifier that renders dates in loc and bounds each
// post by timeout.
func NewNotifier(labels config.SlackConfig, loc *time.Location, timeout time.Duration, logger *zap.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		client:   &http.Client{Timeout: timeout},
		labels:   labels,
		location: loc,
		logger:   logger,
	}
}

// Deliver posts payload to the single webhook given.
func (n *Notifier) Deliver(ctx context.Context, payload commontypes.NotificationPayload, webhook string) error {
	msg := n.BuildMessage(payload)
	if err := slack.PostWebhookCustomHTTPContext(ctx, webhook, n.client, msg); err != nil {
		return &DeliveryError{Err: err}
	}
	n.logger.Debug("Posted to Slack",
		zap.String("title", payload.Title),
		zap.String("source", payload.SourceName))
	return nil
}

// BuildMessage renders payload as header, source/date line, summary and
// read-more link followed by a divider.
func (n *Notifier) BuildMessage(payload commontypes.NotificationPayload) *slack.WebhookMessage {
	title := strings.ToValidUTF8(payload.Title, "�")
	if strings.TrimSpace(title) == "" {
		title = n.labels.NoTitle
	}
	title = truncateRunes(title, headerTextLimit)

	source := payload.SourceName
	if payload.PublishedAt != nil {
		source = fmt.Sprintf("%s (%s)", payload.SourceName, payload.PublishedAt.In(n.location).Format(n.labels.DateFormat))
	}

	summary := payload.Summary
	if payload.Summarized {
		summary = MarkdownToMrkdwn(summary)
	} else {
		summary = mrkdwnEscaper.Replace(summary)
	}
	if strings.TrimSpace(summary) == "" {
		summary = n.labels.NoSummary
	}
	summary = truncateMrkdwn(summary, sectionTextLimit)

	link := n.labels.ReadMore
	if payload.Link != "" {
		link = fmt.Sprintf("<%s|%s>", payload.Link, n.labels.ReadMore)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, source, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, link, false, false), nil, nil),
		slack.NewDividerBlock(),
	}

	return &slack.WebhookMessage{
		Text:   title,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

// truncateRunes cuts s to at most limit runes, marking the cut with an ellipsis.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

// truncateMrkdwn is truncateRunes that never leaves half an escape entity behind.
func truncateMrkdwn(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := string([]rune(s)[:limit-1])
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && !strings.Contains(cut[i:], ";") {
		cut = cut[:i]
	}
	return cut + "…"
}
