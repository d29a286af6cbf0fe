// Package pipeline walks the configured categories and sources, filters
// their items and posts what is left to Slack.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yomu/internal/commontypes"
	"yomu/internal/config"
	"yomu/internal/filter"
)

// Fetcher returns the items of one feed in feed order.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]commontypes.FeedItem, error)
}

// Summarizer condenses article text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Notifier delivers one payload to one destination.
type Notifier interface {
	Deliver(ctx context.Context, payload commontypes.NotificationPayload, webhook string) error
}

// Pipeline is safe to trigger from several goroutines; a run that starts
// while another is in progress is skipped.
type Pipeline struct {
	categories []commontypes.FeedCategory
	filter     config.FilterConfig

	fetcher    Fetcher
	summarizer Summarizer
	notifier   Notifier
	logger     *zap.Logger

	now func() time.Time
	mu  sync.Mutex
}

// New returns a pipeline over the categories and filter settings in cfg.
func New(cfg *config.Config, fetcher Fetcher, summarizer Summarizer, notifier Notifier, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		categories: cfg.Categories,
		filter:     cfg.Filter,
		fetcher:    fetcher,
		summarizer: summarizer,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Run processes every category, source and item once, sequentially. A
// cancelled ctx ends the run between items; sources not yet started are
// left out of the report.
func (p *Pipeline) Run(ctx context.Context) commontypes.RunReport {
	var report commontypes.RunReport
	if !p.mu.TryLock() {
		p.logger.Warn("Previous run still in progress, skipping")
		return report
	}
	defer p.mu.Unlock()

	start := p.now()
	p.logger.Info("Pipeline run started", zap.Int("categories", len(p.categories)))

categories:
	for _, category := range p.categories {
		for _, source := range category.Sources {
			if ctx.Err() != nil {
				p.logger.Warn("Run cancelled, remaining sources skipped", zap.Error(ctx.Err()))
				break categories
			}
			report.Sources++
			if err := p.runSource(ctx, category, source, &report); err != nil {
				if ctx.Err() != nil {
					p.logger.Warn("Run cancelled",
						zap.String("category", category.Category),
						zap.String("source", source.Name),
						zap.Error(err))
					break categories
				}
				report.SourcesFailed++
				p.logger.Error("Failed to process source",
					zap.String("category", category.Category),
					zap.String("source", source.Name),
					zap.String("url", source.URL),
					zap.Error(err))
			}
		}
	}

	p.logger.Info("Pipeline run finished",
		zap.Duration("elapsed", p.now().Sub(start)),
		zap.Int("sources", report.Sources),
		zap.Int("sources_failed", report.SourcesFailed),
		zap.Int("items", report.Items),
		zap.Int("stale", report.Stale),
		zap.Int("summarized", report.Summarized),
		zap.Int("delivered", report.Delivered),
		zap.Int("delivery_failures", report.DeliveryFailures))
	return report
}

// runSource is the isolation boundary for one feed: errors and panics end
// this source only.
func (p *Pipeline) runSource(ctx context.Context, category commontypes.FeedCategory, source commontypes.FeedSource, report *commontypes.RunReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	log := p.logger.With(
		zap.String("category", category.Category),
		zap.String("source", source.Name))

	items, err := p.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		return err
	}
	log.Debug("Processing feed", zap.Int("items", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Items++

		if filter.IsStale(item, p.now(), p.filter.MaxAge) {
			report.Stale++
			log.Debug("Skipping stale item", zap.String("title", item.Title))
			continue
		}

		payload, ok := p.buildPayload(ctx, log, item, source, report)
		if !ok {
			report.Skipped++
			continue
		}

		if err := p.notifier.Deliver(ctx, payload, category.Webhook); err != nil {
			report.DeliveryFailures++
			log.Error("Failed to post to Slack",
				zap.String("title", item.Title),
				zap.Error(err))
			continue
		}
		report.Delivered++
		log.Info("Posted item", zap.String("title", item.Title))
	}
	return nil
}

// buildPayload summarizes item when needed. It returns false when the
// summarizer failed and the policy is to drop such items.
func (p *Pipeline) buildPayload(ctx context.Context, log *zap.Logger, item commontypes.FeedItem, source commontypes.FeedSource, report *commontypes.RunReport) (commontypes.NotificationPayload, bool) {
	payload := commontypes.NotificationPayload{
		Title:       item.Title,
		SourceName:  source.Name,
		PublishedAt: item.PublishedAt,
		Summary:     item.Body,
		Link:        item.Link,
	}

	if !filter.NeedsSummarization(item.Body, p.filter.SummarizeOver) {
		return payload, true
	}

	summary, err := p.summarizer.Summarize(ctx, item.Body)
	if err != nil {
		report.SummaryFailures++
		if p.filter.OnSummaryError == config.SummarySkip {
			log.Warn("Summarization failed, skipping item",
				zap.String("title", item.Title),
				zap.Error(err))
			return payload, false
		}
		log.Warn("Summarization failed, posting original text",
			zap.String("title", item.Title),
			zap.Error(err))
		return payload, true
	}

	report.Summarized++
	payload.Summary = summary
	payload.Summarized = true
	return payload, true
}
