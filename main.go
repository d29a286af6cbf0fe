package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"yomu/internal/config"
	"yomu/internal/feed"
	"yomu/internal/logger"
	"yomu/internal/openai"
	"yomu/internal/pipeline"
	"yomu/internal/scheduler"
	"yomu/internal/slack"
)

func listSources(cfg *config.Config) {
	fmt.Println("\nConfigured feeds:")
	for _, category := range cfg.Categories {
		fmt.Printf("- %s (%d sources)\n", category.Category, len(category.Sources))
		for _, source := range category.Sources {
			fmt.Printf("    %s: %s\n", source.Name, source.URL)
		}
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	onceFlag := flag.Bool("once", false, "Run the pipeline once and exit")
	listFlag := flag.Bool("list", false, "List configured categories and feeds")
	flag.Parse()

	if *listFlag {
		cfg, err := config.Read(*configPath)
		if err != nil {
			log.Fatalf("Failed to read configuration: %v", err)
		}
		listSources(cfg)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	summarizer, err := openai.NewClient(cfg.OpenAI, cfg.HTTPTimeout, zl.Named("openai"))
	if err != nil {
		zl.Fatal("Failed to create summarizer", zap.Error(err))
	}
	fetcher := feed.NewFetcher(cfg.HTTPTimeout, zl.Named("feed"),
		feed.WithUserAgent(cfg.Feed.UserAgent),
		feed.WithBodyExtraction(cfg.Feed.ExtractMissingBody))
	notifier := slack.NewNotifier(cfg.Slack, cfg.Location(), cfg.HTTPTimeout, zl.Named("slack"))

	p := pipeline.New(cfg, fetcher, summarizer, notifier, zl.Named("pipeline"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *onceFlag {
		report := p.Run(ctx)
		if report.SourcesFailed > 0 || report.DeliveryFailures > 0 {
			zl.Warn("Run finished with failures",
				zap.Int("sources_failed", report.SourcesFailed),
				zap.Int("delivery_failures", report.DeliveryFailures))
		}
		return
	}

	sched := scheduler.New(cfg.Location(), zl.Named("scheduler"))
	if err := sched.Schedule(cfg.Schedule, func() { p.Run(ctx) }); err != nil {
		zl.Fatal("Failed to schedule pipeline", zap.Error(err))
	}

	zl.Info("Starting feed notifier",
		zap.String("schedule", cfg.Schedule),
		zap.String("timezone", cfg.Timezone),
		zap.Int("categories", len(cfg.Categories)))
	sched.Start()

	var startup sync.WaitGroup
	if cfg.RunOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			p.Run(ctx)
		}()
	}

	<-ctx.Done()
	zl.Info("Shutting down, waiting for the current run to finish")
	<-sched.Stop().Done()
	startup.Wait()
}
