package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/marcelo/licita-radar/internal/ai"
	"github.com/marcelo/licita-radar/internal/api"
	"github.com/marcelo/licita-radar/internal/collect"
	"github.com/marcelo/licita-radar/internal/db"
	"github.com/marcelo/licita-radar/internal/filter"
	"github.com/marcelo/licita-radar/internal/jobs"
	"github.com/marcelo/licita-radar/internal/match"
	"github.com/marcelo/licita-radar/internal/notify"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	store := db.NewStore(pool)

	registry, err := collect.LoadRegistry("internal/collect/config/sources.yaml")
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	manager := buildManager(store, registry)
	if err := manager.CleanupOrphans(ctx); err != nil {
		log.Fatalf("Orphan run cleanup failed: %v", err)
	}

	defaultScope := collect.Scope{
		Regions:           registry.Scope.Regions,
		LookbackDays:      registry.Scope.LookbackDays,
		OpenProposalsOnly: registry.Scope.OpenProposalsOnly,
		Sources:           registry.Scope.Sources,
	}

	// Daily collection pass. A run still in flight simply makes the
	// scheduled start a no-op.
	schedule := os.Getenv("COLLECT_SCHEDULE")
	if schedule == "" {
		schedule = "0 6 * * *"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := manager.Start(defaultScope); err != nil {
			log.Printf("[Cron] scheduled run not started: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid COLLECT_SCHEDULE %q: %v", schedule, err)
	}
	c.Start()
	defer c.Stop()

	srv := api.NewServer(store, manager, defaultScope)
	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Fatal(err)
	}
}

func buildManager(store *db.Store, registry *collect.Registry) *jobs.Manager {
	termFilter := filter.NewEngine(registry.Terms.Priority, registry.Terms.Positive, registry.Terms.Negative)

	var aiClient *ai.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		aiClient = ai.NewClient(key)
	} else {
		log.Print("OPENAI_API_KEY is not set; segment enrichment and match verification disabled")
	}

	documents := collect.NewRateLimitedFetcher(registry.Fetch)
	landing := collect.NewPortalFetcher()

	registryClient := collect.NewRegistryClient(documents, registry.Registry)
	sources := []collect.Source{registryClient}
	for _, portal := range registry.Portals {
		var enricher collect.Enricher
		if aiClient != nil {
			enricher = aiClient
		}
		sources = append(sources, collect.NewBulletinScraper(portal, landing, documents, termFilter, enricher))
	}

	engine := match.NewEngine(match.Config{
		AcceptThreshold:      registry.Matching.AcceptThreshold,
		CrossCategoryPenalty: registry.Matching.CrossCategoryPenalty,
	})

	var verifier match.Verifier
	if aiClient != nil && registry.Matching.VerifyMatches {
		verifier = aiClient
	}
	var embedder jobs.Embedder
	if aiClient != nil {
		embedder = aiClient
	}

	cachePath := os.Getenv("NOTIFY_CACHE_PATH")
	if cachePath == "" {
		cachePath = "data/notified.json"
	}
	cache, err := notify.OpenDedupeCache(cachePath)
	if err != nil {
		log.Fatalf("Failed to open notification cache: %v", err)
	}
	if _, err := cache.CleanupOldEntries(90); err != nil {
		log.Printf("Notification cache cleanup failed: %v", err)
	}

	var sender notify.Sender
	var contacts []int64
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		tg, err := notify.NewTelegramSender(token)
		if err != nil {
			log.Fatalf("Failed to init telegram sender: %v", err)
		}
		sender = tg
		contacts = parseChatIDs(os.Getenv("TELEGRAM_CHAT_IDS"))
		if len(contacts) == 0 {
			log.Print("TELEGRAM_CHAT_IDS is empty; alerts will not be delivered")
		}
	} else {
		log.Print("TELEGRAM_BOT_TOKEN is not set; alerting disabled")
	}

	orchestrator := collect.NewOrchestrator(sources, termFilter)
	orchestrator.Items = registryClient

	return &jobs.Manager{
		Store:        store,
		Orchestrator: orchestrator,
		Engine:       engine,
		Verifier:     verifier,
		Embedder:     embedder,
		Cache:        cache,
		Sender:       sender,
		Contacts:     contacts,
	}
}

func parseChatIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid telegram chat id %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
