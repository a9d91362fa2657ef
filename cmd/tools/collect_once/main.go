// collect_once runs a single collection pass without the database or
// alerting: it prints what the configured sources would produce. Useful
// for tuning term lists and portal configs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/marcelo/licita-radar/internal/collect"
	"github.com/marcelo/licita-radar/internal/filter"
)

func main() {
	var (
		sourcesFlag = flag.String("sources", "", "comma-separated bulletin source names (empty = all)")
		lookback    = flag.Int("lookback", 0, "override lookback days")
		timeout     = flag.Duration("timeout", 10*time.Minute, "overall pass timeout")
	)
	flag.Parse()

	registry, err := collect.LoadRegistry("internal/collect/config/sources.yaml")
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	termFilter := filter.NewEngine(registry.Terms.Priority, registry.Terms.Positive, registry.Terms.Negative)
	documents := collect.NewRateLimitedFetcher(registry.Fetch)
	landing := collect.NewPortalFetcher()

	registryClient := collect.NewRegistryClient(documents, registry.Registry)
	sources := []collect.Source{registryClient}
	for _, portal := range registry.Portals {
		sources = append(sources, collect.NewBulletinScraper(portal, landing, documents, termFilter, nil))
	}

	scope := collect.Scope{
		Regions:           registry.Scope.Regions,
		LookbackDays:      registry.Scope.LookbackDays,
		OpenProposalsOnly: registry.Scope.OpenProposalsOnly,
	}
	if *lookback > 0 {
		scope.LookbackDays = *lookback
	}
	if *sourcesFlag != "" {
		for _, name := range strings.Split(*sourcesFlag, ",") {
			if name = strings.TrimSpace(name); name != "" {
				scope.Sources = append(scope.Sources, name)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	orchestrator := collect.NewOrchestrator(sources, termFilter)
	orchestrator.Items = registryClient
	opportunities, stats, err := orchestrator.Collect(ctx, scope)
	if err != nil {
		log.Fatalf("Collection failed: %v", err)
	}

	for _, opp := range opportunities {
		window := "-"
		if opp.ProposalWindowEnd != nil {
			window = opp.ProposalWindowEnd.Format("02/01/2006 15:04")
		}
		fmt.Printf("[%s] %s | %s | %s | ends %s | %d items\n",
			opp.Origin, opp.RegionCode, opp.Organization, opp.Modality, window, len(opp.Items))
		fmt.Printf("    %s\n", truncate(opp.ObjectText, 160))
	}
	fmt.Printf("\nfetched=%d errors=%d filtered=%d dropped=%d deduped=%d collected=%d\n",
		stats.Fetched, stats.ErrorRecords, stats.Filtered, stats.Dropped, stats.Deduplicated, stats.Collected)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
