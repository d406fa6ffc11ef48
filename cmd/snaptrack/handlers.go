package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hyunwoo/snaptrack/internal/config"
	"github.com/hyunwoo/snaptrack/internal/scheduler"
	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/alert"
	"github.com/hyunwoo/snaptrack/pkg/analytics"
	"github.com/hyunwoo/snaptrack/pkg/server"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func buildConnectors(cfg *config.Config) []source.Connector {
	filter := source.NewFilter(cfg.Filter.IncludeKeywords, cfg.Filter.ExcludeKeywords)

	var connectors []source.Connector

	if cfg.Sources.Reddit.Enabled {
		connectors = append(connectors, source.NewReddit(cfg.Sources.Reddit.Subreddit, cfg.Sources.Reddit.Limit))
	}
	if cfg.Sources.GitHub.Enabled {
		connectors = append(connectors, source.NewGitHub(cfg.Sources.GitHub.Token, cfg.Sources.GitHub.Language, cfg.Sources.GitHub.Limit))
	}
	if cfg.Sources.HackerNews.Enabled {
		connectors = append(connectors, source.NewHackerNews(cfg.Sources.HackerNews.Limit, filter))
	}
	if cfg.Sources.RSS.Enabled && len(cfg.Sources.RSS.Feeds) > 0 {
		feeds := make([]source.RSSFeed, len(cfg.Sources.RSS.Feeds))
		for i, f := range cfg.Sources.RSS.Feeds {
			feeds[i] = source.RSSFeed{Name: f.Name, URL: f.URL}
		}
		connectors = append(connectors, source.NewRSS(feeds, filter))
	}

	return connectors
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func buildObservers(db store.Store, log *slog.Logger, alertMgr *alert.Manager) []scheduler.Observer {
	observers := []scheduler.Observer{
		&scheduler.LogObserver{Log: log},
		&scheduler.StoreObserver{Store: db, Log: log},
	}
	if alertMgr.HasNotifiers() {
		observers = append(observers, &scheduler.AlertObserver{Manager: alertMgr, Log: log})
	}
	return observers
}

func parseSource(name string) (source.SourceType, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "hn" {
		s = "hackernews"
	}
	st := source.SourceType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown source %q (expected reddit, github, hackernews, or rss)", name)
	}
	return st, nil
}

func runCollect(filterSources []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	allConnectors := buildConnectors(cfg)

	var connectors []source.Connector
	if len(filterSources) > 0 {
		wanted := make(map[source.SourceType]bool)
		for _, s := range filterSources {
			st, err := parseSource(s)
			if err != nil {
				return err
			}
			wanted[st] = true
		}
		for _, c := range allConnectors {
			if wanted[c.Name()] {
				connectors = append(connectors, c)
			}
		}
		if len(connectors) == 0 {
			return fmt.Errorf("no enabled sources match: %s", strings.Join(filterSources, ", "))
		}
	} else {
		connectors = allConnectors
	}

	ctx := context.Background()
	var failed int

	for _, conn := range connectors {
		fmt.Fprintf(os.Stderr, "collecting from %s...\n", conn.Name())
		items, err := conn.Collect(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
			failed++
			continue
		}

		sess, err := db.CreateSession(ctx, conn.Name(), items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  store error: %v\n", err)
			failed++
			continue
		}

		fmt.Fprintf(os.Stderr, "  session %d: %d items\n", sess.ID, sess.ItemCount)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(connectors))
	}
	return nil
}

func runSessions(srcName string, limit int, jsonOutput bool) error {
	src, err := parseSource(srcName)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sessions, err := db.RecentSessions(context.Background(), src, limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if jsonOutput {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Printf("no sessions for %s (try: snaptrack collect --source %s)\n", src, src)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOLLECTED\tITEMS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%d\n", s.ID, s.CollectedAt.Format(time.RFC3339), s.ItemCount)
	}
	return w.Flush()
}

func runCompare(srcName, olderArg, newerArg string, jsonOutput bool) error {
	src, err := parseSource(srcName)
	if err != nil {
		return err
	}
	olderID, err := strconv.ParseInt(olderArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid older session id %q", olderArg)
	}
	newerID, err := strconv.ParseInt(newerArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid newer session id %q", newerArg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := analytics.New(db)
	cmp, err := engine.Compare(context.Background(), src, olderID, newerID)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	if jsonOutput {
		return printJSON(cmp)
	}

	fmt.Printf("%s: session %d -> %d\n", cmp.Source, cmp.OlderID, cmp.NewerID)
	fmt.Printf("items: %d -> %d (%+d)\n", cmp.OlderCount, cmp.NewerCount, cmp.CountChange)

	if len(cmp.Metrics) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tOLD AVG\tNEW AVG\tCHANGE\tPCT")
	for _, name := range source.TrackedMetrics(src) {
		d, ok := cmp.Metrics[name]
		if !ok {
			continue
		}
		pct := "n/a"
		if d.PercentChange != nil {
			pct = fmt.Sprintf("%+.1f%%", *d.PercentChange)
		}
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%+.1f\t%s\n", name, d.Old, d.New, d.Change, pct)
	}
	return w.Flush()
}

func runSummarize(srcName, idArg string, jsonOutput bool) error {
	src, err := parseSource(srcName)
	if err != nil {
		return err
	}
	sessionID, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q", idArg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := analytics.New(db)
	summary, err := engine.Summarize(context.Background(), src, sessionID)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if jsonOutput {
		return printJSON(summary)
	}

	fmt.Printf("%s: session %d (%s), %d items\n",
		summary.Source, summary.SessionID,
		summary.CollectedAt.Format(time.RFC3339), summary.ItemCount)

	if len(summary.MetricStats) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METRIC\tMEAN\tMEDIAN\tSTD\tMAX\tMIN")
		for _, name := range source.TrackedMetrics(src) {
			st, ok := summary.MetricStats[name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.0f\t%.0f\n",
				name, st.Mean, st.Median, st.Std, st.Max, st.Min)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	for _, facet := range source.SummaryFacets(src) {
		counts, ok := summary.Distributions[facet]
		if !ok {
			continue
		}
		fmt.Printf("\n%s:\n", facet)
		for _, kc := range sortedCounts(counts) {
			fmt.Printf("  %-24s %d\n", kc.Keyword, kc.Count)
		}
	}

	if len(summary.TopKeywords) > 0 {
		fmt.Println("\ntop keywords:")
		for _, kc := range summary.TopKeywords {
			fmt.Printf("  %-24s %d\n", kc.Keyword, kc.Count)
		}
	}
	return nil
}

// sortedCounts orders a distribution by descending count, then name.
func sortedCounts(counts map[string]int) []analytics.KeywordCount {
	out := make([]analytics.KeywordCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, analytics.KeywordCount{Keyword: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

func runTrend(srcName string, days int, jsonOutput bool) error {
	src, err := parseSource(srcName)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := analytics.New(db)
	points, err := engine.Trend(context.Background(), src, days)
	if err != nil {
		return fmt.Errorf("trend: %w", err)
	}

	if jsonOutput {
		return printJSON(points)
	}

	if len(points) == 0 {
		fmt.Printf("no data for %s in the last %d days\n", src, days)
		return nil
	}

	metrics := source.TrackedMetrics(src)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "DATE\tITEMS"
	for _, m := range metrics {
		header += "\tAVG " + strings.ToUpper(m)
	}
	fmt.Fprintln(w, header)
	for _, p := range points {
		row := fmt.Sprintf("%s\t%d", p.Date, p.ItemCount)
		for _, m := range metrics {
			row += fmt.Sprintf("\t%.1f", p.Averages[m])
		}
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}

func runStats(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	stats, err := db.Statistics(context.Background())
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}

	if jsonOutput {
		return printJSON(stats)
	}

	if len(stats) == 0 {
		fmt.Println("no data collected yet (try: snaptrack collect)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSESSIONS\tITEMS\tFIRST\tLAST")
	for _, src := range source.AllSourceTypes() {
		st, ok := stats[src]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			src, st.TotalSessions, st.TotalItems,
			st.FirstCollectedAt.Format(time.RFC3339),
			st.LastCollectedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := analytics.New(db)
	srv := server.New(db, engine, port)

	fmt.Fprintf(os.Stderr, "listening on :%d\n", port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	log := newLogger()
	connectors := buildConnectors(cfg)
	byName := make(map[source.SourceType]source.Connector, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
	}

	alertMgr := buildAlertManager(cfg)
	sched := scheduler.New(db, log, buildObservers(db, log, alertMgr)...)

	for _, jc := range cfg.Scheduler.Jobs {
		src, err := parseSource(jc.Source)
		if err != nil {
			return fmt.Errorf("scheduler job: %w", err)
		}
		conn, ok := byName[src]
		if !ok {
			log.Warn("job source not enabled, skipping", "source", src)
			continue
		}

		var cadence scheduler.Cadence
		if h, m, ok := jc.ParseDaily(); ok {
			cadence.Daily = &scheduler.DailyTime{Hour: h, Minute: m}
		} else if jc.IntervalHours > 0 {
			cadence.Every = time.Duration(jc.IntervalHours) * time.Hour
		} else {
			return fmt.Errorf("scheduler job for %s: need daily time or interval_hours", src)
		}

		spec := scheduler.JobSpec{
			Source:      src,
			Cadence:     cadence,
			MaxRetries:  cfg.Scheduler.MaxRetries,
			Backoff:     cfg.Scheduler.ParseRetryBackoff(),
			Exponential: cfg.Scheduler.ExponentialBackoff,
		}
		if err := sched.Schedule(spec, conn); err != nil {
			return fmt.Errorf("schedule %s: %w", src, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Jobs run on a background context so a signal triggers a graceful
	// Stop instead of aborting in-flight runs mid-write.
	sched.Start(context.Background())

	engine := analytics.New(db)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.New(db, engine, port).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
