package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/gearrank/internal/config"
	"github.com/elonfeng/gearrank/internal/dedupe"
	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/scheduler"
	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/internal/supervisor"
	"github.com/elonfeng/gearrank/pkg/alert"
	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/elonfeng/gearrank/pkg/recorder"
	"github.com/elonfeng/gearrank/pkg/rollup"
	"github.com/elonfeng/gearrank/pkg/server"
	"github.com/elonfeng/gearrank/pkg/trend"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const shutdownTimeout = 10 * time.Second

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	db      *store.SQLiteStore
	weights popularity.Weights
	redis   *redis.Client
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	weights, err := cfg.PopularityWeights()
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{cfg: cfg, db: db, weights: weights}, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}

func (a *app) buildAlertManager() *alert.Manager {
	var notifiers []alert.Notifier

	if a.cfg.Alerts.Slack.Enabled && a.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(a.cfg.Alerts.Slack.WebhookURL))
	}
	if a.cfg.Alerts.Discord.Enabled && a.cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(a.cfg.Alerts.Discord.WebhookURL))
	}
	if a.cfg.Alerts.Webhook.Enabled && a.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(a.cfg.Alerts.Webhook.URL, a.cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (a *app) buildRollup() *rollup.Job {
	return rollup.New(a.db, a.weights, rollup.Config{
		LookbackDays: a.cfg.Rollup.LookbackDays,
		Timeout:      a.cfg.Rollup.ParseTimeout(),
	}, rollup.WithAlerts(a.buildAlertManager()))
}

// buildRecorder puts the Redis view cache in front of the store when one is
// configured and reachable.
func (a *app) buildRecorder(ctx context.Context) *recorder.Recorder {
	var opts []recorder.Option
	if a.cfg.Redis.Addr != "" {
		client, err := dedupe.Dial(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable, deduping views in the store only")
		} else {
			a.redis = client
			opts = append(opts, recorder.WithViewCache(dedupe.New(client, "")))
		}
	}
	return recorder.New(a.db, a.weights, opts...)
}

func (a *app) buildServer(ctx context.Context, port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	sc := a.cfg.Server
	return server.New(server.Config{
		Port:            port,
		RollupSecret:    sc.RollupSecret,
		CookieSecret:    sc.Cookie.Secret,
		CookieTTL:       sc.Cookie.ParseTTL(),
		CookieSecure:    sc.Cookie.Secure,
		EventsPerWindow: sc.RateLimit.Events,
		RateWindow:      sc.RateLimit.ParseWindow(),
	},
		a.buildRecorder(ctx),
		trend.NewService(a.db, a.weights),
		a.buildRollup(),
		a.db.Ping,
	)
}

func runServe(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.buildServer(ctx, port).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := a.buildServer(ctx, port)

	tree := supervisor.NewTree(shutdownTimeout)
	tree.AddAPIService(supervisor.NewHTTPService(srv.HTTPServer(), shutdownTimeout))

	if a.cfg.Schedule.Enabled {
		hour, minute, err := config.ParseClock(a.cfg.Schedule.RunAt)
		if err != nil {
			return fmt.Errorf("schedule.run_at: %w", err)
		}
		tree.AddJobService(scheduler.New(a.buildRollup(), hour, minute))
		logging.Info().Str("run_at", a.cfg.Schedule.RunAt).Msg("daily rollup scheduled (UTC)")
	}

	logging.Info().Msg("gearrank daemon starting")
	err = tree.Serve(ctx)
	logging.Info().Msg("gearrank daemon stopped")
	return err
}

func runRollup(date string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var asOf *time.Time
	if date != "" {
		d, err := popularity.ParseDay(date)
		if err != nil {
			return err
		}
		asOf = &d
	}

	run, err := a.buildRollup().Run(context.Background(), asOf)
	if run != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(run); encErr != nil {
			return encErr
		}
	}
	return err
}

func runRuns(jsonOutput bool, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.db.ListRollupRuns(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no rollup runs yet (try: gearrank rollup)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tAS OF\tOK\tDAILY\tLATE\tWINDOWS\tLIFETIME\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\t%d\t%dms\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.AsOfDate, r.Success,
			r.DailyRows, r.LateArrivals, r.WindowsRows, r.LifetimeTotalRows,
			r.DurationMs, r.Error)
	}
	return w.Flush()
}

type trendingFlags struct {
	timeframe string
	page      int
	perPage   int
	brand     string
	mount     string
	gearType  string
}

func runTrending(jsonOutput bool, f trendingFlags) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := trend.NewService(a.db, a.weights).Trending(context.Background(), trend.Query{
		Timeframe: popularity.Timeframe(f.timeframe),
		Page:      f.page,
		PerPage:   f.perPage,
		Filters:   trend.Filters{BrandID: f.brand, MountID: f.mount, GearType: f.gearType},
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	if len(page.Items) == 0 {
		fmt.Println("no trending items (try: gearrank rollup)")
		return nil
	}

	rank := (page.Page - 1) * page.PerPage
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIMEFRAME %s\tAS OF %s\tPAGE %d/%d\n\n", page.Timeframe, page.AsOfDate, page.Page, page.TotalPages)
	fmt.Fprintln(w, "#\tITEM\tSCORE\tWINDOW\tLIVE")
	for i, e := range page.Items {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", rank+i+1, e.ItemID, e.Score, e.WindowScore, e.LiveBoost)
	}
	return w.Flush()
}

type recordFlags struct {
	itemID    string
	eventType string
	actorID   string
}

func runRecord(f recordFlags) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	res, err := a.buildRecorder(ctx).Record(ctx, recorder.Input{
		ItemID:    f.itemID,
		ActorID:   f.actorID,
		EventType: f.eventType,
		Context:   map[string]any{"source": "cli"},
	})
	if err != nil {
		return err
	}

	if res.Deduped {
		fmt.Fprintf(os.Stderr, "deduped: %s already viewed %s today\n", f.actorID, f.itemID)
		return nil
	}
	fmt.Fprintf(os.Stderr, "recorded %s on %s (%s)\n", f.eventType, f.itemID, res.EventID)
	return nil
}

func runCatalogImport(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", file, err)
	}

	var items []store.Item
	if err := yaml.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse catalog %s: %w", file, err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for i := range items {
		if err := items[i].Normalize(); err != nil {
			return fmt.Errorf("catalog %s entry %d: %w", file, i+1, err)
		}
	}

	ctx := context.Background()
	for i := range items {
		if err := a.db.UpsertItem(ctx, &items[i]); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "imported %d items from %s\n", len(items), file)
	return nil
}
