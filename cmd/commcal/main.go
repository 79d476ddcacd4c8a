package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"commcal/internal/calendar"
	"commcal/internal/capture"
	"commcal/internal/config"
	"commcal/internal/directory"
	"commcal/internal/ics"
	appLog "commcal/internal/log"
	"commcal/internal/tui"
	"commcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	month      string
	tui        bool
	snapshot   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := appLog.Configure(conf.Log.Level, conf.Log.Format); err != nil {
		appLog.Error("invalid log settings", err)
	}
	defer appLog.Sync()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"directory", conf.Directory.BaseURL,
		"ics_count", len(conf.ICS),
		"snapshot", conf.Snapshot.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir := directory.NewClient(conf.Directory.BaseURL, conf.Directory.Timeout)
	feeds := buildFeeds(conf)

	switch {
	case flags.once:
		err = runOnce(ctx, conf, dir, feeds, flags.month)
	case flags.snapshot:
		err = runSnapshot(ctx, conf)
	case flags.tui:
		err = tui.Run(ctx, newView(conf, dir, feeds))
	default:
		err = serve(ctx, conf, dir, feeds)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("commcal exiting with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("commcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/commcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Print one month to stdout and exit")
	flag.StringVar(&cfg.month, "month", "", "Month for -once as YYYY-MM (default: current month)")
	flag.BoolVar(&cfg.tui, "tui", false, "Run the terminal UI instead of the web server")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Capture one PNG of the running server's print view and exit")

	flag.Parse()
	return cfg
}

func buildFeeds(conf *config.Config) calendar.FeedSource {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL})
	}
	feeds := ics.NewFeeds(ics.NewFetcher(conf.ICSCacheDir, 0), sources, conf.Location())
	if feeds == nil {
		return nil
	}
	return feeds
}

func newView(conf *config.Config, dir calendar.Directory, feeds calendar.FeedSource) *calendar.View {
	opts := []calendar.Option{calendar.WithLocation(conf.Location())}
	if feeds != nil {
		opts = append(opts, calendar.WithFeeds(feeds))
	}
	return calendar.New(dir, opts...)
}

func runOnce(ctx context.Context, conf *config.Config, dir calendar.Directory, feeds calendar.FeedSource, month string) error {
	v := newView(conf, dir, feeds)
	if month == "" {
		v.Refresh(ctx)
	} else {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return fmt.Errorf("-month %q: want YYYY-MM", month)
		}
		v.GoTo(ctx, t.Year(), t.Month())
	}
	snap := v.Snapshot()
	fmt.Println(tui.RenderMonth(snap, -1))
	for _, n := range snap.Notices {
		fmt.Fprintln(os.Stderr, n.Text)
	}
	return nil
}

// localBase is where the capture job reaches a server listening on
// listen. Wildcard listen hosts are reached over loopback.
func localBase(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func runSnapshot(ctx context.Context, conf *config.Config) error {
	now := time.Now().In(conf.Location())
	opts := capture.Options{
		URL:        capture.PrintURL(localBase(conf.Listen), now.Year(), now.Month()),
		OutputPath: conf.Snapshot.Output,
		Width:      conf.Snapshot.Width,
		Height:     conf.Snapshot.Height,
	}
	if conf.BasicAuth != nil {
		opts.Username = conf.BasicAuth.Username
		opts.Password = conf.BasicAuth.Password
	}
	return capture.CapturePNG(ctx, opts)
}

func serve(ctx context.Context, conf *config.Config, dir calendar.Directory, feeds calendar.FeedSource) error {
	var opts []web.Option
	if feeds != nil {
		opts = append(opts, web.WithFeeds(feeds))
	}
	srv, err := web.NewServer(conf, dir, opts...)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := srv.ScheduleSweep(c); err != nil {
		return err
	}
	if conf.Snapshot.Enabled {
		_, err := c.AddFunc(conf.Snapshot.Cron, func() {
			if err := runSnapshot(ctx, conf); err != nil {
				appLog.Error("scheduled snapshot failed", err)
			}
		})
		if err != nil {
			return fmt.Errorf("snapshot.cron %q: %w", conf.Snapshot.Cron, err)
		}
		appLog.Info("snapshot schedule enabled", "cron", conf.Snapshot.Cron, "output", conf.Snapshot.Output)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
