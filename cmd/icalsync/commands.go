package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/beekhof/icalsync/internal/auth"
	gcal "github.com/beekhof/icalsync/internal/calendar"
	"github.com/beekhof/icalsync/internal/config"
	"github.com/beekhof/icalsync/internal/feed"
	"github.com/beekhof/icalsync/internal/logging"
	"github.com/beekhof/icalsync/internal/sync"
)

var RunCmd = cli.Command{
	Name:   "run",
	Usage:  "Keep every feed in sync until interrupted",
	Action: runAction,
}

var OnceCmd = cli.Command{
	Name:   "once",
	Usage:  "Run a single pass for every feed, then exit",
	Action: onceAction,
}

var ListCmd = cli.Command{
	Name:   "list",
	Usage:  "List the configured feeds",
	Action: listAction,
}

var InspectCmd = cli.Command{
	Name:   "inspect",
	Usage:  "Fetch and normalize feeds without touching Google Calendar",
	Action: inspectAction,
}

// env is what every command needs: the loaded config, the selected feeds and a logger.
type env struct {
	cfg   *config.Config
	feeds []config.Feed
	log   *zap.SugaredLogger
}

func setup(c *cli.Context) (*env, error) {
	log, err := logging.New(c.GlobalBool("verbose"))
	if err != nil {
		return nil, err
	}

	configFile := c.GlobalString("config")
	if configFile == "" {
		return nil, fmt.Errorf("--config FILE is required, use --help for more information")
	}
	cfg, err := config.LoadConfig(configFile, config.Flags{
		CredentialsPath: c.GlobalString("credentials-path"),
		TokenPath:       c.GlobalString("token-path"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	feeds := cfg.Feeds
	if name := c.GlobalString("feed"); name != "" {
		f, err := cfg.FindFeed(name)
		if err != nil {
			return nil, fmt.Errorf("%w; available feeds: %v", err, feedNames(cfg.Feeds))
		}
		feeds = []config.Feed{*f}
		log.Infof("Handling only feed: %s", name)
	}

	return &env{cfg: cfg, feeds: feeds, log: log}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildWorkers authenticates once per token path and creates one instance
// per feed. Feeds sharing a token share the client and its rate limiter.
func buildWorkers(ctx context.Context, e *env) ([]sync.Worker, error) {
	clients := make(map[string]gcal.Client)
	workers := make([]sync.Worker, 0, len(e.feeds))
	for _, f := range e.feeds {
		client, ok := clients[f.TokenPath]
		if !ok {
			httpClient, err := auth.NewHTTPClient(ctx, e.cfg.CredentialsPath, auth.NewFileTokenStore(f.TokenPath))
			if err != nil {
				return nil, fmt.Errorf("failed to authenticate feed %s: %w", f.Name, err)
			}
			limiter := rate.NewLimiter(rate.Limit(e.cfg.RequestsPerSecond), e.cfg.RequestBurst)
			google, err := gcal.NewGoogle(ctx, httpClient, limiter)
			if err != nil {
				return nil, fmt.Errorf("failed to create calendar client for feed %s: %w", f.Name, err)
			}
			client = google
			clients[f.TokenPath] = client
		}

		in, err := sync.NewInstance(f, client, nil, e.log)
		if err != nil {
			return nil, err
		}
		workers = append(workers, in)
	}
	return workers, nil
}

func runAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	workers, err := buildWorkers(ctx, e)
	if err != nil {
		return err
	}

	e.log.Infow("Starting sync", "feeds", len(workers), "stagger", e.cfg.StaggerDelay, "restartDelay", e.cfg.RestartDelay)
	err = sync.NewSupervisor(workers, e.cfg.StaggerDelay, e.cfg.RestartDelay, e.log).Run(ctx)
	e.log.Infow("Shutting down")
	return err
}

func onceAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	workers, err := buildWorkers(ctx, e)
	if err != nil {
		return err
	}

	if err := sync.NewSupervisor(workers, e.cfg.StaggerDelay, e.cfg.RestartDelay, e.log).Once(ctx); err != nil {
		return fmt.Errorf("sync completed with errors: %w", err)
	}
	e.log.Infof("All syncs completed successfully (%d feed(s))", len(workers))
	return nil
}

func listAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCALENDAR\tTIME ZONE\tSCHEDULE\tWINDOW\tURL")
	for _, f := range e.feeds {
		schedule := "every " + f.SyncInterval.String()
		if f.Schedule != "" {
			schedule = f.Schedule
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t-%dd/+%dd\t%s\n",
			f.Name, f.CalendarName, f.TimeZone, schedule, f.DaysBack, f.DaysForward, feed.RedactURL(f.URL))
	}
	return tw.Flush()
}

func inspectAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	for _, f := range e.feeds {
		// No destination client: inspecting never calls Google Calendar.
		in, err := sync.NewInstance(f, nil, nil, e.log)
		if err != nil {
			return err
		}
		report, err := in.Inspect(ctx)
		if err != nil {
			return fmt.Errorf("failed to inspect feed %s: %w", f.Name, err)
		}
		fmt.Printf("== %s (%s)\n", f.Name, feed.RedactURL(f.URL))
		if err := report.Write(os.Stdout); err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}

// feedNames returns the names of the configured feeds.
func feedNames(feeds []config.Feed) []string {
	names := make([]string, len(feeds))
	for i, f := range feeds {
		names[i] = f.Name
	}
	return names
}
