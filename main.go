package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/feedpipe/backend"
	"github.com/jackc/feedpipe/backend/data"
	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/feedpipe/backend/queue"
	"github.com/jackc/feedpipe/backend/sqlitestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	log "gopkg.in/inconshreveable/log15.v2"
)

const version = "0.1.0"

var configFlag = cli.StringFlag{Name: "config, c", Value: "feedpipe.conf", Usage: "path to config file"}

func main() {
	app := cli.NewApp()
	app.Name = "feedpipe"
	app.Usage = "RSS and Atom feed ingestion pipeline"
	app.Version = version

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the scheduler, the workers and the HTTP server in one process",
			Flags:  []cli.Flag{configFlag, addressFlag, portFlag},
			Action: Run,
		},
		{
			Name:   "worker",
			Usage:  "work refresh and ingestion tasks",
			Flags:  []cli.Flag{configFlag},
			Action: Worker,
		},
		{
			Name:   "scheduler",
			Usage:  "enqueue a refresh of every enabled feed once per interval",
			Flags:  []cli.Flag{configFlag},
			Action: Schedule,
		},
		{
			Name:   "serve",
			Usage:  "run the HTTP server",
			Flags:  []cli.Flag{configFlag, addressFlag, portFlag},
			Action: Serve,
		},
		{
			Name:   "migrate",
			Usage:  "migrate the database to the latest schema",
			Flags:  []cli.Flag{configFlag},
			Action: Migrate,
		},
		{
			Name:      "subscribe",
			Usage:     "add feeds",
			ArgsUsage: "url...",
			Flags:     []cli.Flag{configFlag},
			Action:    Subscribe,
		},
		{
			Name:      "import-opml",
			Usage:     "add every feed listed in an OPML file",
			ArgsUsage: "path",
			Flags:     []cli.Flag{configFlag},
			Action:    ImportOPML,
		},
		{
			Name:      "force-update",
			Usage:     "re-enable a feed and refresh it without conditional headers",
			ArgsUsage: "feed-id",
			Flags:     []cli.Flag{configFlag},
			Action:    ForceUpdate,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	addressFlag = cli.StringFlag{Name: "address, a", Value: "127.0.0.1", Usage: "address to listen on"}
	portFlag    = cli.StringFlag{Name: "port, p", Value: "8080", Usage: "port to listen on"}
)

// environment is the wired set of components a command works with.
type environment struct {
	config *config
	logger log.Logger
	store  ingest.Store
	queue  queue.Queue

	// runner is nil when the queue can only enqueue.
	runner interface {
		Run(ctx context.Context) error
	}

	pool   *pgxpool.Pool
	sqlite *sqlitestore.Store
}

// newEnvironment loads configuration and connects the store and queue. When work is true the
// refresh and ingestion handlers are registered so the queue can run.
func newEnvironment(ctx context.Context, c *cli.Context, work bool) (*environment, error) {
	conf, err := loadConfig(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, err
	}

	cfg, err := newConfig(conf, os.Getenv)
	if err != nil {
		return nil, err
	}
	loadHTTPConfig(c, cfg)

	logger, err := newLogger(cfg.logLevel, log.StdoutHandler)
	if err != nil {
		return nil, err
	}

	env := &environment{config: cfg, logger: logger}

	switch cfg.storeDriver {
	case "postgres":
		env.pool, err = newPool(ctx, cfg.databaseURL, cfg.pgxLogLevel, logger)
		if err != nil {
			return nil, fmt.Errorf("Unable to create connection pool: %v", err)
		}
		env.store = data.NewStore(env.pool)
	case "sqlite":
		env.sqlite, err = sqlitestore.Open(cfg.sqlitePath)
		if err != nil {
			return nil, err
		}
		env.store = env.sqlite
	}

	var mux *queue.Mux
	if work {
		mux = queue.NewMux()
	}

	queueLogger := logger.New("module", "queue")
	switch cfg.queueDriver {
	case "river":
		riverConfig := queue.RiverConfig{
			Workers:    cfg.workers,
			Logger:     newSlogLogger(logger.New("module", "river")),
			JobTimeout: cfg.jobTimeout(),
		}
		q, err := queue.NewRiver(env.pool, mux, riverConfig, queueLogger)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.queue = q
		if work {
			env.runner = q
		}
	case "local":
		q := queue.NewLocal(mux, cfg.workers, queueLogger)
		env.queue = q
		if work {
			env.runner = q
		}
	}

	if work {
		fetcher := ingest.NewFetcher(cfg.fetchTimeout, cfg.userAgent, logger.New("module", "fetcher"))
		refresher := ingest.NewRefresher(fetcher, env.store, env.queue, cfg.feedRetry, logger.New("module", "refresher"))
		ingestor := ingest.NewIngestor(env.store, cfg.entryRetry, logger.New("module", "ingestor"))
		ingest.Register(mux, refresher, ingestor)
	}

	return env, nil
}

func (env *environment) Close() {
	if env.pool != nil {
		env.pool.Close()
	}
	if env.sqlite != nil {
		env.sqlite.Close()
	}
}

// requireDurableQueue rejects running one part of the pipeline on its own when tasks only live
// in this process.
func (env *environment) requireDurableQueue(command string) error {
	if env.config.queueDriver != "river" {
		return fmt.Errorf("%s requires queue driver river; use run with queue driver %s", command, env.config.queueDriver)
	}
	return nil
}

// warnUnworkedTasks notes that a one-shot command's tasks are not worked by anything.
func (env *environment) warnUnworkedTasks() {
	if env.config.queueDriver == "local" {
		env.logger.Warn("local queue tasks are not worked by this command; feeds are refreshed by the next scheduling pass of run")
	}
}

func loadHTTPConfig(c *cli.Context, cfg *config) {
	if c.IsSet("address") {
		cfg.http.ListenAddress = c.String("address")
	}
	if c.IsSet("port") {
		cfg.http.ListenPort = c.String("port")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (env *environment) newScheduler() *ingest.Scheduler {
	return ingest.NewScheduler(env.store, env.queue, env.config.refreshInterval, env.logger.New("module", "scheduler"))
}

func (env *environment) newHTTPServer() *http.Server {
	feeds := backend.NewFeedService(env.store, env.queue, env.logger.New("module", "feeds"))
	return &http.Server{
		Addr:              env.config.http.Addr(),
		Handler:           backend.NewAppServer(feeds, env.logger.New("module", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP runs server until ctx is done and then shuts it down gracefully.
func serveHTTP(ctx context.Context, g *errgroup.Group, server *http.Server, logger log.Logger) {
	g.Go(func() error {
		logger.Info("Starting to listen", "address", server.Addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func Run(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnvironment(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return env.runner.Run(ctx) })
	g.Go(func() error { return env.newScheduler().Run(ctx) })
	serveHTTP(ctx, g, env.newHTTPServer(), env.logger)

	return g.Wait()
}

func Worker(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnvironment(ctx, c, true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireDurableQueue("worker"); err != nil {
		return err
	}

	return env.runner.Run(ctx)
}

func Schedule(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireDurableQueue("scheduler"); err != nil {
		return err
	}

	return env.newScheduler().Run(ctx)
}

func Serve(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.requireDurableQueue("serve"); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	serveHTTP(ctx, g, env.newHTTPServer(), env.logger)
	return g.Wait()
}

func Migrate(c *cli.Context) error {
	ctx := context.Background()

	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.pool == nil {
		fmt.Println("SQLite schema is created when the database is opened")
		return nil
	}

	return migrate(ctx, env.pool, os.Stdout)
}

func Subscribe(c *cli.Context) error {
	if len(c.Args()) == 0 {
		return errors.New("subscribe requires at least one url")
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	return subscribeAll(ctx, env, c.Args())
}

func ImportOPML(c *cli.Context) error {
	if len(c.Args()) != 1 {
		return errors.New("import-opml requires exactly one path")
	}

	file, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer file.Close()

	doc, err := parseOPML(file)
	if err != nil {
		return fmt.Errorf("Unable to parse OPML: %v", err)
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	return subscribeAll(ctx, env, doc.FeedURLs())
}

// subscribeAll subscribes every url, reporting each result. Failures do not stop the rest.
func subscribeAll(ctx context.Context, env *environment, urls []string) error {
	env.warnUnworkedTasks()
	feeds := backend.NewFeedService(env.store, env.queue, env.logger.New("module", "feeds"))

	var failed int
	for _, u := range urls {
		feed, created, err := feeds.Subscribe(ctx, u)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", u, err)
		case created:
			fmt.Printf("Subscribed %d: %s\n", feed.ID, feed.URL)
		default:
			fmt.Printf("Already subscribed %d: %s\n", feed.ID, feed.URL)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d subscriptions failed", failed, len(urls))
	}
	return nil
}

func ForceUpdate(c *cli.Context) error {
	if len(c.Args()) != 1 {
		return errors.New("force-update requires exactly one feed id")
	}
	feedID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("Bad feed id: %v", err)
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, c, false)
	if err != nil {
		return err
	}
	defer env.Close()

	env.warnUnworkedTasks()
	feeds := backend.NewFeedService(env.store, env.queue, env.logger.New("module", "feeds"))
	feed, err := feeds.ForceUpdate(ctx, feedID)
	if err != nil {
		return err
	}

	fmt.Printf("Update forced %d: %s\n", feed.ID, feed.URL)
	return nil
}
