// Command webcleaner blurs and enlarges page elements with per-site rules.
//
// Usage:
//
//	webcleaner -serve :8086                    # rule API over HTTP, services under /rpc
//	webcleaner -mcp                            # MCP tools over stdio
//	webcleaner -url https://news.example/a     # open the page with its rules applied
//	webcleaner -url ... -pick 120,340          # designate the element at (120, 340)
//	webcleaner -url ... -pick 120,340 -mode enlarge
//	webcleaner -url ... -export                # print the cleaned page as Markdown
//	webcleaner -stats                          # print counters
//
// With -routes, rule services are dispatched through a connectivity routes
// table, and -url sessions persist through it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/webcleaner/cleaner"
	"github.com/hazyhaar/webcleaner/connectivity"
	"github.com/hazyhaar/webcleaner/controller"
	"github.com/hazyhaar/webcleaner/dbopen"
)

type options struct {
	config   string
	db       string
	routes   string
	serve    string
	mcp      bool
	url      string
	pick     string
	mode     string
	export   bool
	stats    bool
	logLevel string
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to webcleaner.yaml")
	flag.StringVar(&o.db, "db", "", "rule database path (overrides config)")
	flag.StringVar(&o.routes, "routes", "", "connectivity routes database")
	flag.StringVar(&o.serve, "serve", "", "serve the HTTP API on this address")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.StringVar(&o.url, "url", "", "open this page in Chrome")
	flag.StringVar(&o.pick, "pick", "", "x,y viewport point to designate (with -url)")
	flag.StringVar(&o.mode, "mode", "blur", "pick mode: blur or enlarge")
	flag.BoolVar(&o.export, "export", false, "print the cleaned page as Markdown (with -url)")
	flag.BoolVar(&o.stats, "stats", false, "print statistics and exit")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch o.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries MCP frames and command output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("webcleaner: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg := &cleaner.Config{}
	if o.config != "" {
		var err error
		if cfg, err = cleaner.LoadConfigFile(o.config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if o.db != "" {
		cfg.DBPath = o.db
	}

	router := connectivity.New(connectivity.WithLogger(logger))
	router.RegisterTransport("http", connectivity.HTTPFactory())
	defer router.Close()

	var opts []cleaner.Option
	if o.routes != "" {
		routesDB, err := dbopen.Open(o.routes, dbopen.WithMkdirAll(), dbopen.WithSchema(connectivity.Schema))
		if err != nil {
			return fmt.Errorf("routes db: %w", err)
		}
		defer routesDB.Close()
		if err := router.Reload(ctx, routesDB); err != nil {
			return err
		}
		go router.Watch(ctx, routesDB, time.Second)
		opts = append(opts, cleaner.WithBackend(cleaner.NewRouterBackend(router)))
	}

	c, err := cleaner.New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	c.RegisterConnectivity(router)

	switch {
	case o.stats:
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	case o.mcp:
		srv := mcp.NewServer(&mcp.Implementation{Name: "webcleaner", Version: "1.0.0"}, nil)
		c.RegisterMCP(srv)
		logger.Info("webcleaner: MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	case o.serve != "":
		return serve(ctx, logger, c, router, o.serve)
	case o.url != "":
		return browse(ctx, logger, c, o)
	}

	fmt.Fprintln(os.Stderr, "usage: webcleaner -serve <addr> | -mcp | -url <url> [-pick x,y] [-export] | -stats")
	os.Exit(2)
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, c *cleaner.Cleaner, router *connectivity.Router, addr string) error {
	r := chi.NewRouter()
	r.Mount("/rpc", http.StripPrefix("/rpc", router.LocalHandler()))
	r.Mount("/", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("webcleaner: server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("webcleaner: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func browse(ctx context.Context, logger *slog.Logger, c *cleaner.Cleaner, o options) error {
	b, err := c.StartBrowser(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	page, err := b.Open(ctx, o.url)
	if err != nil {
		return err
	}
	defer page.Close()
	init := page.Initial()
	logger.Info("webcleaner: page ready", "origin", page.Origin(),
		"blurred", init.Blur.Applied, "enlarged", init.Enlarge.Applied)

	if o.pick != "" {
		x, y, err := parsePoint(o.pick)
		if err != nil {
			return err
		}
		mode := controller.Designating
		if o.mode == "enlarge" {
			mode = controller.Resizing
		}
		out, err := page.Pick(ctx, mode, x, y)
		if err != nil {
			return err
		}
		if err := page.WaitPersisted(ctx); err != nil {
			return err
		}
		if err := printJSON(out); err != nil {
			return err
		}
	}

	if o.export {
		md, err := page.Export(ctx)
		if err != nil {
			return err
		}
		fmt.Println(md)
		return nil
	}
	if o.pick != "" {
		return nil
	}

	logger.Info("webcleaner: holding page open, interrupt to exit")
	<-ctx.Done()
	return nil
}

func parsePoint(s string) (x, y float64, err error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("pick: want x,y, got %q", s)
	}
	if x, err = strconv.ParseFloat(strings.TrimSpace(xs), 64); err != nil {
		return 0, 0, fmt.Errorf("pick: %w", err)
	}
	if y, err = strconv.ParseFloat(strings.TrimSpace(ys), 64); err != nil {
		return 0, 0, fmt.Errorf("pick: %w", err)
	}
	return x, y, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
