package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danmuck/godotlink/internal/logging"
	"github.com/danmuck/godotlink/internal/messaging"
	"github.com/danmuck/godotlink/internal/observability"
	"github.com/danmuck/godotlink/internal/respath"
)

const usageText = `usage: godotlink [flags] <command> [args]

commands:
  watch                          print editor connection transitions until interrupted
  nodepaths <script>             ask the editor for node paths of a script's scene
  inputactions <script>          ask the editor for the project's input actions
  complete <res://path> [type]   complete a resource path against the project files

flags:
`

func main() {
	var (
		configPath string
		project    string
		identity   string
		noColor    bool
	)
	flag.StringVar(&configPath, "config", "", "path to a godotlink TOML config")
	flag.StringVar(&project, "project", "", "Godot project root (default: config project_root, then cwd)")
	flag.StringVar(&identity, "identity", "", "identity announced to the editor")
	flag.BoolVar(&noColor, "no-color", false, "disable colored output")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := defaultCLIConfig()
	if configPath != "" {
		loaded, err := loadCLIConfig(configPath)
		if err != nil {
			fatalf("%v", err)
		}
		cfg = loaded
	}
	if project != "" {
		cfg.Client.ProjectRoot = project
	}
	if identity != "" {
		cfg.Client.Identity = identity
	}
	if cfg.Client.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			fatalf("resolve project root: %v", err)
		}
		cfg.Client.ProjectRoot = wd
	}
	if abs, err := filepath.Abs(cfg.Client.ProjectRoot); err == nil {
		cfg.Client.ProjectRoot = abs
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(os.Stdout, wantColor(os.Stdout, noColor))
	if err := run(ctx, cfg, out, args); err != nil {
		stop()
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "godotlink: "+format+"\n", args...)
	os.Exit(1)
}

var errUsage = errors.New("invalid arguments, see -h")

func run(ctx context.Context, cfg cliConfig, out *printer, args []string) error {
	switch args[0] {
	case "complete":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		expected := ""
		if len(args) == 3 {
			expected = args[2]
		}
		items, err := respath.Complete(cfg.Client.ProjectRoot, args[1], expected)
		if err != nil {
			return err
		}
		out.completions(items)
		return nil
	case "watch":
		if len(args) != 1 {
			return errUsage
		}
		return runWatch(ctx, cfg, out)
	case "nodepaths", "inputactions":
		if len(args) != 2 {
			return errUsage
		}
		return runCompletion(ctx, cfg, out, args[0], args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runWatch(ctx context.Context, cfg cliConfig, out *printer) error {
	client, err := messaging.NewClient(cfg.Client)
	if err != nil {
		return err
	}
	defer client.Close()

	stopMetrics, err := serveMetrics(cfg.MetricsListen)
	if err != nil {
		return err
	}
	defer stopMetrics()

	client.OnStateChange(func(s messaging.ConnectionState) {
		out.state(time.Now(), s)
	})
	client.Start()
	logging.Infof("godotlink watching project_root=%q identity=%q", cfg.Client.ProjectRoot, cfg.Client.Identity)
	<-ctx.Done()
	return nil
}

func runCompletion(ctx context.Context, cfg cliConfig, out *printer, command, script string) error {
	client, err := messaging.NewClient(cfg.Client)
	if err != nil {
		return err
	}
	defer client.Close()

	connected := client.Session().AwaitConnected()
	client.Start()

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if err := connected.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for editor at %s: %w", cfg.Client.ProjectRoot, err)
	}

	var resp messaging.CodeCompletionResponse
	if command == "nodepaths" {
		resp, err = client.NodePaths(ctx, script)
	} else {
		resp, err = client.InputActions(ctx, script)
	}
	if err != nil {
		return err
	}
	out.suggestions(resp)
	return nil
}

// serveMetrics starts the Prometheus endpoint when addr is set.
func serveMetrics(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
	}
	logging.Infof("godotlink metrics listening addr=%q", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warnf("godotlink metrics shutdown err=%v", err)
		}
	}, nil
}
