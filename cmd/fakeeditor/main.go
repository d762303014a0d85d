package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/danmuck/godotlink/internal/editorpeer"
	"github.com/danmuck/godotlink/internal/logging"
)

func main() {
	var (
		project   string
		addr      string
		actions   string
		nodePaths string
	)
	flag.StringVar(&project, "project", ".", "Godot project root to advertise")
	flag.StringVar(&addr, "addr", "127.0.0.1:0", "listen address")
	flag.StringVar(&actions, "actions", "ui_accept,ui_cancel", "comma-separated input action names")
	flag.StringVar(&nodePaths, "nodepaths", "", `node paths per script, e.g. "res://Player.cs=Sprite2D,Camera2D;res://Hud.cs=Label"`)
	flag.Parse()

	logging.ConfigureRuntime()

	root, err := filepath.Abs(project)
	if err != nil {
		fatalf("resolve project: %v", err)
	}
	srv, err := editorpeer.Start(editorpeer.Config{
		ProjectRoot:  root,
		Addr:         addr,
		InputActions: quoteAll(splitList(actions, ",")),
		NodePaths:    parseNodePaths(nodePaths),
	})
	if err != nil {
		fatalf("%v", err)
	}
	logging.Infof("fakeeditor serving project_root=%q addr=%q", root, srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := srv.Close(); err != nil {
		fatalf("close: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fakeeditor: "+format+"\n", args...)
	os.Exit(1)
}

func splitList(in, sep string) []string {
	var out []string
	for _, part := range strings.Split(in, sep) {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// quoteAll renders names as the string literals the editor suggests.
func quoteAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, fmt.Sprintf("%q", v))
	}
	return out
}

func parseNodePaths(in string) map[string][]string {
	out := make(map[string][]string)
	for _, entry := range splitList(in, ";") {
		script, nodes, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(script)] = quoteAll(splitList(nodes, ","))
	}
	return out
}
