package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/godotlink/internal/editorpeer"
	"github.com/danmuck/godotlink/internal/messaging"
	"github.com/danmuck/godotlink/internal/testutil/testlog"
)

func TestRunCompleteListsProjectFiles(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "scenes"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "scenes", "main.tscn"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := defaultCLIConfig()
	cfg.Client.ProjectRoot = root

	var buf bytes.Buffer
	if err := run(context.Background(), cfg, newPrinter(&buf, false), []string{"complete", "res://scenes/", "PackedScene"}); err != nil {
		t.Fatalf("run complete: %v", err)
	}
	if got := buf.String(); got != "main.tscn  res://scenes/main.tscn\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	testlog.Start(t)
	cfg := defaultCLIConfig()
	cfg.Client.ProjectRoot = t.TempDir()
	var buf bytes.Buffer
	for _, args := range [][]string{{"complete"}, {"nodepaths"}, {"watch", "extra"}} {
		if err := run(context.Background(), cfg, newPrinter(&buf, false), args); !errors.Is(err, errUsage) {
			t.Fatalf("%v: expected errUsage, got %v", args, err)
		}
	}
	if err := run(context.Background(), cfg, newPrinter(&buf, false), []string{"play"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestRunNodePathsAgainstEditor(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv, err := editorpeer.Start(editorpeer.Config{
		ProjectRoot: root,
		NodePaths:   map[string][]string{"res://Player.cs": {"\"Sprite2D\""}},
	})
	if err != nil {
		t.Fatalf("start editor: %v", err)
	}
	defer srv.Close()

	cfg := defaultCLIConfig()
	cfg.Client.ProjectRoot = root
	cfg.RequestTimeout = 5 * time.Second
	var buf bytes.Buffer
	if err := run(context.Background(), cfg, newPrinter(&buf, false), []string{"nodepaths", "res://Player.cs"}); err != nil {
		t.Fatalf("run nodepaths: %v", err)
	}
	want := "NodePaths res://Player.cs\n  \"Sprite2D\"\n"
	if buf.String() != want {
		t.Fatalf("output=%q want=%q", buf.String(), want)
	}
}

func TestPrinterState(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	p.state(at, messaging.StateConnected)
	p.state(at, messaging.StateDisconnected)
	if got := buf.String(); got != "15:04:05 editor connected\n15:04:05 editor disconnected\n" {
		t.Fatalf("unexpected output: %q", got)
	}
	if wantColor(&buf, false) {
		t.Fatalf("buffer is not a terminal")
	}

	buf.Reset()
	newPrinter(&buf, true).state(at, messaging.StateConnected)
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected ANSI escapes in colored output: %q", buf.String())
	}
}
