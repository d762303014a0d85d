// Package respath completes Godot res:// resource paths against the files
// of a project on disk.
package respath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Prefix starts every project-relative Godot resource path.
const Prefix = "res://"

var (
	ErrNotResourcePath = errors.New("respath: not a res:// path")
	ErrOutsideProject  = errors.New("respath: path escapes project root")
)

var imageExtensions = []string{"png", "jpg", "jpeg", "bmp", "svg", "webp", "hdr", "exr", "tga", "dds"}

// extensionsByType lists the file extensions the engine loads for each
// resource type.
var extensionsByType = map[string][]string{
	"PackedScene":          {"tscn"},
	"X509Certificate":      {"crt"},
	"CryptoKey":            {"key", "pub"},
	"AudioStreamMP3":       {"mp3"},
	"AudioStreamWAV":       {"wav"},
	"AudioStreamSample":    {"wav"},
	"AudioStreamOggVorbis": {"ogg"},
	"AudioStream":          {"mp3", "wav", "ogg"},
	"Texture":              imageExtensions,
	"StreamTexture":        imageExtensions[:len(imageExtensions)-1],
	"ImageTexture":         {"dds"},
	"VideoStreamTheora":    {"ogv"},
	"VideoStream":          {"ogv"},
	"Translation":          {"po", "mo"},
	"GDScript":             {"gd"},
	"CSharpScript":         {"cs"},
}

// skipDirs are editor caches never loaded as resources.
var skipDirs = map[string]bool{".godot": true, ".mono": true, ".import": true}

// Extensions returns the loadable extensions for a resource type name such
// as "PackedScene" or "Godot.PackedScene", or nil for an unknown type.
func Extensions(resourceType string) []string {
	return extensionsByType[strings.TrimPrefix(strings.TrimSpace(resourceType), "Godot.")]
}

// Item is one completion candidate.
type Item struct {
	// Label is relative to the directory being completed.
	Label string
	// Path is the full res:// path the candidate completes to.
	Path string
}

// Complete lists candidates for literal, a partially typed res:// path.
// When expectedType names a known resource type, files of that type below
// the search directory come first. The direct children of the search
// directory follow. A literal naming an existing file is already complete
// and yields nothing.
func Complete(projectRoot, literal, expectedType string) ([]Item, error) {
	if !strings.HasPrefix(literal, Prefix) {
		return nil, fmt.Errorf("%w: %q", ErrNotResourcePath, literal)
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}
	target := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(literal, Prefix)))
	if !within(root, target) {
		return nil, fmt.Errorf("%w: %q", ErrOutsideProject, literal)
	}

	dir, ok := searchDir(root, target)
	if !ok {
		return nil, nil
	}

	var labels []string
	if exts := Extensions(expectedType); len(exts) > 0 {
		files, err := resourceFiles(dir, exts)
		if err != nil {
			return nil, err
		}
		labels = append(labels, files...)
	}
	children, err := childNames(dir)
	if err != nil {
		return nil, err
	}
	labels = append(labels, children...)

	base, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, err
	}
	base = filepath.ToSlash(base)
	if base == "." {
		base = ""
	}

	seen := make(map[string]struct{}, len(labels))
	items := make([]Item, 0, len(labels))
	for _, label := range labels {
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		items = append(items, Item{Label: label, Path: Prefix + path.Join(base, label)})
	}
	return items, nil
}

// searchDir is target itself when it is a directory, its parent when it
// does not exist yet, and nothing when it is a regular file.
func searchDir(root, target string) (string, bool) {
	info, err := os.Stat(target)
	switch {
	case err == nil && info.IsDir():
		return target, true
	case err == nil:
		return "", false
	case !errors.Is(err, fs.ErrNotExist):
		return "", false
	}
	parent := filepath.Dir(target)
	if !within(root, parent) {
		return "", false
	}
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return "", false
	}
	return parent, true
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func childNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// resourceFiles walks dir for files with one of exts, returning slash paths
// relative to dir in lexical order.
func resourceFiles(dir string, exts []string) ([]string, error) {
	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[ext] = true
	}
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !want[strings.TrimPrefix(filepath.Ext(p), ".")] {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
