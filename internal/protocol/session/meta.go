package session

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MetaFileName is the file the editor writes when its IDE messaging server is listening.
const MetaFileName = "ide_messaging_meta.txt"

var (
	ErrMetaNotFound = errors.New("session: editor metadata not found")
	ErrInvalidMeta  = errors.New("session: invalid editor metadata")
)

// EditorMeta is the endpoint an editor advertises for one project.
type EditorMeta struct {
	Port       int
	EditorPath string
}

// MetaDirs lists the metadata directories for projectRoot, newest layout first.
func MetaDirs(projectRoot string) []string {
	return []string{
		filepath.Join(projectRoot, ".godot", "mono", "metadata"),
		filepath.Join(projectRoot, ".mono", "metadata"),
	}
}

// ReadEditorMeta returns the first readable metadata file under projectRoot
// together with its path.
func ReadEditorMeta(projectRoot string) (EditorMeta, string, error) {
	for _, dir := range MetaDirs(projectRoot) {
		path := filepath.Join(dir, MetaFileName)
		meta, err := readMetaFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return EditorMeta{}, path, err
		}
		return meta, path, nil
	}
	return EditorMeta{}, "", fmt.Errorf("%w: project_root=%q", ErrMetaNotFound, projectRoot)
}

func readMetaFile(path string) (EditorMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return EditorMeta{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := make([]string, 0, 2)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return EditorMeta{}, err
	}
	if len(lines) == 0 || lines[0] == "" {
		return EditorMeta{}, fmt.Errorf("%w: missing port in %s", ErrInvalidMeta, path)
	}
	port, err := strconv.Atoi(lines[0])
	if err != nil || port <= 0 || port > 65535 {
		return EditorMeta{}, fmt.Errorf("%w: bad port %q in %s", ErrInvalidMeta, lines[0], path)
	}
	meta := EditorMeta{Port: port}
	if len(lines) > 1 {
		meta.EditorPath = lines[1]
	}
	return meta, nil
}

// WriteEditorMeta writes meta into the primary metadata directory of projectRoot.
func WriteEditorMeta(projectRoot string, meta EditorMeta) (string, error) {
	if meta.Port <= 0 || meta.Port > 65535 {
		return "", fmt.Errorf("%w: bad port %d", ErrInvalidMeta, meta.Port)
	}
	dir := MetaDirs(projectRoot)[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, MetaFileName)
	content := strconv.Itoa(meta.Port) + "\n" + meta.EditorPath + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// RemoveEditorMeta deletes the primary metadata file, ignoring a missing file.
func RemoveEditorMeta(projectRoot string) error {
	path := filepath.Join(MetaDirs(projectRoot)[0], MetaFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
