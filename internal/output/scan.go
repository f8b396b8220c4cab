package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"zhihu_archiver/internal/models"
)

var (
	sourceLine = regexp.MustCompile(`^> \*\*来源\*\*: \[[^\]]*\]\(([^)\s]+)\)`)

	errNoSource = errors.New("artifact has no source header")

	kinds = []models.Kind{models.KindAnswer, models.KindArticle, models.KindPin}
)

const headerLines = 12

// readSource returns the source URL recorded in an artifact's header.
func readSource(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for i := 0; i < headerLines && sc.Scan(); i++ {
		if m := sourceLine.FindStringSubmatch(sc.Text()); m != nil {
			return m[1], nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errNoSource
}

// ScanArchived maps the source URL of every non-empty artifact under root
// to its path relative to root. Staged entries are ignored.
func (w *Writer) ScanArchived() (map[string]string, error) {
	found := make(map[string]string)
	for _, kind := range kinds {
		kindDir := filepath.Join(w.root, kind.Dir())
		entries, err := os.ReadDir(kindDir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kindDir, err)
		}

		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			file := filepath.Join(kindDir, e.Name())
			if e.IsDir() {
				file = filepath.Join(file, IndexFile)
			} else if filepath.Ext(e.Name()) != ".md" {
				continue
			}

			info, err := os.Stat(file)
			if err != nil || info.Size() == 0 {
				continue
			}
			src, err := readSource(file)
			if err != nil {
				w.log.Debug("Skipping unreadable artifact", "path", file, "error", err)
				continue
			}
			found[src] = filepath.Join(kind.Dir(), e.Name())
		}
	}
	return found, nil
}

// CleanPartials removes staged entries left behind by an interrupted run.
func (w *Writer) CleanPartials() (int, error) {
	removed := 0
	for _, kind := range kinds {
		kindDir := filepath.Join(w.root, kind.Dir())
		entries, err := os.ReadDir(kindDir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		for _, e := range entries {
			if !isPartial(e.Name()) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(kindDir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func isPartial(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, partialSuffix)
}

// Exists reports whether the artifact at rel is present and non-empty.
func (w *Writer) Exists(rel string) bool {
	return present(filepath.Join(w.root, rel))
}

func present(file string) bool {
	info, err := os.Stat(file)
	if err != nil {
		return false
	}
	if info.IsDir() {
		info, err = os.Stat(filepath.Join(file, IndexFile))
		if err != nil {
			return false
		}
	}
	return info.Size() > 0
}
