package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marque-dev/marque/internal/domain"
	"github.com/marque-dev/marque/internal/logger"
)

// File is the YAML shape of a bookmark seed file:
//
//	bookmarks:
//	  - url: https://go.dev
//	    title: Go
type File struct {
	Bookmarks []Entry `yaml:"bookmarks"`
}

type Entry struct {
	URL   string `yaml:"url"`
	Title string `yaml:"title"`
}

// Load reads and parses a seed file. Entries that are empty after
// trimming are dropped, matching the add-bookmark no-op rule.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse seed yaml: %w", err)
	}

	kept := f.Bookmarks[:0]
	for _, e := range f.Bookmarks {
		e.URL = strings.TrimSpace(e.URL)
		e.Title = strings.TrimSpace(e.Title)
		if e.URL == "" || e.Title == "" {
			continue
		}
		kept = append(kept, e)
	}
	f.Bookmarks = kept

	return f, nil
}

// Store is the subset of the bookmark store the importer needs.
type Store interface {
	ListByOwner(ctx context.Context, owner string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, owner, url, title string) (domain.Bookmark, error)
}

// Importer inserts seed-file bookmarks for one owner. Import is
// idempotent across restarts: entries whose URL the owner already
// has are skipped.
type Importer struct {
	store Store
	log   logger.Logger
}

func NewImporter(store Store, log logger.Logger) *Importer {
	return &Importer{store: store, log: log}
}

func (im *Importer) Import(ctx context.Context, path, owner string) error {
	f, err := Load(path)
	if err != nil {
		return err
	}
	if len(f.Bookmarks) == 0 {
		im.log.Info("seed file contains no usable bookmarks", logger.String("file", path))
		return nil
	}

	existing, err := im.store.ListByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to list existing bookmarks: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, b := range existing {
		have[b.URL] = true
	}

	imported := 0
	for _, e := range f.Bookmarks {
		if have[e.URL] {
			continue
		}
		if _, err := im.store.Insert(ctx, owner, e.URL, e.Title); err != nil {
			return fmt.Errorf("failed to seed bookmark %q: %w", e.URL, err)
		}
		imported++
	}

	im.log.Info("seed import complete",
		logger.String("owner", owner),
		logger.Int("imported", imported),
		logger.Int("skipped", len(f.Bookmarks)-imported))
	return nil
}
