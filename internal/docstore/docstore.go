// Package docstore reads converted markdown and reads/writes per-item content
// artifacts on the local filesystem.
//
// Layout:
//
//	<root>/<libraryID>/<fileID>/converted/*.md                      converted document versions
//	<root>/<libraryID>/<fileID>/items/<listID>/<itemID>/content.md  item artifacts
package docstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
)

// ErrNoMarkdown is returned when a file has no converted markdown yet.
var ErrNoMarkdown = eris.New("docstore: no converted markdown")

const contentFile = "content.md"

// Store is the document store contract used by extraction and enrichment.
type Store interface {
	LatestMarkdown(ctx context.Context, fileID, libraryID string) (string, error)
	WriteItemContent(ctx context.Context, key model.ContentKey, markdown string) error
	ReadItemContent(ctx context.Context, key model.ContentKey) (string, error)
	DeleteItemContent(ctx context.Context, key model.ContentKey) error
}

// FS is a filesystem-backed Store.
type FS struct {
	root string
}

// NewFS creates a store rooted at dir.
func NewFS(dir string) *FS {
	return &FS{root: dir}
}

func (s *FS) fileDir(fileID, libraryID string) string {
	return filepath.Join(s.root, clean(libraryID), clean(fileID))
}

func (s *FS) itemDir(key model.ContentKey) string {
	return filepath.Join(s.fileDir(key.FileID, key.LibraryID), "items", clean(key.ListID), clean(key.ItemID))
}

// clean keeps ids from escaping the store root.
func clean(id string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(id)
}

// LatestMarkdown returns the most recently modified converted markdown for a file.
func (s *FS) LatestMarkdown(_ context.Context, fileID, libraryID string) (string, error) {
	dir := filepath.Join(s.fileDir(fileID, libraryID), "converted")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoMarkdown
	}
	if err != nil {
		return "", eris.Wrapf(err, "docstore: list %s", dir)
	}

	var latest string
	var latestInfo fs.FileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) {
			latest, latestInfo = e.Name(), info
		}
	}
	if latest == "" {
		return "", ErrNoMarkdown
	}

	data, err := os.ReadFile(filepath.Join(dir, latest))
	if err != nil {
		return "", eris.Wrapf(err, "docstore: read %s", latest)
	}
	return string(data), nil
}

// WriteItemContent persists an item's rendered markdown.
func (s *FS) WriteItemContent(_ context.Context, key model.ContentKey, markdown string) error {
	dir := s.itemDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "docstore: create %s", dir)
	}
	return eris.Wrap(os.WriteFile(filepath.Join(dir, contentFile), []byte(markdown), 0o644), "docstore: write item content")
}

// ReadItemContent returns an item's markdown artifact.
func (s *FS) ReadItemContent(_ context.Context, key model.ContentKey) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.itemDir(key), contentFile))
	if err != nil {
		return "", eris.Wrapf(err, "docstore: read item %s", key.ItemID)
	}
	return string(data), nil
}

// DeleteItemContent removes an item's artifact directory. Missing directories
// are not an error.
func (s *FS) DeleteItemContent(_ context.Context, key model.ContentKey) error {
	return eris.Wrapf(os.RemoveAll(s.itemDir(key)), "docstore: delete item %s", key.ItemID)
}

// ItemContent resolves an item's content: the file's latest markdown for
// whole-document items, the stored artifact otherwise.
func ItemContent(ctx context.Context, st Store, item *model.Item) (string, error) {
	if item.IsWholeDocument() {
		return st.LatestMarkdown(ctx, item.SourceFileID, item.LibraryID)
	}
	return st.ReadItemContent(ctx, item.ContentKey())
}
