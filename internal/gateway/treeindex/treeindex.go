// Package treeindex maintains a SQLite-backed index of the workspace
// filesystem, kept current by an fsnotify watch, so directory structure
// requests don't need to walk the filesystem on every call.
package treeindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Kind distinguishes a file entry from a directory entry.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Entry is one row of the tree index, returned from GetStructure.
type Entry struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Kind  Kind   `json:"type"`
	Size  *int64 `json:"size,omitempty"`
	Depth int    `json:"-"`
}

// Stats summarizes a GetStructure query: TotalFiles and TotalDirs count the
// full index, independent of any query filter; Returned counts the entries
// the query returned.
type Stats struct {
	TotalFiles int `json:"total_files"`
	TotalDirs  int `json:"total_dirs"`
	Returned   int `json:"returned"`
}

// Structure is the result of a GetStructure query.
type Structure struct {
	Root  string  `json:"root"`
	Tree  []Entry `json:"tree"`
	Stats Stats   `json:"stats"`
}

// Indexer owns the SQLite index and the fsnotify watch that keeps it
// current.
type Indexer struct {
	workspaceRoot string
	dbPath        string
	debounce      time.Duration

	db *sql.DB

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New opens (creating if necessary) the SQLite index database at dbPath
// and prepares its schema. It does not yet scan the workspace or start
// watching; call Start for that.
func New(workspaceRoot, dbPath string, debounceMs int) (*Indexer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("treeindex: creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("treeindex: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, avoid lock contention

	idx := &Indexer{
		workspaceRoot: filepath.Clean(workspaceRoot),
		dbPath:        dbPath,
		debounce:      time.Duration(debounceMs) * time.Millisecond,
		db:            db,
		pending:       make(map[string]struct{}),
		stopCh:        make(chan struct{}),
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

func (idx *Indexer) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			relpath TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			size INTEGER,
			mtime REAL,
			depth INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_depth ON files(depth)`,
		`CREATE INDEX IF NOT EXISTS idx_kind ON files(kind)`,
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return fmt.Errorf("treeindex: initializing schema: %w", err)
		}
	}
	return nil
}

// Start performs an initial full reindex and begins watching the
// workspace for changes.
func (idx *Indexer) Start(ctx context.Context) error {
	log.Info().Str("workspace", idx.workspaceRoot).Msg("starting tree indexer")

	if err := idx.FullReindex(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("treeindex: creating watcher: %w", err)
	}
	idx.watcher = watcher

	if err := idx.watchRecursive(idx.workspaceRoot); err != nil {
		watcher.Close()
		return fmt.Errorf("treeindex: registering watches: %w", err)
	}

	idx.wg.Add(1)
	go idx.watchLoop(ctx)

	log.Info().Msg("tree indexer started")
	return nil
}

// Stop halts the filesystem watch and stops any pending debounce timer;
// queued updates that have not been flushed yet are dropped.
func (idx *Indexer) Stop() error {
	idx.stopOnce.Do(func() {
		close(idx.stopCh)
	})

	idx.mu.Lock()
	if idx.timer != nil {
		idx.timer.Stop()
	}
	idx.mu.Unlock()

	var err error
	if idx.watcher != nil {
		err = idx.watcher.Close()
	}
	idx.wg.Wait()

	log.Info().Msg("tree indexer stopped")
	return err
}

// Close releases the underlying database handle. Call after Stop.
func (idx *Indexer) Close() error {
	return idx.db.Close()
}

func (idx *Indexer) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best effort: skip unreadable entries
		}
		if d.IsDir() {
			if d.Name() != filepath.Base(root) && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if werr := idx.watcher.Add(path); werr != nil {
				log.Warn().Str("path", path).Err(werr).Msg("failed to watch directory")
			}
		}
		return nil
	})
}

func (idx *Indexer) watchLoop(ctx context.Context) {
	defer idx.wg.Done()
	for {
		select {
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			idx.handleEvent(event)
		case werr, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(werr).Msg("tree indexer watch error")
		case <-ctx.Done():
			return
		case <-idx.stopCh:
			return
		}
	}
}

func (idx *Indexer) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := idx.watchRecursive(event.Name); err != nil {
				log.Warn().Str("path", event.Name).Err(err).Msg("failed to watch new directory")
			}
		}
	}
	idx.queueUpdate(event.Name)
}

// queueUpdate schedules path for a debounced reindex.
func (idx *Indexer) queueUpdate(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.pending[path] = struct{}{}
	if idx.timer != nil {
		idx.timer.Stop()
	}
	idx.timer = time.AfterFunc(idx.debounce, idx.flushUpdates)
}

func (idx *Indexer) flushUpdates() {
	idx.mu.Lock()
	paths := make([]string, 0, len(idx.pending))
	for p := range idx.pending {
		paths = append(paths, p)
	}
	idx.pending = make(map[string]struct{})
	idx.mu.Unlock()

	for _, p := range paths {
		if err := idx.reindexPath(p); err != nil {
			log.Warn().Str("path", p).Err(err).Msg("failed to reindex path")
		}
	}
}

func (idx *Indexer) reindexPath(path string) error {
	rel, err := filepath.Rel(idx.workspaceRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	rel = filepath.ToSlash(rel)

	info, statErr := os.Stat(path)
	if statErr == nil {
		kind := KindFile
		var size *int64
		var mtime float64
		if info.IsDir() {
			kind = KindDir
		} else {
			s := info.Size()
			size = &s
		}
		mtime = float64(info.ModTime().UnixNano()) / 1e9

		_, err := idx.db.Exec(
			`INSERT OR REPLACE INTO files (relpath, name, kind, size, mtime, depth) VALUES (?, ?, ?, ?, ?, ?)`,
			rel, info.Name(), string(kind), size, mtime, len(strings.Split(rel, "/")),
		)
		return err
	}

	_, err = idx.db.Exec(`DELETE FROM files WHERE relpath = ? OR relpath LIKE ?`, rel, rel+"/%")
	return err
}

// EntryCount returns the number of rows currently in the index, for
// reporting overall index size independent of any single query.
func (idx *Indexer) EntryCount() (int, error) {
	var count int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		return 0, fmt.Errorf("treeindex: counting entries: %w", err)
	}
	return count, nil
}

// FullReindex walks the entire workspace and rebuilds the index from
// scratch. Exposed directly for the /index/refresh endpoint.
func (idx *Indexer) FullReindex() error {
	start := time.Now()
	log.Info().Msg("starting full reindex")

	type row struct {
		relpath string
		name    string
		kind    string
		size    *int64
		mtime   *float64
		depth   int
	}
	var entries []row

	err := filepath.WalkDir(idx.workspaceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == idx.workspaceRoot {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, relErr := filepath.Rel(idx.workspaceRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		depth := len(strings.Split(rel, "/"))

		if d.IsDir() {
			entries = append(entries, row{relpath: rel, name: d.Name(), kind: string(KindDir), depth: depth})
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		size := info.Size()
		mtime := float64(info.ModTime().UnixNano()) / 1e9
		entries = append(entries, row{relpath: rel, name: d.Name(), kind: string(KindFile), size: &size, mtime: &mtime, depth: depth})
		return nil
	})
	if err != nil {
		return fmt.Errorf("treeindex: walking workspace: %w", err)
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("treeindex: beginning transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files`); err != nil {
		tx.Rollback()
		return fmt.Errorf("treeindex: clearing index: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO files (relpath, name, kind, size, mtime, depth) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("treeindex: preparing insert: %w", err)
	}
	for _, e := range entries {
		if _, err := stmt.Exec(e.relpath, e.name, e.kind, e.size, e.mtime, e.depth); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("treeindex: inserting entry %s: %w", e.relpath, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("treeindex: committing index: %w", err)
	}

	log.Info().Int("entries", len(entries)).Dur("elapsed", time.Since(start)).Msg("full reindex complete")
	return nil
}

// GetStructure returns the indexed directory structure rooted at path
// (relative to the workspace, "" for the root), limited to depth levels
// below that root, optionally filtered by a name glob pattern and
// excluding dotfiles unless includeHidden is set.
func (idx *Indexer) GetStructure(path string, depth int, includeHidden bool, pattern string) (*Structure, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 5 {
		depth = 5
	}

	basePath := strings.Trim(path, "/")
	baseDepth := 0
	if basePath != "" {
		baseDepth = len(strings.Split(basePath, "/"))
	}
	maxDepth := baseDepth + depth

	var rows *sql.Rows
	var err error
	if basePath != "" {
		rows, err = idx.db.Query(
			`SELECT relpath, name, kind, size FROM files WHERE (relpath = ? OR relpath LIKE ?) AND depth <= ? ORDER BY kind DESC, relpath`,
			basePath, basePath+"/%", maxDepth,
		)
	} else {
		rows, err = idx.db.Query(
			`SELECT relpath, name, kind, size FROM files WHERE depth <= ? ORDER BY kind DESC, relpath`,
			maxDepth,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("treeindex: querying structure: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var size sql.NullInt64
		if err := rows.Scan(&e.Path, &e.Name, &e.Kind, &size); err != nil {
			return nil, fmt.Errorf("treeindex: scanning row: %w", err)
		}
		if !includeHidden && strings.HasPrefix(e.Name, ".") {
			continue
		}
		if pattern != "" && !wildcard.Match(pattern, e.Name) {
			continue
		}
		if e.Kind == KindFile && size.Valid {
			v := size.Int64
			e.Size = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalFiles, totalDirs int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM files WHERE kind = ?`, string(KindFile)).Scan(&totalFiles); err != nil {
		return nil, err
	}
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM files WHERE kind = ?`, string(KindDir)).Scan(&totalDirs); err != nil {
		return nil, err
	}

	root := idx.workspaceRoot
	if basePath != "" {
		root = filepath.Join(idx.workspaceRoot, basePath)
	}

	return &Structure{
		Root: root,
		Tree: entries,
		Stats: Stats{
			TotalFiles: totalFiles,
			TotalDirs:  totalDirs,
			Returned:   len(entries),
		},
	}, nil
}
