// Package maps persists user-curated maps of files in SQLite.
//
// The store does not check that a node's file is indexed or that an edge's
// endpoints belong to its map. Callers validate before writing.
package maps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/contextfs/internal/maps/migrations"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrMapExists is returned by CreateMap when the name is taken.
	ErrMapExists = errors.New("map already exists")

	// ErrMapNotFound is returned by lookups of an unknown map id.
	ErrMapNotFound = errors.New("map not found")

	// ErrNodeNotFound is returned by GetNode for an unknown node id.
	ErrNodeNotFound = errors.New("node not found")
)

// Map is a named collection of file nodes.
type Map struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Node places a file on a map.
type Node struct {
	ID       int64  `json:"id"`
	MapID    int64  `json:"map_id"`
	FilePath string `json:"file_path"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// Edge links two nodes of the same map.
type Edge struct {
	ID           int64  `json:"id"`
	MapID        int64  `json:"map_id"`
	SourceNodeID int64  `json:"source_id"`
	TargetNodeID int64  `json:"target_id"`
	Label        string `json:"label"`
}

// MapData is a fully materialized map.
type MapData struct {
	Map   Map    `json:"map"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Store is a SQLite-backed curated map store, safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("map store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("name", name))
	}
	return nil
}

// CreateMap inserts a map and returns its id.
func (s *Store) CreateMap(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO maps (name) VALUES (?)", name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrMapExists, name)
		}
		return 0, fmt.Errorf("creating map: %w", err)
	}
	return res.LastInsertId()
}

// ListMaps returns all maps ordered by id.
func (s *Store) ListMaps(ctx context.Context) ([]Map, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM maps ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing maps: %w", err)
	}
	defer rows.Close()

	out := []Map{}
	for rows.Next() {
		var m Map
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scanning map: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMap looks up a map by id.
func (s *Store) GetMap(ctx context.Context, id int64) (Map, error) {
	var m Map
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM maps WHERE id = ?", id).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Map{}, fmt.Errorf("%w: %d", ErrMapNotFound, id)
	}
	if err != nil {
		return Map{}, fmt.Errorf("getting map: %w", err)
	}
	return m, nil
}

// DeleteMap removes a map with its nodes and edges. It reports false when
// no map had that id.
func (s *Store) DeleteMap(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Explicit deletes keep the cascade independent of the foreign_keys pragma.
	for _, q := range []string{
		"DELETE FROM edges WHERE map_id = ?",
		"DELETE FROM nodes WHERE map_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return false, fmt.Errorf("deleting map contents: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM maps WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting map: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return n > 0, nil
}

// AddNode places filePath on a map and returns the node id.
func (s *Store) AddNode(ctx context.Context, mapID int64, filePath string, x, y int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO nodes (map_id, file_path, position_x, position_y) VALUES (?, ?, ?, ?)",
		mapID, filePath, x, y)
	if err != nil {
		return 0, fmt.Errorf("adding node: %w", err)
	}
	return res.LastInsertId()
}

// GetNode looks up a node by id.
func (s *Store) GetNode(ctx context.Context, id int64) (Node, error) {
	var n Node
	err := s.db.QueryRowContext(ctx,
		"SELECT id, map_id, file_path, position_x, position_y FROM nodes WHERE id = ?", id,
	).Scan(&n.ID, &n.MapID, &n.FilePath, &n.X, &n.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	if err != nil {
		return Node{}, fmt.Errorf("getting node: %w", err)
	}
	return n, nil
}

// CreateEdge links two nodes and returns the edge id.
func (s *Store) CreateEdge(ctx context.Context, mapID, sourceNodeID, targetNodeID int64, label string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO edges (map_id, source_node_id, target_node_id, label) VALUES (?, ?, ?, ?)",
		mapID, sourceNodeID, targetNodeID, label)
	if err != nil {
		return 0, fmt.Errorf("creating edge: %w", err)
	}
	return res.LastInsertId()
}

// GetMapData materializes a map with all its nodes and edges.
func (s *Store) GetMapData(ctx context.Context, mapID int64) (*MapData, error) {
	m, err := s.GetMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	data := &MapData{Map: m, Nodes: []Node{}, Edges: []Edge{}}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, map_id, file_path, position_x, position_y FROM nodes WHERE map_id = ? ORDER BY id", mapID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.MapID, &n.FilePath, &n.X, &n.Y); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		data.Nodes = append(data.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT id, map_id, source_node_id, target_node_id, label FROM edges WHERE map_id = ? ORDER BY id", mapID)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.MapID, &e.SourceNodeID, &e.TargetNodeID, &e.Label); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		data.Edges = append(data.Edges, e)
	}
	return data, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
