// database.go - SQLite-Speicher fuer Skalar-Zusammenfassungen
// Enthaelt: database struct, newDatabase, Close, init, Schema-Version, Abfragen

package summary

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// FileName is the database file inside a work directory.
const FileName = "summaries.sqlite"

// currentSchemaVersion definiert die aktuelle Datenbank-Schema-Version.
const currentSchemaVersion = 1

// database umhuellt die SQLite-Verbindung.
// Writer und Reader duerfen gleichzeitig auf dieselbe Datei zugreifen:
// der WAL-Modus erlaubt Lesern, Schreiber nicht zu blockieren.
type database struct {
	conn *sql.DB
}

// newDatabase erstellt eine neue Datenbankverbindung
func newDatabase(dbPath string) (*database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &database{conn: conn}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

// Close schliesst die Datenbankverbindung
func (db *database) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

// init initialisiert das Datenbankschema
func (db *database) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name);

	CREATE TABLE IF NOT EXISTS scalars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL,
		wall_time TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scalars_run_tag ON scalars(run_id, tag, step);
	`, currentSchemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	return nil
}

func (db *database) getSchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT schema_version FROM meta WHERE id = 1").Scan(&version)
	return version, err
}

func (db *database) createRun(id, name string) error {
	_, err := db.conn.Exec("INSERT INTO runs (id, name) VALUES (?, ?)", id, name)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// insertScalars schreibt alle Werte in einer Transaktion
func (db *database) insertScalars(runID string, scalars []Scalar) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO scalars (run_id, tag, step, value, wall_time) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range scalars {
		if _, err := stmt.Exec(runID, s.Tag, s.Step, s.Value, s.WallTime.UTC()); err != nil {
			return fmt.Errorf("insert scalar %s: %w", s.Tag, err)
		}
	}

	return tx.Commit()
}

func (db *database) runs(ctx context.Context) ([]Run, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.name, COUNT(DISTINCT r.id), MAX(r.created_at), COUNT(s.id)
		FROM runs r LEFT JOIN scalars s ON s.run_id = r.id
		GROUP BY r.name
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var last string
		if err := rows.Scan(&r.Name, &r.Instances, &last, &r.Scalars); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.LastCreated = parseTime(last)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (db *database) tags(ctx context.Context, run string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT s.tag
		FROM scalars s JOIN runs r ON s.run_id = r.id
		WHERE r.name = ?
		ORDER BY s.tag
	`, run)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (db *database) scalars(ctx context.Context, run, tag string) ([]Scalar, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.tag, s.step, s.value, s.wall_time
		FROM scalars s JOIN runs r ON s.run_id = r.id
		WHERE r.name = ? AND (? = '' OR s.tag = ?)
		ORDER BY s.step, s.id
	`, run, tag, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		var s Scalar
		if err := rows.Scan(&s.Tag, &s.Step, &s.Value, &s.WallTime); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// parseTime liest die Zeitformate, die SQLite fuer Aggregate zurueckgibt
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
