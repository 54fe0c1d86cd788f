package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Migrate brings the schema up to the newest embedded revision. Revision
// files live in sql/ as NNNN_name.sql, are applied in ascending order
// inside a single transaction, and the current revision is tracked in a
// schema_version row.
func Migrate(db *sql.DB) error {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return fmt.Errorf("migrate: read embedded schema: %w", err)
	}
	type revision struct {
		number int
		file   string
	}
	var revisions []revision
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &n); err != nil {
			return fmt.Errorf("migrate: bad revision filename %s: %w", entry.Name(), err)
		}
		revisions = append(revisions, revision{number: n, file: entry.Name()})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].number < revisions[j].number })

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("migrate: ensure schema_version: %w", err)
	}
	current := 0
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current); err {
	case nil:
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("migrate: seed schema_version: %w", err)
		}
	default:
		return fmt.Errorf("migrate: read schema_version: %w", err)
	}

	for _, rev := range revisions {
		if rev.number <= current {
			continue
		}
		stmts, err := schemaFS.ReadFile("sql/" + rev.file)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", rev.file, err)
		}
		if _, err := tx.Exec(string(stmts)); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", rev.file, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, rev.number); err != nil {
			return fmt.Errorf("migrate: record %s: %w", rev.file, err)
		}
		current = rev.number
	}
	return tx.Commit()
}
