package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema for driver. Every statement is idempotent
// (CREATE ... IF NOT EXISTS / INSERT IGNORE for seed rows).
func Migrate(db *sql.DB, driver string) error {
	buf, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return fmt.Errorf("unknown driver %q: %w", driver, err)
	}
	ctx := context.Background()
	for _, stmt := range splitStatements(string(buf)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w\n%s", err, stmt)
		}
	}
	return nil
}

// MySQL は multiStatements を有効にしていないので1文ずつ流す。
func splitStatements(src string) []string {
	var out []string
	for _, s := range strings.Split(src, ";") {
		var b strings.Builder
		for _, line := range strings.Split(s, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if stmt := strings.TrimSpace(b.String()); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
