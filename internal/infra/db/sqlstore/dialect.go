package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect names a supported SQL backend. Queries are written with ? and
// rebound per dialect.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect validates a configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case SQLite, MySQL, Postgres:
		return d, nil
	case "postgresql", "pq":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver: %q", s)
}

// Rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// InsertIgnore builds an insert that silently skips rows whose key exists.
func (d Dialect) InsertIgnore(table string, columns []string, conflict ...string) string {
	ph := placeholders(len(columns))
	cols := strings.Join(columns, ", ")
	switch d {
	case MySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, ph)
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			table, cols, ph, strings.Join(conflict, ", "))
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
