package sqltable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Dialect selects the bind-parameter style.
type Dialect int

const (
	// Question uses "?" placeholders (SQLite, MySQL).
	Question Dialect = iota
	// Dollar uses "$1, $2, ..." placeholders (PostgreSQL).
	Dollar
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(driver string) Dialect {
	switch driver {
	case "postgres", "pgx", "pq":
		return Dollar
	default:
		return Question
	}
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type tables struct {
	positions string
	entries   string
	dialect   Dialect
}

func newTables(prefix string, d Dialect) (tables, error) {
	if !identRE.MatchString(prefix) {
		return tables{}, fmt.Errorf("sqltable: invalid table prefix %q", prefix)
	}
	return tables{positions: prefix + "_positions", entries: prefix + "_entries", dialect: d}, nil
}

// bind rewrites "?" placeholders for the dialect. Queries here never contain
// literal question marks.
func (t tables) bind(q string) string {
	if t.dialect != Dollar {
		return q
	}
	var b strings.Builder
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

func (t tables) ddl() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t.positions + ` (
	item_id     VARCHAR(255) NOT NULL,
	item_type   VARCHAR(255) NOT NULL,
	position    INTEGER      NOT NULL,
	fingerprint VARCHAR(512) NOT NULL,
	type_field  VARCHAR(255) NOT NULL,
	created_at  BIGINT       NOT NULL,
	updated_at  BIGINT       NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + t.positions + `_fp_pos ON ` + t.positions + ` (fingerprint, position)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + t.positions + `_owner_item ON ` + t.positions + ` (item_type, item_id, fingerprint)`,
		`CREATE TABLE IF NOT EXISTS ` + t.entries + ` (
	fingerprint VARCHAR(512) NOT NULL PRIMARY KEY,
	item_type   VARCHAR(255) NOT NULL,
	type_field  VARCHAR(255) NOT NULL,
	item_count  INTEGER      NOT NULL,
	scope_gen   BIGINT       NOT NULL,
	key_gen     BIGINT       NOT NULL,
	created_at  BIGINT       NOT NULL,
	ttl_ns      BIGINT       NOT NULL,
	expires_at  BIGINT       NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ` + t.entries + `_expires ON ` + t.entries + ` (expires_at)`,
	}
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// likePrefix returns a LIKE pattern matching values that start with p,
// to be used with ESCAPE '!'.
func likePrefix(p string) string { return likeEscaper.Replace(p) + "%" }
