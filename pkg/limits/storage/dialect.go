package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect holds the statements that differ between SQL databases. All
// statements are written with ? placeholders and rebound for postgres.
type dialect struct {
	name string

	// schema is executed one statement at a time.
	schema []string

	// insertRecordIgnore inserts a record unless the subject exists.
	insertRecordIgnore string

	// upsertRecord inserts or fully overwrites a record row.
	upsertRecord string

	// incrementUsage adds one to a usage row, creating it at 1.
	incrementUsage string

	// ensureUsage creates a usage row at 0 unless it exists.
	ensureUsage string

	// numbered selects $n placeholders.
	numbered bool
}

var (
	sqliteDialect = dialect{
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS quota_records (
				subject_id TEXT PRIMARY KEY,
				tier TEXT NOT NULL,
				reset_at INTEGER NOT NULL,
				last_updated INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_quota_records_reset_at ON quota_records(reset_at)`,
			`CREATE TABLE IF NOT EXISTS quota_usage (
				subject_id TEXT NOT NULL,
				feature TEXT NOT NULL,
				used INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (subject_id, feature)
			)`,
		},
		insertRecordIgnore: `INSERT INTO quota_records (subject_id, tier, reset_at, last_updated, created_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT (subject_id) DO NOTHING`,
		upsertRecord: `INSERT INTO quota_records (subject_id, tier, reset_at, last_updated, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (subject_id) DO UPDATE SET
				tier = excluded.tier,
				reset_at = excluded.reset_at,
				last_updated = excluded.last_updated`,
		incrementUsage: `INSERT INTO quota_usage (subject_id, feature, used) VALUES (?, ?, 1)
			ON CONFLICT (subject_id, feature) DO UPDATE SET used = quota_usage.used + 1`,
		ensureUsage: `INSERT INTO quota_usage (subject_id, feature, used) VALUES (?, ?, 0)
			ON CONFLICT (subject_id, feature) DO NOTHING`,
	}

	postgresDialect = dialect{
		name: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS quota_records (
				subject_id TEXT PRIMARY KEY,
				tier TEXT NOT NULL,
				reset_at BIGINT NOT NULL,
				last_updated BIGINT NOT NULL,
				created_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_quota_records_reset_at ON quota_records(reset_at)`,
			`CREATE TABLE IF NOT EXISTS quota_usage (
				subject_id TEXT NOT NULL,
				feature TEXT NOT NULL,
				used BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (subject_id, feature)
			)`,
		},
		insertRecordIgnore: sqliteDialect.insertRecordIgnore,
		upsertRecord:       sqliteDialect.upsertRecord,
		incrementUsage:     sqliteDialect.incrementUsage,
		ensureUsage:        sqliteDialect.ensureUsage,
		numbered:           true,
	}

	mysqlDialect = dialect{
		name: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS quota_records (
				subject_id VARCHAR(191) NOT NULL PRIMARY KEY,
				tier VARCHAR(64) NOT NULL,
				reset_at BIGINT NOT NULL,
				last_updated BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				INDEX idx_quota_records_reset_at (reset_at)
			)`,
			`CREATE TABLE IF NOT EXISTS quota_usage (
				subject_id VARCHAR(191) NOT NULL,
				feature VARCHAR(64) NOT NULL,
				used BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (subject_id, feature)
			)`,
		},
		insertRecordIgnore: `INSERT IGNORE INTO quota_records (subject_id, tier, reset_at, last_updated, created_at)
			VALUES (?, ?, ?, ?, ?)`,
		upsertRecord: `INSERT INTO quota_records (subject_id, tier, reset_at, last_updated, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				tier = VALUES(tier),
				reset_at = VALUES(reset_at),
				last_updated = VALUES(last_updated)`,
		incrementUsage: `INSERT INTO quota_usage (subject_id, feature, used) VALUES (?, ?, 1)
			ON DUPLICATE KEY UPDATE used = used + 1`,
		ensureUsage: `INSERT IGNORE INTO quota_usage (subject_id, feature, used) VALUES (?, ?, 0)`,
	}
)

// dialectFor returns the dialect of a database/sql driver name.
func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported dialect: %s (supported: sqlite, sqlite3, postgres, mysql)", driver)
	}
}

// rebind rewrites ? placeholders to $1..$n when the dialect needs it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
