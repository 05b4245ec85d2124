package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the newest migration this binary knows about.
const RequiredSchemaVersion uint = 1

// ErrSchemaMismatch is returned by Open when the database is not at
// RequiredSchemaVersion.
var ErrSchemaMismatch = errors.New("postgres schema mismatch")

// SchemaStatus compares the migrate bookkeeping row with RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads schema_migrations. A missing table or row means the
// database has never been migrated.
func CheckSchema(ctx context.Context, db *sql.DB) *SchemaStatus {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").
		Scan(&s.CurrentVersion, &s.Dirty)
	if err != nil {
		s.NeedsMigration = true
		return s
	}
	if s.Dirty {
		return s
	}
	switch {
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s
}

// Describe explains an incompatible status and how to fix it.
func (s *SchemaStatus) Describe() string {
	switch {
	case s.Compatible:
		return fmt.Sprintf("schema at v%d", s.CurrentVersion)
	case s.Dirty:
		return fmt.Sprintf("schema is dirty at v%d (a migration failed partway); run `autoreply migrate force %d` then `autoreply migrate up`",
			s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("schema v%d is newer than this binary (requires v%d); upgrade autoreply",
			s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("schema is outdated: current v%d, required v%d; run `autoreply migrate up`",
			s.CurrentVersion, s.RequiredVersion)
	}
}
