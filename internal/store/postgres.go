package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/logger"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Schema creates the tables used by Postgres. The ledger unique constraint on
// (staff_id, course_id, location_id) is absent in legacy deployments, which
// only have the (staff_id, course_id) one.
const Schema = `
CREATE TABLE IF NOT EXISTS courses (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	alias_names    TEXT[] NOT NULL DEFAULT '{}',
	expiry_months  INTEGER,
	never_expires  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS staff (
	id        TEXT PRIMARY KEY,
	full_name TEXT NOT NULL,
	active    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS staff_locations (
	staff_id    TEXT NOT NULL REFERENCES staff (id),
	location_id TEXT NOT NULL,
	PRIMARY KEY (staff_id, location_id)
);

CREATE TABLE IF NOT EXISTS training_ledger (
	id              UUID PRIMARY KEY,
	staff_id        TEXT NOT NULL,
	course_id       TEXT NOT NULL,
	location_id     TEXT NOT NULL DEFAULT '',
	completion_date DATE,
	expiry_date     DATE,
	status          TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (staff_id, course_id, location_id)
);`

const (
	sqlQueryLedger = `
SELECT id, staff_id, course_id, location_id, completion_date, expiry_date, status, updated_at
FROM training_ledger
WHERE ($1::text[] IS NULL OR staff_id = ANY($1))
  AND ($2::text[] IS NULL OR course_id = ANY($2))
ORDER BY id
LIMIT $3 OFFSET $4`

	sqlUpsertScoped = `
INSERT INTO training_ledger (id, staff_id, course_id, location_id, completion_date, expiry_date, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (staff_id, course_id, location_id) DO UPDATE
SET completion_date = EXCLUDED.completion_date,
    expiry_date     = EXCLUDED.expiry_date,
    status          = EXCLUDED.status,
    updated_at      = now()`

	sqlUpsertLegacy = `
INSERT INTO training_ledger (id, staff_id, course_id, location_id, completion_date, expiry_date, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (staff_id, course_id) DO UPDATE
SET completion_date = EXCLUDED.completion_date,
    expiry_date     = EXCLUDED.expiry_date,
    status          = EXCLUDED.status,
    updated_at      = now()`

	sqlUpdateLedger = `
UPDATE training_ledger
SET completion_date = $2, expiry_date = $3, status = $4, updated_at = now()
WHERE id = $1`

	sqlListCourses = `
SELECT id, canonical_name, alias_names, expiry_months, never_expires
FROM courses
ORDER BY id`

	sqlUpdateExpiryPolicy = `
UPDATE courses SET expiry_months = $2, never_expires = $3 WHERE id = $1`

	sqlListStaff = `SELECT id, full_name, active FROM staff ORDER BY id`

	sqlListAssignments = `SELECT staff_id, location_id FROM staff_locations ORDER BY staff_id, location_id`
)

// pgInvalidColumnReference is raised when ON CONFLICT names columns without a matching unique constraint
const pgInvalidColumnReference = "42P10"

// Postgres implements the store interfaces over PostgreSQL
type Postgres struct {
	db     DBTX
	logger logger.Logger
}

var (
	_ LedgerStore    = (*Postgres)(nil)
	_ CatalogStore   = (*Postgres)(nil)
	_ StaffDirectory = (*Postgres)(nil)
)

// NewPostgres creates a store over a pool or transaction
func NewPostgres(db DBTX, log logger.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.OrGlobal(log, "postgres")}
}

// Connect opens and pings a connection pool
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return pool, nil
}

// Migrate creates the tables when they do not exist
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	p.logger.Info("Schema applied")
	return nil
}

// QueryLedger implements LedgerStore
func (p *Postgres) QueryLedger(ctx context.Context, filter LedgerFilter, page Page) ([]models.LedgerEntry, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := p.db.Query(ctx, sqlQueryLedger, nullableTextArray(filter.StaffIDs), nullableTextArray(filter.CourseIDs), limit, page.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "query ledger")
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			id                  pgtype.UUID
			entry               models.LedgerEntry
			completion, expires pgtype.Date
			status              string
			updatedAt           pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &entry.StaffID, &entry.CourseID, &entry.LocationID, &completion, &expires, &status, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan ledger row")
		}
		if id.Valid {
			entry.ID = id.Bytes
		}
		entry.CompletionDate = fromPgDate(completion)
		entry.ExpiryDate = fromPgDate(expires)
		entry.Status = models.Status(status)
		if updatedAt.Valid {
			entry.UpdatedAt = updatedAt.Time
		}
		out = append(out, entry)
	}
	return out, errors.Wrap(rows.Err(), "iterate ledger rows")
}

// Upsert implements LedgerStore
func (p *Postgres) Upsert(ctx context.Context, entries []models.LedgerEntry, key models.ConflictKey) error {
	query := sqlUpsertScoped
	if key == models.ConflictLegacy {
		query = sqlUpsertLegacy
	}

	for i := range entries {
		e := &entries[i]
		if err := e.Validate(); err != nil {
			return errors.Wrap(err, "upsert ledger entry")
		}
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		location := e.LocationID
		if key == models.ConflictLegacy {
			location = ""
		}

		_, err := p.db.Exec(ctx, query,
			pgtype.UUID{Bytes: id, Valid: true},
			e.StaffID, e.CourseID, location,
			toPgDate(e.CompletionDate), toPgDate(e.ExpiryDate),
			string(e.Status),
		)
		if err != nil {
			if isConflictKeyError(err) {
				p.logger.WithField("conflict_key", key.String()).Debug("Conflict key rejected by database")
				return errors.Wrapf(ErrConflictKeyUnsupported, "upsert on %s: %v", key, err)
			}
			return errors.Wrapf(err, "upsert ledger entry %s", e.Key())
		}
	}
	return nil
}

// Update implements LedgerStore
func (p *Postgres) Update(ctx context.Context, id uuid.UUID, fields models.LedgerFields) error {
	tag, err := p.db.Exec(ctx, sqlUpdateLedger,
		pgtype.UUID{Bytes: id, Valid: true},
		toPgDate(fields.CompletionDate), toPgDate(fields.ExpiryDate),
		string(fields.Status),
	)
	if err != nil {
		return errors.Wrapf(err, "update ledger entry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "ledger entry %s", id)
	}
	return nil
}

// ListCourses implements CatalogStore
func (p *Postgres) ListCourses(ctx context.Context) ([]models.CourseCatalogEntry, error) {
	rows, err := p.db.Query(ctx, sqlListCourses)
	if err != nil {
		return nil, errors.Wrap(err, "list courses")
	}
	defer rows.Close()

	var out []models.CourseCatalogEntry
	for rows.Next() {
		var (
			course models.CourseCatalogEntry
			months pgtype.Int4
		)
		if err := rows.Scan(&course.ID, &course.CanonicalName, &course.AliasNames, &months, &course.NeverExpires); err != nil {
			return nil, errors.Wrap(err, "scan course row")
		}
		if months.Valid {
			v := int(months.Int32)
			course.ExpiryMonths = &v
		}
		out = append(out, course)
	}
	return out, errors.Wrap(rows.Err(), "iterate course rows")
}

// UpdateExpiryPolicy implements CatalogStore
func (p *Postgres) UpdateExpiryPolicy(ctx context.Context, courseID string, months *int, neverExpires bool) error {
	var pgMonths pgtype.Int4
	if months != nil {
		pgMonths = pgtype.Int4{Int32: int32(*months), Valid: true}
	}

	tag, err := p.db.Exec(ctx, sqlUpdateExpiryPolicy, courseID, pgMonths, neverExpires)
	if err != nil {
		return errors.Wrapf(err, "update expiry policy of course %s", courseID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "course %s", courseID)
	}
	return nil
}

// ListStaff implements StaffDirectory
func (p *Postgres) ListStaff(ctx context.Context) ([]models.StaffDirectoryEntry, error) {
	rows, err := p.db.Query(ctx, sqlListStaff)
	if err != nil {
		return nil, errors.Wrap(err, "list staff")
	}
	defer rows.Close()

	var out []models.StaffDirectoryEntry
	for rows.Next() {
		var s models.StaffDirectoryEntry
		if err := rows.Scan(&s.ID, &s.FullName, &s.Active); err != nil {
			return nil, errors.Wrap(err, "scan staff row")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate staff rows")
}

// ListAssignments implements StaffDirectory
func (p *Postgres) ListAssignments(ctx context.Context) ([]models.StaffLocationAssignment, error) {
	rows, err := p.db.Query(ctx, sqlListAssignments)
	if err != nil {
		return nil, errors.Wrap(err, "list staff locations")
	}
	defer rows.Close()

	var out []models.StaffLocationAssignment
	for rows.Next() {
		var a models.StaffLocationAssignment
		if err := rows.Scan(&a.StaffID, &a.LocationID); err != nil {
			return nil, errors.Wrap(err, "scan staff location row")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate staff location rows")
}

func isConflictKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgInvalidColumnReference
}

func nullableTextArray(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values
}

func toPgDate(d *time.Time) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: models.DateOf(*d), Valid: true}
}

func fromPgDate(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := models.DateOf(d.Time)
	return &t
}
