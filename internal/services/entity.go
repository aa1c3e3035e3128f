package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// EntityFilter controls which entities are matched by Find and Count.
type EntityFilter struct {
	// Search matches a case-insensitive substring of name or description.
	Search string
}

// EntityPatch lists the fields an update changes. A nil Name leaves the
// name alone; an unset Description leaves it alone and a null one clears it.
type EntityPatch struct {
	Name        *string
	Description models.Optional[string]
}

// Empty reports whether the patch changes nothing.
func (p EntityPatch) Empty() bool {
	return p.Name == nil && !p.Description.Set
}

// EntityRepository provides persistence for entities. Implementations keep
// a UNIQUE constraint on the policy key of the name and report violations
// as ErrAlreadyExists.
type EntityRepository interface {
	// Get returns a single entity by ID.
	Get(ctx context.Context, id int64) (*models.Entity, error)

	// Find returns one page of matching entities, newest first.
	Find(ctx context.Context, filter EntityFilter, opts ListOptions) ([]models.Entity, error)

	// Count returns the number of matching entities, ignoring pagination.
	Count(ctx context.Context, filter EntityFilter) (int, error)

	// NameTaken reports whether an entity other than excludeID already uses
	// a name that collides with name. Pass 0 to consider every entity.
	NameTaken(ctx context.Context, name string, excludeID int64) (bool, error)

	// Create inserts e and fills in its ID and CreatedAt.
	Create(ctx context.Context, e *models.Entity) error

	// Update applies patch, stamps UpdatedAt and returns the new state.
	Update(ctx context.Context, id int64, patch EntityPatch) (*models.Entity, error)

	// Delete permanently removes an entity.
	Delete(ctx context.Context, id int64) error
}

// EntityRepoOption configures an entity repository.
type EntityRepoOption func(*entityRepoConfig)

type entityRepoConfig struct {
	policy NamePolicy
	now    func() time.Time
}

func newEntityRepoConfig(opts []EntityRepoOption) entityRepoConfig {
	cfg := entityRepoConfig{policy: NameCaseInsensitive, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithNamePolicy sets how name collisions are detected.
func WithNamePolicy(p NamePolicy) EntityRepoOption {
	return func(c *entityRepoConfig) { c.policy = p }
}

// WithClock overrides the time source used for createdAt and updatedAt.
func WithClock(now func() time.Time) EntityRepoOption {
	return func(c *entityRepoConfig) { c.now = now }
}

// Compile-time interface guard.
var _ EntityRepository = (*SQLiteEntityRepository)(nil)

// SQLiteEntityRepository implements EntityRepository on the embedded store.
type SQLiteEntityRepository struct {
	db  *sql.DB
	cfg entityRepoConfig
}

// NewSQLiteEntityRepository runs the entities migrations and returns a
// repository on the store's database.
func NewSQLiteEntityRepository(ctx context.Context, store plugin.Store, opts ...EntityRepoOption) (*SQLiteEntityRepository, error) {
	if err := store.Migrate(ctx, "entities", entityMigrations); err != nil {
		return nil, fmt.Errorf("entities migrations: %w", err)
	}
	return &SQLiteEntityRepository{db: store.DB(), cfg: newEntityRepoConfig(opts)}, nil
}

// entityColumns is the shared column list for entity queries.
const entityColumns = `id, name, description, created_at, updated_at`

const entityOrder = `ORDER BY created_at DESC, id DESC`

func (r *SQLiteEntityRepository) Get(ctx context.Context, id int64) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteEntityRepository) Find(ctx context.Context, filter EntityFilter, opts ListOptions) ([]models.Entity, error) {
	opts = normalizeListOptions(opts)
	where, args := entityWhere(filter, sqliteFoldFunc, sqlitePlaceholder)
	args = append(args, opts.Limit, opts.Offset)

	//nolint:gosec // where uses parameterized placeholders only
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE `+where+` `+entityOrder+` LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	return collectEntities(rows)
}

func (r *SQLiteEntityRepository) Count(ctx context.Context, filter EntityFilter) (int, error) {
	where, args := entityWhere(filter, sqliteFoldFunc, sqlitePlaceholder)
	var total int
	//nolint:gosec // where uses parameterized placeholders only
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return total, nil
}

func (r *SQLiteEntityRepository) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entities WHERE name_key = ? AND id <> ?)`,
		r.cfg.policy.Key(name), excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check entity name: %w", err)
	}
	return taken, nil
}

func (r *SQLiteEntityRepository) Create(ctx context.Context, e *models.Entity) error {
	e.CreatedAt = r.cfg.now().UTC()
	e.UpdatedAt = nil

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO entities (name, name_key, description, created_at) VALUES (?, ?, ?, ?)`,
		e.Name, r.cfg.policy.Key(e.Name), e.Description, e.CreatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create entity: last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *SQLiteEntityRepository) Update(ctx context.Context, id int64, patch EntityPatch) (*models.Entity, error) {
	set, args := entitySet(patch, r.cfg.policy, r.cfg.now().UTC(), sqlitePlaceholder)
	args = append(args, id)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update entity %d: begin: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	//nolint:gosec // set is built from fixed column names
	res, err := tx.ExecContext(ctx, `UPDATE entities SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update entity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	e, err := scanEntity(tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload entity %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update entity %d: commit: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteEntityRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func sqlitePlaceholder(int) string { return "?" }

// sqliteFoldFunc is foldCase registered as an SQL function. SQLite's own
// lower() folds ASCII only.
const sqliteFoldFunc = "entitykit_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(sqliteFoldFunc, 1, sqliteFold)
}

func sqliteFold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return foldCase(v), nil
	case []byte:
		return foldCase(string(v)), nil
	default:
		return v, nil
	}
}

// entityWhere builds the WHERE clause for filter. fold names the SQL
// function that applies foldCase to a column; placeholder receives the
// 1-based argument position so PostgreSQL can number its parameters.
func entityWhere(filter EntityFilter, fold string, placeholder func(int) string) (string, []any) {
	where := "1=1"
	var args []any
	if filter.Search != "" {
		pattern := containsPattern(filter.Search)
		where += fmt.Sprintf(` AND (%[1]s(name) LIKE %[2]s ESCAPE '\' OR %[1]s(description) LIKE %[3]s ESCAPE '\')`,
			fold, placeholder(1), placeholder(2))
		args = append(args, pattern, pattern)
	}
	return where, args
}

// entitySet builds the SET clause for patch. updated_at is always written.
func entitySet(patch EntityPatch, policy NamePolicy, now time.Time, placeholder func(int) string) (string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		cols = append(cols, col+" = "+placeholder(len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
		add("name_key", policy.Key(*patch.Name))
	}
	if patch.Description.Set {
		add("description", patch.Description.Ptr())
	}
	add("updated_at", now)
	return strings.Join(cols, ", "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var desc sql.NullString
	var updated sql.NullTime
	if err := row.Scan(&e.ID, &e.Name, &desc, &e.CreatedAt, &updated); err != nil {
		return nil, err
	}
	if desc.Valid {
		e.Description = &desc.String
	}
	if updated.Valid {
		t := updated.Time
		e.UpdatedAt = &t
	}
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]models.Entity, error) {
	defer rows.Close()

	entities := []models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE constraint failure.
func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

var entityMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create entities table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS entities (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					name        TEXT     NOT NULL CHECK (length(name) BETWEEN 1 AND 100),
					name_key    TEXT     NOT NULL UNIQUE,
					description TEXT     CHECK (description IS NULL OR length(description) <= 500),
					created_at  DATETIME NOT NULL,
					updated_at  DATETIME
				)`,
				`CREATE INDEX IF NOT EXISTS idx_entities_created ON entities(created_at DESC, id DESC)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
