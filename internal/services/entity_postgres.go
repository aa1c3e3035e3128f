package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the PostgreSQL
// repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Compile-time interface guard.
var _ EntityRepository = (*PostgresEntityRepository)(nil)

// PostgresEntityRepository implements EntityRepository on PostgreSQL. The
// schema comes from the goose migrations in internal/store/migrations.
type PostgresEntityRepository struct {
	db  DBTX
	cfg entityRepoConfig
}

// NewPostgresEntityRepository returns a repository using db.
func NewPostgresEntityRepository(db DBTX, opts ...EntityRepoOption) *PostgresEntityRepository {
	return &PostgresEntityRepository{db: db, cfg: newEntityRepoConfig(opts)}
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func (r *PostgresEntityRepository) Get(ctx context.Context, id int64) (*models.Entity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

func (r *PostgresEntityRepository) Find(ctx context.Context, filter EntityFilter, opts ListOptions) ([]models.Entity, error) {
	opts = normalizeListOptions(opts)
	where, args := entityWhere(filter, "lower", pgPlaceholder)
	n := len(args)
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf(`SELECT %s FROM entities WHERE %s %s LIMIT %s OFFSET %s`,
		entityColumns, where, entityOrder, pgPlaceholder(n+1), pgPlaceholder(n+2))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	return collectEntities(rows)
}

func (r *PostgresEntityRepository) Count(ctx context.Context, filter EntityFilter) (int, error) {
	where, args := entityWhere(filter, "lower", pgPlaceholder)
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE `+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return total, nil
}

func (r *PostgresEntityRepository) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entities WHERE name_key = $1 AND id <> $2)`,
		r.cfg.policy.Key(name), excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check entity name: %w", err)
	}
	return taken, nil
}

func (r *PostgresEntityRepository) Create(ctx context.Context, e *models.Entity) error {
	e.CreatedAt = r.cfg.now().UTC()
	e.UpdatedAt = nil

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO entities (name, name_key, description, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		e.Name, r.cfg.policy.Key(e.Name), e.Description, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func (r *PostgresEntityRepository) Update(ctx context.Context, id int64, patch EntityPatch) (*models.Entity, error) {
	set, args := entitySet(patch, r.cfg.policy, r.cfg.now().UTC(), pgPlaceholder)
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE entities SET %s WHERE id = %s RETURNING %s`,
		set, pgPlaceholder(len(args)), entityColumns)
	e, err := scanEntity(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		case isPGUniqueViolation(err):
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update entity %d: %w", id, err)
	}
	return e, nil
}

func (r *PostgresEntityRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete entity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
