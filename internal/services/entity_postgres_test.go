package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/jackc/pgx/v5/pgconn"
)

var pgTestNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newPGRepoWithMock(t *testing.T, opts ...EntityRepoOption) (*PostgresEntityRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	opts = append([]EntityRepoOption{WithClock(func() time.Time { return pgTestNow })}, opts...)
	return NewPostgresEntityRepository(db, opts...), mock, db
}

var pgEntityCols = []string{"id", "name", "description", "created_at", "updated_at"}

func TestPostgresCreate_Success(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+entities\s*\(name,\s*name_key,\s*description,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING\s+id\s*$`
	desc := "bar"
	mock.ExpectQuery(q).
		WithArgs("Foo", "foo", "bar", pgTestNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	e := &models.Entity{Name: "Foo", Description: &desc}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if e.ID != 7 {
		t.Errorf("ID = %d, want 7", e.ID)
	}
	if !e.CreatedAt.Equal(pgTestNow) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, pgTestNow)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCreate_UniqueViolation(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t, WithNamePolicy(NameCaseSensitive))
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+entities`).
		WithArgs("Foo", "Foo", nil, pgTestNow).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), &models.Entity{Name: "Foo"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestPostgresCreate_DBError(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+entities`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.Entity{Name: "Foo"})
	if err == nil || !regexp.MustCompile(`create entity: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Fatal("generic failure must not map to ErrAlreadyExists")
	}
}

func TestPostgresGet(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*name,\s*description,\s*created_at,\s*updated_at\s+FROM\s+entities\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(pgEntityCols).AddRow(int64(3), "Foo", nil, pgTestNow, nil))
	mock.ExpectQuery(q).WithArgs(int64(4)).WillReturnError(sql.ErrNoRows)

	got, err := repo.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Name != "Foo" || got.Description != nil || got.UpdatedAt != nil {
		t.Errorf("unexpected entity: %+v", got)
	}

	if _, err := repo.Get(context.Background(), 4); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(4) err = %v, want ErrNotFound", err)
	}
}

func TestPostgresFindWithSearch(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,.*FROM\s+entities\s+WHERE\s+1=1\s+AND\s+\(lower\(name\)\s+LIKE\s+\$1.*lower\(description\)\s+LIKE\s+\$2.*ORDER\s+BY\s+created_at\s+DESC,\s*id\s+DESC\s+LIMIT\s+\$3\s+OFFSET\s+\$4$`
	mock.ExpectQuery(q).
		WithArgs(`%50\%%`, `%50\%%`, 10, 20).
		WillReturnRows(sqlmock.NewRows(pgEntityCols).
			AddRow(int64(2), "50% off", "promo", pgTestNow, pgTestNow))

	got, err := repo.Find(context.Background(), EntityFilter{Search: "50%"}, ListOptions{Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "50% off" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got[0].UpdatedAt == nil {
		t.Error("UpdatedAt should be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCount(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+entities\s+WHERE\s+1=1$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	n, err := repo.Count(context.Background(), EntityFilter{})
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 25 {
		t.Errorf("Count = %d, want 25", n)
	}
}

func TestPostgresNameTaken(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+EXISTS\(SELECT\s+1\s+FROM\s+entities\s+WHERE\s+name_key\s*=\s*\$1\s+AND\s+id\s*<>\s*\$2\)`).
		WithArgs("foo", int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	taken, err := repo.NameTaken(context.Background(), "FOO", 9)
	if err != nil {
		t.Fatalf("NameTaken error: %v", err)
	}
	if !taken {
		t.Error("NameTaken = false, want true")
	}
}

func TestPostgresUpdate(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+entities\s+SET\s+name\s*=\s*\$1,\s*name_key\s*=\s*\$2,\s*updated_at\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$4\s+RETURNING\s+id,\s*name,\s*description,\s*created_at,\s*updated_at$`
	mock.ExpectQuery(q).
		WithArgs("Bar", "bar", pgTestNow, int64(5)).
		WillReturnRows(sqlmock.NewRows(pgEntityCols).AddRow(int64(5), "Bar", "kept", pgTestNow, pgTestNow))

	name := "Bar"
	got, err := repo.Update(context.Background(), 5, EntityPatch{Name: &name})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Name != "Bar" || got.DescriptionOrEmpty() != "kept" {
		t.Errorf("unexpected entity: %+v", got)
	}
}

func TestPostgresUpdate_Errors(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE\s+entities`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`UPDATE\s+entities`).WillReturnError(&pgconn.PgError{Code: "23505"})

	patch := EntityPatch{Description: models.Null[string]()}
	if _, err := repo.Update(context.Background(), 1, patch); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Update(context.Background(), 1, patch); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestPostgresDelete(t *testing.T) {
	repo, mock, db := newPGRepoWithMock(t)
	defer db.Close()

	q := `^DELETE\s+FROM\s+entities\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectExec(q).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete(1) error: %v", err)
	}
	if err := repo.Delete(context.Background(), 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete(2) err = %v, want ErrNotFound", err)
	}
}
