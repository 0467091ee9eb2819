package feedback

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestDB returns a database connection for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback (
			id BIGSERIAL PRIMARY KEY,
			patient_id VARCHAR(64) NOT NULL DEFAULT '',
			symptoms TEXT NOT NULL DEFAULT '',
			suggested_diagnosis VARCHAR(200) NOT NULL,
			clinician_diagnosis VARCHAR(200) NOT NULL DEFAULT '',
			agreed BOOLEAN NOT NULL DEFAULT FALSE,
			evidence_summary TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (patient_id, suggested_diagnosis)
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM feedback")
	require.NoError(t, err)

	return db
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStore_Save_Mock(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (patient_id, suggested_diagnosis) DO UPDATE")).
		WithArgs("p1", "头晕", "高血压", "高血压", true, "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, created))

	fb := &Feedback{PatientID: "p1", Symptoms: "头晕", SuggestedDiagnosis: "高血压", Agreed: true}

	// Act
	err := store.Save(context.Background(), fb)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(7), fb.ID)
	assert.Equal(t, created, fb.CreatedAt)
	assert.False(t, fb.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Mock(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	columns := []string{"id", "patient_id", "symptoms", "suggested_diagnosis", "clinician_diagnosis",
		"agreed", "evidence_summary", "notes", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs("p1", "高血压").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "p1", "", "高血压", "冠心病", false, "", "", now, now))
	mock.ExpectQuery("SELECT id, patient_id").
		WithArgs("ghost", "高血压").
		WillReturnError(sql.ErrNoRows)

	fb, err := store.Get(context.Background(), "p1", "高血压")
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, "冠心病", fb.ClinicianDiagnosis)

	missing, err := store.Get(context.Background(), "ghost", "高血压")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Errors_Mock(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("DELETE FROM feedback").WithArgs(int64(3)).WillReturnError(errors.New("connection refused"))

	_, err := store.Count(ctx)
	assert.ErrorContains(t, err, "failed to count feedback")

	err = store.Delete(ctx, 3)
	assert.ErrorContains(t, err, "failed to delete feedback")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_Errors(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("no route to host"))

	_, err = NewPostgresStore(db)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestPostgresStore_SaveUpdate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	fb := &Feedback{PatientID: "p1", SuggestedDiagnosis: "高血压", Agreed: true}
	require.NoError(t, store.Save(ctx, fb))
	originalID := fb.ID

	fb.Agreed = false
	fb.ClinicianDiagnosis = "冠心病"
	require.NoError(t, store.Save(ctx, fb))
	assert.Equal(t, originalID, fb.ID)

	retrieved, err := store.Get(ctx, "p1", "高血压")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "冠心病", retrieved.ClinicianDiagnosis)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPostgresStore_ListAndDelete(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	for _, diagnosis := range []string{"高血压", "糖尿病"} {
		require.NoError(t, store.Save(ctx, &Feedback{PatientID: "p1", SuggestedDiagnosis: diagnosis, Agreed: true}))
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, all[0].ID))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
