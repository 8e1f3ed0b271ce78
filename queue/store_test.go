package queue

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnotes/quill/errors"
)

func TestInsertOperationClassifiesStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sync_operations").
		WillReturnError(errors.New("disk I/O error"))

	op := New(TypeCreate, "n1", "n1", nil, 1000)
	err = insertOperation(db, op)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEligibleBatchClassifiesStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM sync_operations").
		WillReturnError(errors.New("database is locked"))

	_, err = eligibleBatch(db, 1000, 100, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOperationMissingRowIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM sync_operations WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = getOperation(db, "op_missing")

	assert.True(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
