package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxManager_WithTx(t *testing.T) {
	t.Run("commits_on_success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit()

		called := false
		err = NewTxManager(db).WithTx(context.Background(), func(tx *sql.Tx) error {
			called = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls_back_and_returns_fn_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		sentinel := errors.New("operation failed")
		err = NewTxManager(db).WithTx(context.Background(), func(tx *sql.Tx) error {
			return sentinel
		})

		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin_failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin().WillReturnError(errors.New("begin failed"))

		err = NewTxManager(db).WithTx(context.Background(), func(tx *sql.Tx) error {
			t.Fatal("fn must not run")
			return nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit_failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("commit failed"))

		err = NewTxManager(db).WithTx(context.Background(), func(tx *sql.Tx) error {
			return nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})

	t.Run("rollback_failure_keeps_both_errors", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("rollback failed"))

		sentinel := errors.New("operation error")
		err = NewTxManager(db).WithTx(context.Background(), func(tx *sql.Tx) error {
			return sentinel
		})

		assert.ErrorIs(t, err, sentinel)
		assert.Contains(t, err.Error(), "rollback failed")
	})
}
