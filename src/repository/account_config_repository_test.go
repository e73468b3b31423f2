package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAccountConfigRepositoryGetByAccountID(t *testing.T) {
	t.Run("returns the config", func(t *testing.T) {
		mockDB, mock := newMockDB(t)
		repo := &AccountConfigRepository{db: mockDB}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "account_configs" WHERE account_id = $1 ORDER BY "account_configs"."id" LIMIT $2`)).
			WithArgs(uint(1), 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "enabled", "min_signal_score", "max_open_positions"}).
				AddRow(5, 1, true, 75.0, 2))

		cfg, err := repo.GetByAccountID(context.Background(), 1)
		if err != nil {
			t.Fatalf("unexpected error fetching account config: %v", err)
		}

		if cfg == nil || cfg.AccountID != 1 || !cfg.Enabled {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.MinSignalScore != 75.0 || cfg.MaxOpenPositions != 2 {
			t.Fatalf("unexpected thresholds: %+v", cfg)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet sqlmock expectations: %v", err)
		}
	})

	t.Run("not found is nil, nil", func(t *testing.T) {
		mockDB, mock := newMockDB(t)
		repo := &AccountConfigRepository{db: mockDB}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "account_configs" WHERE account_id = $1 ORDER BY "account_configs"."id" LIMIT $2`)).
			WithArgs(uint(99), 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		cfg, err := repo.GetByAccountID(context.Background(), 99)
		if err != nil {
			t.Fatalf("expected nil error for missing config, got %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config, got %+v", cfg)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet sqlmock expectations: %v", err)
		}
	})
}

func TestAccountConfigRepositoryListEnabled(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &AccountConfigRepository{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "account_configs" WHERE enabled = $1 ORDER BY account_id ASC`)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "enabled"}).
			AddRow(1, 1, true).
			AddRow(2, 3, true))

	configs, err := repo.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("unexpected error listing enabled accounts: %v", err)
	}

	if len(configs) != 2 {
		t.Fatalf("expected 2 enabled accounts, got %d", len(configs))
	}
	if configs[0].AccountID != 1 || configs[1].AccountID != 3 {
		t.Fatalf("accounts not ordered by account id: %+v", configs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestAccountConfigRepositoryDisable(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &AccountConfigRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "account_configs" SET "disabled_reason"=$1,"enabled"=$2,"updated_at"=$3 WHERE account_id = $4`)).
		WithArgs("AUTH_INVALID", false, sqlmock.AnyArg(), uint(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Disable(context.Background(), 1, "AUTH_INVALID"); err != nil {
		t.Fatalf("unexpected error disabling account: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
