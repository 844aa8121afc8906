package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout sorts lexically in the same order as time
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists reconciliations as JSON documents next to the
// columns needed for filtering and version checks.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("store").WithField("path", path)

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "open database", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.InternalError(errors.CodeStorageFailure, "ping database", err)
	}
	log.Info("Database connection established")

	s := &SQLiteStore{db: db, logger: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.InternalError(errors.CodeStorageFailure, "create migration driver", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.InternalError(errors.CodeStorageFailure, "load migrations", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return errors.InternalError(errors.CodeStorageFailure, "create migration instance", err)
	}

	if err := m.Up(); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("No new database migrations to apply")
			return nil
		}
		return errors.InternalError(errors.CodeStorageFailure, "apply migrations", err)
	}

	s.logger.Info("Database migrations applied")
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create implements ReconciliationRepository
func (s *SQLiteStore) Create(ctx context.Context, rec *models.Reconciliation) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode reconciliation", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliations
			(id, reconciliation_number, source_firm_id, target_firm_id, status, version, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ReconciliationNumber, rec.SourceFirmID, rec.TargetFirmID, string(rec.Status),
		rec.Version, string(doc), rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ConflictError(errors.CodeDuplicate, "reconciliation", rec.ID, err)
		}
		return errors.InternalError(errors.CodeStorageFailure, "insert reconciliation", err)
	}
	return nil
}

// Get implements ReconciliationRepository
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Reconciliation, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM reconciliations WHERE id = ?`, id).Scan(&doc)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError(errors.CodeReconciliationNotFound, "reconciliation", id)
	}
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "select reconciliation", err)
	}
	return decodeReconciliation(doc)
}

// Update implements ReconciliationRepository
func (s *SQLiteStore) Update(ctx context.Context, rec *models.Reconciliation) error {
	next := rec.Clone()
	next.Version = rec.Version + 1

	doc, err := json.Marshal(next)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode reconciliation", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliations
		SET status = ?, version = ?, document = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(next.Status), next.Version, string(doc), next.UpdatedAt.UTC().Format(timeLayout),
		rec.ID, rec.Version)
	if err != nil {
		return errors.InternalError(errors.CodeStorageFailure, "update reconciliation", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError(errors.CodeStorageFailure, "update reconciliation", err)
	}
	if affected == 0 {
		var stored int64
		err := s.db.QueryRowContext(ctx, `SELECT version FROM reconciliations WHERE id = ?`, rec.ID).Scan(&stored)
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFoundError(errors.CodeReconciliationNotFound, "reconciliation", rec.ID)
		}
		if err != nil {
			return errors.InternalError(errors.CodeStorageFailure, "select reconciliation version", err)
		}
		return errors.ConflictError(errors.CodeVersionConflict, "reconciliation", rec.ID, nil).
			WithContext("expected_version", stored).
			WithContext("actual_version", rec.Version)
	}

	rec.Version = next.Version
	return nil
}

// List implements ReconciliationRepository
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*models.Reconciliation, error) {
	query := `SELECT document FROM reconciliations WHERE 1 = 1`
	var args []interface{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.FirmID != "" {
		query += ` AND (source_firm_id = ? OR target_firm_id = ?)`
		args = append(args, filter.FirmID, filter.FirmID)
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "list reconciliations", err)
	}
	defer rows.Close()

	result := make([]*models.Reconciliation, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.InternalError(errors.CodeStorageFailure, "scan reconciliation", err)
		}
		rec, err := decodeReconciliation(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "list reconciliations", err)
	}
	return result, nil
}

// NextSequence implements ReconciliationRepository
func (s *SQLiteStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = value + 1
		RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, errors.InternalError(errors.CodeStorageFailure, "next sequence", err)
	}
	return value, nil
}

// Transactions implements LedgerSource
func (s *SQLiteStore) Transactions(ctx context.Context, query LedgerQuery) ([]*models.LedgerTransaction, error) {
	from := models.DateOnly(query.Start)
	until := models.DateOnly(query.End).AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, firm_id, counterparty_firm_id, reference, amount, currency, type, date, description
		FROM ledger_transactions
		WHERE firm_id = ?
		  AND (counterparty_firm_id = '' OR counterparty_firm_id = ?)
		  AND date >= ? AND date < ?
		ORDER BY id`,
		query.FirmID, query.CounterpartyFirmID, from.Format(timeLayout), until.Format(timeLayout))
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "select ledger transactions", err)
	}
	defer rows.Close()

	result := make([]*models.LedgerTransaction, 0)
	for rows.Next() {
		var (
			tx           models.LedgerTransaction
			amount, date string
			txType       string
		)
		if err := rows.Scan(&tx.ID, &tx.FirmID, &tx.CounterpartyFirmID, &tx.Reference, &amount,
			&tx.Currency, &txType, &date, &tx.Description); err != nil {
			return nil, errors.InternalError(errors.CodeStorageFailure, "scan ledger transaction", err)
		}

		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.InternalError(errors.CodeStorageFailure, "decode ledger amount", err)
		}
		if tx.Date, err = time.Parse(timeLayout, date); err != nil {
			return nil, errors.InternalError(errors.CodeStorageFailure, "decode ledger date", err)
		}
		tx.Type = models.TransactionType(txType)
		result = append(result, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "select ledger transactions", err)
	}
	return result, nil
}

// SaveTransactions implements LedgerWriter
func (s *SQLiteStore) SaveTransactions(ctx context.Context, txs []*models.LedgerTransaction) (int, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.InternalError(errors.CodeStorageFailure, "begin ledger import", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO ledger_transactions
			(id, firm_id, counterparty_firm_id, reference, amount, currency, type, date, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (firm_id, id) DO NOTHING`)
	if err != nil {
		return 0, errors.InternalError(errors.CodeStorageFailure, "prepare ledger import", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, tx := range txs {
		res, err := stmt.ExecContext(ctx, tx.ID, tx.FirmID, tx.CounterpartyFirmID, tx.Reference,
			tx.Amount.String(), tx.Currency, string(tx.Type), tx.Date.UTC().Format(timeLayout), tx.Description)
		if err != nil {
			return 0, errors.InternalError(errors.CodeStorageFailure, "insert ledger transaction", err).
				WithContext("transaction_id", tx.ID)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := dbTx.Commit(); err != nil {
		return 0, errors.InternalError(errors.CodeStorageFailure, "commit ledger import", err)
	}

	s.logger.WithField("inserted", inserted).WithField("received", len(txs)).Debug("Ledger transactions saved")
	return inserted, nil
}

func decodeReconciliation(doc string) (*models.Reconciliation, error) {
	rec := models.NewReconciliation()
	if err := json.Unmarshal([]byte(doc), rec); err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "decode reconciliation", err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
