package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dvloznov/finsight/internal/domain"
)

const statementColumns = `id, user_id, filename, bank_name, statement_period_start,
	statement_period_end, uploaded_at, is_default, processing_status, processing_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*domain.Statement, error) {
	var (
		st          domain.Statement
		bankName    sql.NullString
		procErr     sql.NullString
		periodStart nullTime
		periodEnd   nullTime
		uploadedAt  nullTime
		status      string
	)
	if err := row.Scan(&st.ID, &st.UserID, &st.Filename, &bankName, &periodStart,
		&periodEnd, &uploadedAt, &st.IsDefault, &status, &procErr); err != nil {
		return nil, err
	}
	st.BankName = stringPtr(bankName)
	st.ProcessingError = stringPtr(procErr)
	st.PeriodStart = periodStart.ptr()
	st.PeriodEnd = periodEnd.ptr()
	st.UploadedAt = uploadedAt.Time
	st.Status = domain.ProcessingStatus(status)
	return &st, nil
}

// NewStatement describes a statement row to create.
type NewStatement struct {
	UserID   string
	Filename string
	Status   domain.ProcessingStatus
}

// CreateStatement inserts a statement. A user's first statement becomes
// their default.
func (s *Store) CreateStatement(ctx context.Context, in NewStatement) (*domain.Statement, error) {
	status := in.Status
	if status == "" {
		status = domain.StatusPending
	}
	id := uuid.New().String()
	now := s.now().UTC()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO statements (id, user_id, filename, uploaded_at, is_default, processing_status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+statementColumns),
		id, in.UserID, in.Filename, s.timeArg(now), false, string(status))

	st, err := scanStatement(row)
	if err != nil {
		return nil, fmt.Errorf("CreateStatement: %w", err)
	}

	promoted, err := s.promoteFirstDefault(ctx, in.UserID, id)
	if err != nil {
		return nil, fmt.Errorf("CreateStatement: %w", err)
	}
	st.IsDefault = promoted
	return st, nil
}

// promoteFirstDefault marks id as the user's default when the user has none.
// Concurrent first uploads race on the partial unique index; the loser stays
// non-default.
func (s *Store) promoteFirstDefault(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE statements SET is_default = ?
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM statements WHERE user_id = ? AND is_default = ?
		)`), true, id, userID, true)
	if isUniqueViolation(err) {
		s.log.Debug().Str("statement_id", id).Msg("Another statement became default first")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("promote default: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("promote default: %w", err)
	}
	return n == 1, nil
}

// GetStatement loads a statement by id regardless of owner. Used by the
// worker, which trusts the job's owner.
func (s *Store) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+statementColumns+` FROM statements WHERE id = ?`), id)
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetStatement: %w", err)
	}
	return st, nil
}

// GetStatementForUser loads a statement owned by userID.
func (s *Store) GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+statementColumns+`
		FROM statements WHERE id = ? AND user_id = ?`), id, userID)
	st, err := scanStatement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetStatementForUser: %w", err)
	}
	return st, nil
}

// ListStatements returns a user's statements, newest first.
func (s *Store) ListStatements(ctx context.Context, userID string) ([]*domain.Statement, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+statementColumns+`
		FROM statements WHERE user_id = ?
		ORDER BY uploaded_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("ListStatements: %w", err)
	}
	defer rows.Close()

	out := []*domain.Statement{}
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("ListStatements: scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountInFlight counts a user's statements still pending or processing.
func (s *Store) CountInFlight(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM statements
		WHERE user_id = ? AND processing_status IN (?, ?)`),
		userID, string(domain.StatusPending), string(domain.StatusProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountInFlight: %w", err)
	}
	return n, nil
}

// MarkProcessing moves a statement into processing and clears any earlier error.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE statements SET processing_status = ?, processing_error = NULL WHERE id = ?`),
		string(domain.StatusProcessing), id)
	if err != nil {
		return fmt.Errorf("MarkProcessing: %w", err)
	}
	return checkAffected(res)
}

// CompleteStatement records a successful extraction in one database
// transaction: the statement's previous transactions are replaced, the
// metadata is stored and the status becomes completed. Running it twice
// for the same statement leaves one copy of the transactions.
func (s *Store) CompleteStatement(ctx context.Context, id string, meta domain.StatementMetadata, txs []domain.Transaction) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE statements
			SET bank_name = COALESCE(?, bank_name),
			    statement_period_start = COALESCE(?, statement_period_start),
			    statement_period_end = COALESCE(?, statement_period_end),
			    processing_status = ?,
			    processing_error = NULL
			WHERE id = ?`),
			nullString(meta.BankName), s.dateArg(meta.PeriodStart), s.dateArg(meta.PeriodEnd),
			string(domain.StatusCompleted), id)
		if err != nil {
			return fmt.Errorf("update statement: %w", err)
		}
		if err := checkAffected(res); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM transactions WHERE statement_id = ?`), id); err != nil {
			return fmt.Errorf("delete previous transactions: %w", err)
		}

		insert := s.rebind(`
			INSERT INTO transactions (id, user_id, statement_id, seq, date, description, amount, type, category, tax_category, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		createdAt := s.timeArg(s.now())
		for i := range txs {
			t := &txs[i]
			if t.StatementID != id {
				return fmt.Errorf("transaction %d belongs to statement %q", i, t.StatementID)
			}
			if err := t.Validate(); err != nil {
				return err
			}
			date := t.Date
			if _, err := tx.ExecContext(ctx, insert,
				t.ID, t.UserID, id, i, s.dateArg(&date), t.Description, t.Amount.StringFixed(2),
				string(t.Type), string(t.Category), nullString(t.TaxCategory), createdAt,
			); err != nil {
				return fmt.Errorf("insert transaction %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("CompleteStatement: %w", err)
	}
	return nil
}

// FailStatement marks a statement failed with a user-facing message.
func (s *Store) FailStatement(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE statements SET processing_status = ?, processing_error = ? WHERE id = ?`),
		string(domain.StatusFailed), message, id)
	if err != nil {
		return fmt.Errorf("FailStatement: %w", err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("FailStatement: %w", err)
	}
	return nil
}

// DeleteStatement removes a statement owned by userID together with its
// transactions. When the default statement is deleted, the most recently
// uploaded remaining statement becomes the default.
func (s *Store) DeleteStatement(ctx context.Context, userID, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var wasDefault bool
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT is_default FROM statements WHERE id = ? AND user_id = ?`), id, userID).Scan(&wasDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load statement: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM transactions WHERE statement_id = ?`), id); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM statements WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete statement: %w", err)
		}

		if !wasDefault {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE statements SET is_default = ?
			WHERE id = (
				SELECT id FROM statements WHERE user_id = ?
				ORDER BY uploaded_at DESC, id DESC LIMIT 1
			)`), true, userID)
		if err != nil {
			return fmt.Errorf("promote default: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("DeleteStatement: %w", err)
	}
	return nil
}

// SetDefault makes the given statement the user's only default.
func (s *Store) SetDefault(ctx context.Context, userID, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT 1 FROM statements WHERE id = ? AND user_id = ?`), id, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load statement: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE statements SET is_default = ? WHERE user_id = ? AND is_default = ?`),
			false, userID, true); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE statements SET is_default = ? WHERE id = ?`), true, id); err != nil {
			return fmt.Errorf("set default: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("SetDefault: %w", err)
	}
	return nil
}
