package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateDemoAccount records a new demo token for a patient.
func (s *Store) CreateDemoAccount(ctx context.Context, account DemoAccount) error {
	if account.Token == "" || account.PatientID == "" {
		return errors.New("create demo account: token and patient id are required")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO demo_accounts (token, patient_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		account.Token, account.PatientID, formatTime(account.CreatedAt), formatTime(account.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create demo account: %w", err)
	}
	return nil
}

// DemoAccountByToken looks up a demo account. It returns nil, nil when unknown.
func (s *Store) DemoAccountByToken(ctx context.Context, token string) (*DemoAccount, error) {
	var (
		account    DemoAccount
		createdRaw string
		expiresRaw string
	)
	err := s.queryRow(ctx,
		`SELECT token, patient_id, created_at, expires_at FROM demo_accounts WHERE token = ?`, token,
	).Scan(&account.Token, &account.PatientID, &createdRaw, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get demo account: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		account.CreatedAt = created
	}
	expires, err := parseTimeString(expiresRaw)
	if err != nil {
		return nil, fmt.Errorf("parse demo account expiry: %w", err)
	}
	account.ExpiresAt = expires
	return &account, nil
}

// ExtendDemoAccount moves a patient's account expiry, used by demo reset.
func (s *Store) ExtendDemoAccount(ctx context.Context, patientID string, expiresAt time.Time) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE demo_accounts SET expires_at = ? WHERE patient_id = ?`, formatTime(expiresAt), patientID)
	if err != nil {
		return fmt.Errorf("extend demo account: %w", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("extend demo account: no account for patient %s", patientID)
	}
	return nil
}

// PurgeExpiredAccounts deletes expired demo accounts together with their
// sessions and finished jobs, returning the purged patient IDs.
func (s *Store) PurgeExpiredAccounts(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.query(ctx, `SELECT patient_id FROM demo_accounts WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list expired accounts: %w", err)
	}
	var patients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired account: %w", err)
		}
		patients = append(patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, patientID := range patients {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range []string{
				`DELETE FROM sessions WHERE patient_id = ?`,
				`DELETE FROM jobs WHERE patient_id = ? AND state <> 'running'`,
				`DELETE FROM demo_accounts WHERE patient_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, s.rebind(stmt), patientID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("purge patient %s: %w", patientID, err)
		}
	}
	return patients, nil
}
