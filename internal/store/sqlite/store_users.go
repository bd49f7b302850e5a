package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/thub/thub/internal/domain"
)

// LookupCredential returns the credential stored for username.
func (s *Store) LookupCredential(ctx context.Context, username string) (domain.Credential, bool, error) {
	c := domain.Credential{Username: username}
	err := s.db.QueryRowContext(ctx, `SELECT password_hash, salt FROM users WHERE username = ?`, username).Scan(&c.PasswordHash, &c.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, false, nil
	}
	if err != nil {
		return domain.Credential{}, false, err
	}
	return c, true, nil
}

// PutUser stores cred. Without replace an existing user yields
// [domain.ErrUserExists].
func (s *Store) PutUser(ctx context.Context, cred domain.Credential, replace bool) error {
	if strings.TrimSpace(cred.Username) == "" {
		return errors.New("username is required")
	}
	if replace {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO users(username, password_hash, salt) VALUES(?, ?, ?)
ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, salt = excluded.salt`,
			cred.Username, cred.PasswordHash, cred.Salt)
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users(username, password_hash, salt) VALUES(?, ?, ?)
ON CONFLICT(username) DO NOTHING`, cred.Username, cred.PasswordHash, cred.Salt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserExists
	}
	return nil
}

// DeleteUser removes username or reports [domain.ErrUserNotFound].
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListUsers returns all credentials ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password_hash, salt FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(&c.Username, &c.PasswordHash, &c.Salt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
