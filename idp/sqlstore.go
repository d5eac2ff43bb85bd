package idp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width fractional seconds keep the stored strings lexicographically
// ordered, so expires_at comparisons can run inside SQL.
const sqlTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const sqlSchema = `
CREATE TABLE IF NOT EXISTS browser_sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	auth_time  TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS oidc_sessions (
	session_id            TEXT NOT NULL,
	client_id             TEXT NOT NULL,
	user_id               TEXT NOT NULL,
	state                 TEXT NOT NULL,
	nonce                 TEXT,
	code_challenge        TEXT,
	code_challenge_method TEXT,
	expires_at            TEXT NOT NULL,
	PRIMARY KEY (session_id, client_id)
);
CREATE TABLE IF NOT EXISTS oauth_auth_codes (
	code       TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	token      TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
	token      TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT NOT NULL
);
`

// SQLStore persists protocol state in SQLite. Single-use code redemption is
// a conditional UPDATE so the revocation race is settled by the database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens the database at dsn and ensures the schema exists.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) SaveBrowserSession(ctx context.Context, sess BrowserSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (id, user_id, auth_time, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, auth_time = excluded.auth_time, expires_at = excluded.expires_at`,
		sess.ID, sess.UserID, sess.AuthTime.UTC().Format(sqlTimeFormat), sess.ExpiresAt.UTC().Format(sqlTimeFormat),
	)
	return err
}

func (s *SQLStore) GetBrowserSession(ctx context.Context, id string) (*BrowserSession, error) {
	var sess BrowserSession
	var authTime, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, auth_time, expires_at FROM browser_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &authTime, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if sess.AuthTime, err = time.Parse(sqlTimeFormat, authTime); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = time.Parse(sqlTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLStore) DeleteBrowserSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE id = ?`, id)
	return err
}

func (s *SQLStore) UpsertAuthSession(ctx context.Context, sess AuthSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oidc_sessions
		 (session_id, client_id, user_id, state, nonce, code_challenge, code_challenge_method, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, client_id) DO UPDATE SET
			user_id = excluded.user_id,
			state = excluded.state,
			nonce = excluded.nonce,
			code_challenge = excluded.code_challenge,
			code_challenge_method = excluded.code_challenge_method,
			expires_at = excluded.expires_at`,
		sess.SessionID, sess.ClientID, sess.UserID, sess.State, sess.Nonce,
		sess.CodeChallenge, sess.CodeChallengeMethod, sess.ExpiresAt.UTC().Format(sqlTimeFormat),
	)
	return err
}

func (s *SQLStore) FindAuthSessionByClientAndState(ctx context.Context, clientID, state string) (*AuthSession, error) {
	var sess AuthSession
	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, client_id, user_id, state, nonce, code_challenge, code_challenge_method, expires_at
		 FROM oidc_sessions WHERE client_id = ? AND state = ? AND expires_at > ?`,
		clientID, state, time.Now().UTC().Format(sqlTimeFormat),
	).Scan(&sess.SessionID, &sess.ClientID, &sess.UserID, &sess.State, &sess.Nonce,
		&sess.CodeChallenge, &sess.CodeChallengeMethod, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if sess.ExpiresAt, err = time.Parse(sqlTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLStore) SaveAuthCode(ctx context.Context, code AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_auth_codes (code, user_id, client_id, scopes, revoked, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		code.Code, code.UserID, code.ClientID, code.Scope, code.ExpiresAt.UTC().Format(sqlTimeFormat),
	)
	return err
}

func (s *SQLStore) RedeemAuthCode(ctx context.Context, code, clientID string, now time.Time) (*AuthorizationCode, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_auth_codes SET revoked = 1
		 WHERE code = ? AND client_id = ? AND revoked = 0 AND expires_at > ?`,
		code, clientID, now.UTC().Format(sqlTimeFormat),
	)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows != 1 {
		return nil, nil
	}

	var rec AuthorizationCode
	var revoked int
	var expiresAt string
	err = s.db.QueryRowContext(ctx,
		`SELECT code, user_id, client_id, scopes, revoked, expires_at FROM oauth_auth_codes WHERE code = ?`, code,
	).Scan(&rec.Code, &rec.UserID, &rec.ClientID, &rec.Scope, &revoked, &expiresAt)
	if err != nil {
		return nil, err
	}
	rec.Revoked = revoked != 0
	if rec.ExpiresAt, err = time.Parse(sqlTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) SaveAccessToken(ctx context.Context, token AccessToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_access_tokens (token, client_id, user_id, scopes, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token.Token, token.ClientID, token.UserID, token.Scope, token.ExpiresAt.UTC().Format(sqlTimeFormat),
	)
	return err
}

func (s *SQLStore) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	var rec AccessToken
	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, client_id, user_id, scopes, expires_at FROM oauth_access_tokens WHERE token = ?`, token,
	).Scan(&rec.Token, &rec.ClientID, &rec.UserID, &rec.Scope, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if rec.ExpiresAt, err = time.Parse(sqlTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) SaveRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_refresh_tokens (token, client_id, user_id, scopes, revoked, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.Token, token.ClientID, token.UserID, token.Scope, boolToInt(token.Revoked),
		token.ExpiresAt.UTC().Format(sqlTimeFormat),
	)
	return err
}

func (s *SQLStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var rec RefreshToken
	var revoked int
	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, client_id, user_id, scopes, revoked, expires_at FROM oauth_refresh_tokens WHERE token = ?`, token,
	).Scan(&rec.Token, &rec.ClientID, &rec.UserID, &rec.Scope, &revoked, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Revoked = revoked != 0
	if rec.ExpiresAt, err = time.Parse(sqlTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
