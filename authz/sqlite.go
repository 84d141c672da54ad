package authz

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"gitserve/giterr"
)

// SQLiteAuthZ is the bundled default AuthZ implementation: a repo registry
// (owner/repo -> public flag) plus bcrypt-hashed user credentials in
// SQLite.
type SQLiteAuthZ struct {
	db        *sql.DB
	jwtSecret []byte
}

func NewSQLiteAuthZ(dbPath string, jwtSecret []byte) (*SQLiteAuthZ, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "authz: open sqlite")
	}
	s := &SQLiteAuthZ{db: db, jwtSecret: jwtSecret}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuthZ) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS repos (
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		public BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, name)
	);

	CREATE TABLE IF NOT EXISTS repo_writers (
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (owner, name, user_id)
	);
	`
	_, err := s.db.Exec(schema)
	return errors.Wrap(err, "authz: init schema")
}

// CreateUser registers a new credential, bcrypt-hashing the password.
func (s *SQLiteAuthZ) CreateUser(username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "authz: hash password")
	}
	id := uuid.NewString()
	_, err = s.db.Exec(`INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)`,
		id, username, string(hash))
	if err != nil {
		return "", errors.Wrap(err, "authz: create user")
	}
	return id, nil
}

// IssueToken mints a JWT that can be presented as the HTTP Basic password
// in place of a raw password.
func (s *SQLiteAuthZ) IssueToken(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *SQLiteAuthZ) validateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("authz: invalid token")
	}
	return claims.Subject, nil
}

// resolveUser accepts either a raw password or a JWT as the Basic password,
// returning the authenticated user ID.
func (s *SQLiteAuthZ) resolveUser(creds Credentials) (string, error) {
	if userID, err := s.validateToken(creds.Password); err == nil {
		return userID, nil
	}

	var id, hash string
	row := s.db.QueryRow(`SELECT id, password_hash FROM users WHERE username = ?`, creds.Username)
	if err := row.Scan(&id, &hash); err != nil {
		return "", errors.Wrap(err, "authz: lookup user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)); err != nil {
		return "", errors.New("authz: bad password")
	}
	return id, nil
}

// Check implements AuthZ: reads require the repo to be public or the caller
// to authenticate as any registered user; writes always require a
// registered writer.
func (s *SQLiteAuthZ) Check(ctx context.Context, owner, repo string, op Op, creds Credentials) error {
	var public bool
	row := s.db.QueryRowContext(ctx, `SELECT public FROM repos WHERE owner = ? AND name = ?`, owner, repo)
	if err := row.Scan(&public); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return giterr.New(giterr.NotFound, "repository not found")
		}
		return errors.Wrap(err, "authz: lookup repo")
	}

	if op == OpRead && public {
		return nil
	}

	userID, err := s.resolveUser(creds)
	if err != nil {
		return giterr.Wrap(giterr.Unauthorized, err, "invalid credentials")
	}

	if op == OpRead {
		return nil // any authenticated user may read a non-public repo it was handed credentials for
	}

	var exists int
	row = s.db.QueryRowContext(ctx, `SELECT 1 FROM repo_writers WHERE owner = ? AND name = ? AND user_id = ?`,
		owner, repo, userID)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return giterr.New(giterr.Unauthorized, "insufficient permissions: not a registered writer")
		}
		return errors.Wrap(err, "authz: lookup writer")
	}
	return nil
}

// RegisterRepo creates (or marks public) a repo registry entry.
func (s *SQLiteAuthZ) RegisterRepo(owner, repo string, public bool) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO repos (owner, name, public) VALUES (?, ?, ?)`, owner, repo, public)
	return errors.Wrap(err, "authz: register repo")
}

// GrantWriter adds userID to a repo's writer set.
func (s *SQLiteAuthZ) GrantWriter(owner, repo, userID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO repo_writers (owner, name, user_id) VALUES (?, ?, ?)`, owner, repo, userID)
	return errors.Wrap(err, "authz: grant writer")
}
