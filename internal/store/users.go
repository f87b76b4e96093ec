package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DefaultCity is given to new users who do not name one.
const DefaultCity = "Jabalpur"

const maxUsernameLen = 30

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	City         string    `json:"city"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts a user. A taken username (case-insensitive) yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, city string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLen {
		return nil, invalid("username must be 1-%d characters", maxUsernameLen)
	}
	if passwordHash == "" {
		return nil, invalid("password hash is empty")
	}
	city = strings.TrimSpace(city)
	if city == "" {
		city = DefaultCity
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, city, created_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, city, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username, PasswordHash: passwordHash, City: city, CreatedAt: fromUnix(toUnix(now))}, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, city, created_at FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, city, created_at FROM users WHERE username = ?`, strings.TrimSpace(username)))
}

// UpdateUserCity sets the city used for weather lookups.
func (s *Store) UpdateUserCity(ctx context.Context, id int64, city string) error {
	city = strings.TrimSpace(city)
	if city == "" {
		return invalid("city is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET city = ? WHERE id = ?`, city, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var created int64
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.City, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	return &u, nil
}
