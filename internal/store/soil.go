package store

import (
	"context"
	"math"
	"strings"
	"time"
)

// SoilTest is one lab or kit reading for a field. Nutrients are kg/ha.
type SoilTest struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	FieldName  string    `json:"field_name"`
	PH         float64   `json:"ph"`
	Nitrogen   float64   `json:"nitrogen"`
	Phosphorus float64   `json:"phosphorus"`
	Potassium  float64   `json:"potassium"`
	Notes      string    `json:"notes"`
	SampledAt  time.Time `json:"sampled_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (t *SoilTest) validate() error {
	for _, v := range []float64{t.PH, t.Nitrogen, t.Phosphorus, t.Potassium} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("readings must be finite numbers")
		}
	}
	if t.PH < 0 || t.PH > 14 {
		return invalid("pH must be between 0 and 14")
	}
	if t.Nitrogen < 0 || t.Phosphorus < 0 || t.Potassium < 0 {
		return invalid("nutrient readings must not be negative")
	}
	return nil
}

// CreateSoilTest stores a reading for userID. A zero SampledAt means now.
func (s *Store) CreateSoilTest(ctx context.Context, userID int64, t SoilTest) (*SoilTest, error) {
	t.FieldName = strings.TrimSpace(t.FieldName)
	t.Notes = strings.TrimSpace(t.Notes)
	if err := t.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if t.SampledAt.IsZero() {
		t.SampledAt = now
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO soil_tests (user_id, field_name, ph, nitrogen, phosphorus, potassium, notes, sampled_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, t.FieldName, t.PH, t.Nitrogen, t.Phosphorus, t.Potassium, t.Notes, toUnix(t.SampledAt), toUnix(now))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.UserID = userID
	t.SampledAt = fromUnix(toUnix(t.SampledAt))
	t.CreatedAt = fromUnix(toUnix(now))
	return &t, nil
}

// ListSoilTests returns the user's readings, most recently sampled first.
func (s *Store) ListSoilTests(ctx context.Context, userID int64) ([]SoilTest, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, field_name, ph, nitrogen, phosphorus, potassium, notes, sampled_at, created_at
FROM soil_tests WHERE user_id = ?
ORDER BY sampled_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tests := []SoilTest{}
	for rows.Next() {
		var t SoilTest
		var sampled, created int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.FieldName, &t.PH, &t.Nitrogen, &t.Phosphorus, &t.Potassium, &t.Notes, &sampled, &created); err != nil {
			return nil, err
		}
		t.SampledAt = fromUnix(sampled)
		t.CreatedAt = fromUnix(created)
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// DeleteSoilTest removes a reading. Readings of other users are ErrNotFound.
func (s *Store) DeleteSoilTest(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM soil_tests WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
