package store

import (
	"context"
	"strings"
	"time"
)

const maxPostLen = 4000

// Post is a community question or answer.
type Post struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreatePost(ctx context.Context, userID int64, content string) (*Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("post content is required")
	}
	if len(content) > maxPostLen {
		return nil, invalid("post is longer than %d characters", maxPostLen)
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := toUnix(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (user_id, content, created_at) VALUES (?, ?, ?)`, userID, content, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Post{ID: id, UserID: userID, Author: u.Username, Content: content, CreatedAt: fromUnix(now)}, nil
}

// ListPosts returns up to limit posts, newest first. limit <= 0 means all.
func (s *Store) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT p.id, p.user_id, u.username, p.content, p.created_at
FROM posts p JOIN users u ON u.id = p.user_id
ORDER BY p.created_at DESC, p.id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts := []Post{}
	for rows.Next() {
		var p Post
		var created int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Author, &p.Content, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromUnix(created)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
