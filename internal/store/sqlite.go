package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		address TEXT PRIMARY KEY,
		ens_name TEXT,
		reputation INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		hydrated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS images (
		file_name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (owner) REFERENCES users(address)
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		author TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		image_file_name TEXT,
		votes INTEGER DEFAULT 0,
		comment_count INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (author) REFERENCES users(address),
		FOREIGN KEY (image_file_name) REFERENCES images(file_name)
	);

	CREATE INDEX IF NOT EXISTS idx_threads_created_at ON threads(created_at);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		image_file_name TEXT,
		replied_to_id TEXT,
		votes INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (thread_id) REFERENCES threads(id),
		FOREIGN KEY (author) REFERENCES users(address),
		FOREIGN KEY (image_file_name) REFERENCES images(file_name),
		FOREIGN KEY (replied_to_id) REFERENCES comments(id)
	);

	CREATE INDEX IF NOT EXISTS idx_comments_thread_id ON comments(thread_id, created_at);

	CREATE TABLE IF NOT EXISTS votes (
		address TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (address, entity_kind, entity_id)
	);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		message TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_challenges_address ON challenges(address);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Threads

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	thread.UpdatedAt = thread.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, author, title, content, image_file_name, votes, comment_count, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, thread.ID, thread.Author, thread.Title, thread.Content, nullString(thread.ImageFileName),
		thread.Votes, thread.CommentCount, boolToInt(thread.Deleted), thread.CreatedAt, thread.UpdatedAt)

	return err
}

const threadColumns = `id, author, title, content, image_file_name, votes, comment_count, deleted, created_at, updated_at`

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ? AND deleted = 0`, id)

	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return thread, err
}

func (s *SQLiteStore) ListThreads(ctx context.Context, page Page) ([]*Thread, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE deleted = 0`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads WHERE deleted = 0
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, thread)
	}

	return threads, total, rows.Err()
}

// Comments

func (s *SQLiteStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	comment.UpdatedAt = comment.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ? AND deleted = 0`, comment.ThreadID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if comment.RepliedToID != "" {
		var threadID string
		err := tx.QueryRowContext(ctx, `SELECT thread_id FROM comments WHERE id = ?`, comment.RepliedToID).Scan(&threadID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if threadID != comment.ThreadID {
			return ErrInvalidReply
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, thread_id, author, content, image_file_name, replied_to_id, votes, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.ThreadID, comment.Author, comment.Content, nullString(comment.ImageFileName),
		nullString(comment.RepliedToID), comment.Votes, boolToInt(comment.Deleted), comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET comment_count = comment_count + 1 WHERE id = ?`, comment.ThreadID); err != nil {
		return err
	}

	return tx.Commit()
}

const commentColumns = `id, thread_id, author, content, image_file_name, replied_to_id, votes, deleted, created_at, updated_at`

func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)

	comment, err := scanComment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return comment, err
}

// ListComments returns a thread's comments oldest first. Deleted comments
// are kept so replies to them still resolve.
func (s *SQLiteStore) ListComments(ctx context.Context, threadID string, page Page) ([]*Comment, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE thread_id = ?`, threadID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE thread_id = ?
		ORDER BY created_at ASC, id
		LIMIT ? OFFSET ?
	`, threadID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, 0, err
		}
		comments = append(comments, comment)
	}

	return comments, total, rows.Err()
}

// Votes

// SetVote records vote and moves the entity's count and its author's
// reputation by the difference to the previous vote of the same address.
func (s *SQLiteStore) SetVote(ctx context.Context, vote *Vote) (int64, error) {
	var table string
	switch vote.EntityKind {
	case KindThread:
		table = "threads"
	case KindComment:
		table = "comments"
	default:
		return 0, ErrInvalidKind
	}
	if vote.UpdatedAt.IsZero() {
		vote.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var author string
	err = tx.QueryRowContext(ctx, `SELECT author FROM `+table+` WHERE id = ? AND deleted = 0`, vote.EntityID).Scan(&author)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var previous int
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM votes WHERE address = ? AND entity_kind = ? AND entity_id = ?
	`, vote.Address, vote.EntityKind, vote.EntityID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	delta := vote.Value - previous

	_, err = tx.ExecContext(ctx, `
		INSERT INTO votes (address, entity_kind, entity_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address, entity_kind, entity_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, vote.Address, vote.EntityKind, vote.EntityID, vote.Value, vote.UpdatedAt)
	if err != nil {
		return 0, err
	}

	if delta != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET votes = votes + ? WHERE id = ?`, delta, vote.EntityID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET reputation = reputation + ? WHERE address = ?`, delta, author); err != nil {
			return 0, err
		}
	}

	var votes int64
	if err := tx.QueryRowContext(ctx, `SELECT votes FROM `+table+` WHERE id = ?`, vote.EntityID).Scan(&votes); err != nil {
		return 0, err
	}

	return votes, tx.Commit()
}

// Users

func (s *SQLiteStore) EnsureUser(ctx context.Context, address string) (*User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (address, created_at) VALUES (?, ?)
		ON CONFLICT (address) DO NOTHING
	`, address, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	user, err := s.GetUser(ctx, address)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s vanished after insert", address)
	}
	return user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, address string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, ens_name, reputation, created_at, hydrated_at
		FROM users WHERE address = ?
	`, address)

	var user User
	var ensName sql.NullString
	var hydratedAt sql.NullTime
	err := row.Scan(&user.Address, &ensName, &user.Reputation, &user.CreatedAt, &hydratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.ENSName = ensName.String
	if hydratedAt.Valid {
		user.HydratedAt = &hydratedAt.Time
	}
	return &user, nil
}

// SetENSName names a user and marks the profile hydrated.
func (s *SQLiteStore) SetENSName(ctx context.Context, address, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET ens_name = ?, hydrated_at = ? WHERE address = ?
	`, nullString(name), time.Now().UTC(), address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HydratePendingUsers marks every not yet hydrated user hydrated and
// returns how many were.
func (s *SQLiteStore) HydratePendingUsers(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET hydrated_at = ? WHERE hydrated_at IS NULL`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Images

func (s *SQLiteStore) CreateImage(ctx context.Context, image *Image) error {
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (file_name, owner, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, image.FileName, image.Owner, image.ContentType, image.Size, image.CreatedAt)

	return err
}

func (s *SQLiteStore) GetImage(ctx context.Context, fileName string) (*Image, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_name, owner, content_type, size, created_at
		FROM images WHERE file_name = ?
	`, fileName)

	var image Image
	err := row.Scan(&image.FileName, &image.Owner, &image.ContentType, &image.Size, &image.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// Auth

func (s *SQLiteStore) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	if challenge.ID == "" {
		challenge.ID = uuid.New().String()
	}

	// Format time in SQLite-compatible format for proper datetime comparison
	expiresAtStr := challenge.ExpiresAt.UTC().Format("2006-01-02 15:04:05")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, address, message, expires_at)
		VALUES (?, ?, ?, ?)
	`, challenge.ID, challenge.Address, challenge.Message, expiresAtStr)

	return err
}

// GetChallenge returns the newest unexpired challenge issued to address.
func (s *SQLiteStore) GetChallenge(ctx context.Context, address string) (*Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, message, expires_at
		FROM challenges WHERE address = ? AND expires_at > datetime('now')
		ORDER BY expires_at DESC LIMIT 1
	`, address)

	var c Challenge
	err := row.Scan(&c.ID, &c.Address, &c.Message, &c.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (s *SQLiteStore) DeleteChallenges(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE address = ?`, address)
	return err
}

func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < datetime('now')`)
	return err
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanThread(row scanner) (*Thread, error) {
	var thread Thread
	var image sql.NullString
	var deleted int

	err := row.Scan(&thread.ID, &thread.Author, &thread.Title, &thread.Content, &image,
		&thread.Votes, &thread.CommentCount, &deleted, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		return nil, err
	}

	thread.ImageFileName = image.String
	thread.Deleted = deleted == 1
	return &thread, nil
}

func scanComment(row scanner) (*Comment, error) {
	var comment Comment
	var image, repliedTo sql.NullString
	var deleted int

	err := row.Scan(&comment.ID, &comment.ThreadID, &comment.Author, &comment.Content, &image,
		&repliedTo, &comment.Votes, &deleted, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return nil, err
	}

	comment.ImageFileName = image.String
	comment.RepliedToID = repliedTo.String
	comment.Deleted = deleted == 1
	return &comment, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
