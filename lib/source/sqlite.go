package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/infinity/lib/notice"

	_ "modernc.org/sqlite"
)

// SQLite reads bouts and messages from a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and makes sure the
// schema exists.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bouts (
		number INTEGER PRIMARY KEY,
		title  TEXT NOT NULL DEFAULT '',
		date   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS participants (
		bout      INTEGER NOT NULL REFERENCES bouts(number),
		identity  TEXT NOT NULL,
		leader    INTEGER NOT NULL DEFAULT 0,
		confirmed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (bout, identity)
	);
	CREATE INDEX IF NOT EXISTS idx_participants_identity ON participants(identity);

	CREATE TABLE IF NOT EXISTS messages (
		number INTEGER PRIMARY KEY,
		bout   INTEGER NOT NULL REFERENCES bouts(number),
		author TEXT NOT NULL,
		text   TEXT NOT NULL DEFAULT '',
		date   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_bout ON messages(bout, number);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// PutBout stores a bout and replaces its participants.
func (s *SQLite) PutBout(ctx context.Context, b notice.Bout) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bouts (number, title, date) VALUES (?, ?, ?)
		 ON CONFLICT(number) DO UPDATE SET title = excluded.title, date = excluded.date`,
		b.Number, b.Title, millis(b.Date)); err != nil {
		return fmt.Errorf("put bout:%d: %w", b.Number, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE bout = ?`, b.Number); err != nil {
		return fmt.Errorf("clear participants of bout:%d: %w", b.Number, err)
	}
	for _, p := range b.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (bout, identity, leader, confirmed) VALUES (?, ?, ?, ?)`,
			b.Number, string(p.Identity), p.Leader, p.Confirmed); err != nil {
			return fmt.Errorf("put participant %s of bout:%d: %w", p.Identity, b.Number, err)
		}
	}
	return tx.Commit()
}

// PutMessage stores a message in a bout.
func (s *SQLite) PutMessage(ctx context.Context, bout int64, m notice.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (number, bout, author, text, date) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(number) DO UPDATE SET bout = excluded.bout, author = excluded.author,
		 text = excluded.text, date = excluded.date`,
		m.Number, bout, string(m.Author), m.Text, millis(m.Date))
	if err != nil {
		return fmt.Errorf("put message:%d: %w", m.Number, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// ISource
// ---------------------------------------------------------------------------

func (s *SQLite) BoutMessages(ctx context.Context, bout int64) ([]int64, error) {
	if _, err := s.Bout(ctx, bout); err != nil {
		return nil, err
	}
	return s.numbers(ctx, `SELECT number FROM messages WHERE bout = ? ORDER BY number DESC`, bout)
}

func (s *SQLite) IdentityBouts(ctx context.Context, identity notice.Identity) ([]int64, error) {
	return s.numbers(ctx, `SELECT bout FROM participants WHERE identity = ? ORDER BY bout`, string(identity))
}

func (s *SQLite) Message(ctx context.Context, number int64) (notice.Message, error) {
	var (
		m      notice.Message
		author string
		date   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT number, author, text, date FROM messages WHERE number = ?`, number,
	).Scan(&m.Number, &author, &m.Text, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("message:%d: %w", number, ErrNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("get message:%d: %w", number, err)
	}
	m.Author = notice.Identity(author)
	m.Date = fromMillis(date)
	return m, nil
}

func (s *SQLite) Bout(ctx context.Context, number int64) (notice.Bout, error) {
	var (
		b    notice.Bout
		date int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT number, title, date FROM bouts WHERE number = ?`, number,
	).Scan(&b.Number, &b.Title, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("bout:%d: %w", number, ErrNotFound)
	}
	if err != nil {
		return b, fmt.Errorf("get bout:%d: %w", number, err)
	}
	b.Date = fromMillis(date)

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, leader, confirmed FROM participants WHERE bout = ? ORDER BY identity`, number)
	if err != nil {
		return b, fmt.Errorf("get participants of bout:%d: %w", number, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p        notice.Participant
			identity string
		)
		if err := rows.Scan(&identity, &p.Leader, &p.Confirmed); err != nil {
			return b, err
		}
		p.Identity = notice.Identity(identity)
		b.Participants = append(b.Participants, p)
	}
	return b, rows.Err()
}

func (s *SQLite) numbers(ctx context.Context, q string, arg any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
