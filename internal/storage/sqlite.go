package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "gwybot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store at cfg.Path, creating the schema
// when missing.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Giveaways ----

func (s *sqliteStore) CreateGiveaway(ctx context.Context, g Giveaway) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO giveaways(message_id, chat_id, thread_id, prize, winners, end_time, host_id, required_role, min_messages, min_invites)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.ChatID, g.ThreadID, g.Prize, g.Winners, g.EndTime, g.Host,
		nullStr(g.Req.Role), g.Req.MinMessages, g.Req.MinInvites,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%w: %d", ErrDuplicateID, g.ID)
	}
	return err
}

const giveawayCols = `message_id, chat_id, thread_id, prize, winners, end_time, host_id, required_role, min_messages, min_invites`

func scanGiveaway(row interface{ Scan(...any) error }) (Giveaway, error) {
	var g Giveaway
	var role sql.NullString
	err := row.Scan(&g.ID, &g.ChatID, &g.ThreadID, &g.Prize, &g.Winners, &g.EndTime, &g.Host,
		&role, &g.Req.MinMessages, &g.Req.MinInvites)
	if err != nil {
		return Giveaway{}, err
	}
	g.Req.Role = role.String
	return g, nil
}

func (s *sqliteStore) Giveaway(ctx context.Context, id int64) (Giveaway, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+giveawayCols+` FROM giveaways WHERE message_id = ?`, id)
	g, err := scanGiveaway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Giveaway{}, ErrNotFound
	}
	return g, err
}

func (s *sqliteStore) Giveaways(ctx context.Context) ([]Giveaway, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+giveawayCols+` FROM giveaways`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Giveaway
	for rows.Next() {
		g, err := scanGiveaway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGiveaway removes the giveaway and its entries in one transaction,
// so entries can never outlive the parent row. Deleting an absent id is
// a no-op.
func (s *sqliteStore) DeleteGiveaway(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE giveaway_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM giveaways WHERE message_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) UpdateRequirements(ctx context.Context, id int64, p RequirementsPatch) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if p.Role != nil {
		sets = append(sets, "required_role = ?")
		args = append(args, nullStr(*p.Role))
	}
	if p.MinMessages != nil {
		sets = append(sets, "min_messages = ?")
		args = append(args, *p.MinMessages)
	}
	if p.MinInvites != nil {
		sets = append(sets, "min_invites = ?")
		args = append(args, *p.MinInvites)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE giveaways SET `+strings.Join(sets, ", ")+` WHERE message_id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Entries ----

func (s *sqliteStore) AddEntry(ctx context.Context, id, participant int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries(giveaway_id, user_id) VALUES(?,?)`, id, participant)
	return err
}

func (s *sqliteStore) RemoveEntry(ctx context.Context, id, participant int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE giveaway_id = ? AND user_id = ?`, id, participant)
	return err
}

func (s *sqliteStore) Entries(ctx context.Context, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM entries WHERE giveaway_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// ---- Manager roles ----

// SetManagerRole binds role to the chat; an empty role clears the binding.
func (s *sqliteStore) SetManagerRole(ctx context.Context, chatID int64, role string) error {
	if strings.TrimSpace(role) == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM manager_roles WHERE chat_id = ?`, chatID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manager_roles(chat_id, role) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET role=excluded.role`,
		chatID, role,
	)
	return err
}

func (s *sqliteStore) ManagerRole(ctx context.Context, chatID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM manager_roles WHERE chat_id = ?`, chatID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

// ---- Activity counters ----

func (s *sqliteStore) IncrMessageCount(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, user_id, message_count) VALUES(?,?,1)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET message_count = message_count + 1`,
		chatID, userID,
	)
	return err
}

func (s *sqliteStore) MessageCount(ctx context.Context, chatID, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT message_count FROM messages WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *sqliteStore) AddInvite(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invites(chat_id, user_id, invites) VALUES(?,?,1)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET invites = invites + 1`,
		chatID, userID,
	)
	return err
}

func (s *sqliteStore) RemoveInvite(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE invites SET invites = CASE WHEN invites > 0 THEN invites - 1 ELSE 0 END
		 WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	return err
}

func (s *sqliteStore) InviteCount(ctx context.Context, chatID, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT invites FROM invites WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
