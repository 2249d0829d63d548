package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/core"
)

// SQLite is a durable core.Store backed by a single database file. All
// public methods are safe for concurrent use (SQLite serializes writes).
// CommitTurn runs the whole staged unit in one transaction so conversation
// state and the billing trail can never diverge.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path, running migrations on
// first use. Use ":memory:" for an ephemeral test database.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// NewSQLiteFromDB wraps an existing connection, running migrations. The
// caller keeps ownership of db.
func NewSQLiteFromDB(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id     TEXT PRIMARY KEY,
		record TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS agents (
		key    TEXT PRIMARY KEY,
		record TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL,
		room_id   TEXT,
		agent_key TEXT,
		created   TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS turns (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		turn_index  INTEGER NOT NULL,
		mode        TEXT NOT NULL,
		user_text   TEXT NOT NULL,
		output_text TEXT NOT NULL,
		status      TEXT NOT NULL,
		created     TEXT NOT NULL,
		UNIQUE(session_id, turn_index)
	);
	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		turn_id    TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		agent_key  TEXT,
		round      INTEGER NOT NULL DEFAULT 0,
		text       TEXT NOT NULL,
		visibility TEXT NOT NULL,
		error      TEXT,
		created    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS usage_events (
		id                  TEXT PRIMARY KEY,
		turn_id             TEXT NOT NULL,
		agent_key           TEXT NOT NULL,
		model_alias         TEXT NOT NULL,
		fresh_input_tokens  INTEGER NOT NULL,
		cached_input_tokens INTEGER NOT NULL,
		output_tokens       INTEGER NOT NULL,
		cost_units          INTEGER NOT NULL,
		credits             INTEGER NOT NULL,
		pricing_version     TEXT NOT NULL,
		created             TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS wallet_debits (
		id             TEXT PRIMARY KEY,
		usage_event_id TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		amount         INTEGER NOT NULL,
		created        TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS budget_audits (
		id              TEXT PRIMARY KEY,
		turn_id         TEXT NOT NULL,
		model_limit     INTEGER NOT NULL,
		input_budget    INTEGER NOT NULL,
		estimate_before INTEGER NOT NULL,
		estimate_after  INTEGER NOT NULL,
		summarized      INTEGER NOT NULL,
		pruned          INTEGER NOT NULL,
		rejected        INTEGER NOT NULL,
		created         TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_index);
	CREATE INDEX IF NOT EXISTS idx_messages_turn ON messages(turn_id, seq);
	CREATE INDEX IF NOT EXISTS idx_usage_turn ON usage_events(turn_id);
	CREATE INDEX IF NOT EXISTS idx_debits_user ON wallet_debits(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutRoom stores or replaces a room with its roster.
func (s *SQLite) PutRoom(ctx context.Context, r core.Room) error {
	record, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, record) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		r.ID, string(record))
	return err
}

// PutAgent stores or replaces a standalone agent definition.
func (s *SQLite) PutAgent(ctx context.Context, a core.AgentDef) error {
	record, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", a.Key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (key, record) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET record = excluded.record`,
		a.Key, string(record))
	return err
}

// PutSession stores a session record.
func (s *SQLite) PutSession(ctx context.Context, sess core.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, room_id, agent_key, created)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.UserID, nullable(sess.RoomID), nullable(sess.AgentKey),
		sess.Created.UTC().Format(time.RFC3339Nano))
	return err
}

// GetSession implements core.SessionStore.
func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	var (
		sess              core.Session
		roomID, agentKey  sql.NullString
		created           string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, room_id, agent_key, created FROM sessions WHERE id = ?`,
		sessionID).Scan(&sess.ID, &sess.UserID, &roomID, &agentKey, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}
	if err != nil {
		return nil, err
	}
	sess.RoomID = roomID.String
	sess.AgentKey = agentKey.String
	sess.Created, _ = time.Parse(time.RFC3339Nano, created)
	return &sess, nil
}

// GetRoom implements core.SessionStore.
func (s *SQLite) GetRoom(ctx context.Context, roomID string) (*core.Room, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM rooms WHERE id = ?`, roomID).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("room %q not found", roomID)
	}
	if err != nil {
		return nil, err
	}
	var room core.Room
	if err := json.Unmarshal([]byte(record), &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

// GetAgent implements core.SessionStore.
func (s *SQLite) GetAgent(ctx context.Context, key string) (*core.AgentDef, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM agents WHERE key = ?`, key).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %q not found", key)
	}
	if err != nil {
		return nil, err
	}
	var agent core.AgentDef
	if err := json.Unmarshal([]byte(record), &agent); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", key, err)
	}
	return &agent, nil
}

// History implements core.TurnStore.
func (s *SQLite) History(ctx context.Context, sessionID string) ([]core.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_index, mode, user_text, output_text, status, created
		 FROM turns WHERE session_id = ? ORDER BY turn_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core.TurnRecord
	for rows.Next() {
		var (
			t       core.Turn
			created string
		)
		if err := rows.Scan(&t.ID, &t.Index, &t.Mode, &t.UserText, &t.OutputText, &t.Status, &created); err != nil {
			return nil, err
		}
		t.SessionID = sessionID
		t.Created, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, core.TurnRecord{Turn: t})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		msgs, err := s.turnMessages(ctx, records[i].Turn.ID)
		if err != nil {
			return nil, err
		}
		records[i].Messages = msgs
	}
	return records, nil
}

func (s *SQLite) turnMessages(ctx context.Context, turnID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, agent_key, round, text, visibility, error, created
		 FROM messages WHERE turn_id = ? ORDER BY seq ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var (
			m                core.Message
			agentKey, errStr sql.NullString
			created          string
		)
		if err := rows.Scan(&m.ID, &m.Role, &agentKey, &m.Round, &m.Text, &m.Visibility, &errStr, &created); err != nil {
			return nil, err
		}
		m.TurnID = turnID
		m.AgentKey = agentKey.String
		m.Err = errStr.String
		m.Created, _ = time.Parse(time.RFC3339Nano, created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// NextTurnIndex implements core.TurnStore.
func (s *SQLite) NextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index) + 1, 0) FROM turns WHERE session_id = ?`,
		sessionID).Scan(&next)
	return next, err
}

// CommitTurn implements core.TurnStore: the turn row, its messages, the
// usage events, the wallet debits and the budget audit persist in one
// transaction, and the debit sum is applied to the owning wallet inside it.
func (s *SQLite) CommitTurn(ctx context.Context, staged *core.StagedTurn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.CommitError{Err: err}
	}
	defer tx.Rollback()

	t := staged.Turn
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, turn_index, mode, user_text, output_text, status, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Index, string(t.Mode), t.UserText, t.OutputText, string(t.Status),
		t.Created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return &core.ConflictError{SessionID: t.SessionID, Index: t.Index}
		}
		return &core.CommitError{Err: err}
	}

	for seq, m := range staged.Messages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, turn_id, seq, role, agent_key, round, text, visibility, error, created)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, t.ID, seq, string(m.Role), nullable(m.AgentKey), m.Round, m.Text,
			string(m.Visibility), nullable(m.Err), m.Created.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return &core.CommitError{Err: err}
		}
	}

	for _, u := range staged.Usage {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO usage_events
				(id, turn_id, agent_key, model_alias, fresh_input_tokens, cached_input_tokens,
				 output_tokens, cost_units, credits, pricing_version, created)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.TurnID, u.AgentKey, u.ModelAlias, u.FreshInputTokens, u.CachedInputTokens,
			u.OutputTokens, u.CostUnits, u.Credits, u.PricingVersion,
			u.Created.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return &core.CommitError{Err: err}
		}
	}

	for _, d := range staged.Debits {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_debits (id, usage_event_id, user_id, amount, created)
			 VALUES (?, ?, ?, ?, ?)`,
			d.ID, d.UsageEventID, d.UserID, d.Amount,
			d.Created.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return &core.CommitError{Err: err}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (user_id, balance) VALUES (?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
			d.UserID, d.Amount)
		if err != nil {
			return &core.CommitError{Err: err}
		}
	}

	a := staged.Audit
	_, err = tx.ExecContext(ctx,
		`INSERT INTO budget_audits
			(id, turn_id, model_limit, input_budget, estimate_before, estimate_after,
			 summarized, pruned, rejected, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TurnID, a.ModelLimit, a.InputBudget, a.EstimateBefore, a.EstimateAfter,
		boolInt(a.Summarized), boolInt(a.Pruned), boolInt(a.Rejected),
		a.Created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &core.CommitError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &core.CommitError{Err: err}
	}
	return nil
}

// Balance implements core.WalletStore.
func (s *SQLite) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// Credit implements core.WalletStore.
func (s *SQLite) Credit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
		userID, amount)
	return err
}

// UsageEvents returns the committed usage events for one turn in commit order.
func (s *SQLite) UsageEvents(ctx context.Context, turnID string) ([]core.UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_key, model_alias, fresh_input_tokens, cached_input_tokens,
		        output_tokens, cost_units, credits, pricing_version, created
		 FROM usage_events WHERE turn_id = ? ORDER BY created ASC, id ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.UsageEvent
	for rows.Next() {
		var (
			u       core.UsageEvent
			created string
		)
		if err := rows.Scan(&u.ID, &u.AgentKey, &u.ModelAlias, &u.FreshInputTokens,
			&u.CachedInputTokens, &u.OutputTokens, &u.CostUnits, &u.Credits,
			&u.PricingVersion, &created); err != nil {
			return nil, err
		}
		u.TurnID = turnID
		u.Status = core.UsageCommitted
		u.Created, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, u)
	}
	return events, rows.Err()
}

// UsageSummary aggregates committed credits per agent key for one session.
func (s *SQLite) UsageSummary(ctx context.Context, sessionID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.agent_key, SUM(u.credits)
		 FROM usage_events u JOIN turns t ON t.id = u.turn_id
		 WHERE t.session_id = ?
		 GROUP BY u.agent_key`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key     string
			credits int64
		)
		if err := rows.Scan(&key, &credits); err != nil {
			return nil, err
		}
		out[key] = credits
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
