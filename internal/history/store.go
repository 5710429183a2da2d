// Package history archives finished conversations in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/safespace/narratives/internal/convo"
)

// Record is one archived conversation. Turns carries the full transcript;
// Evaluation is nil when the conversation was archived without one.
type Record struct {
	ID          string            `json:"id"`
	ScenarioID  string            `json:"scenario_id"`
	NPCName     string            `json:"npc_name"`
	Fingerprint string            `json:"fingerprint"`
	EndedAt     time.Time         `json:"ended_at"`
	UserTurns   int               `json:"user_turns"`
	Turns       []convo.Turn      `json:"turns,omitempty"`
	Signals     convo.LiveSignals `json:"signals"`
	Evaluation  *convo.Evaluation `json:"evaluation,omitempty"`
}

var ErrNotFound = errors.New("conversation not found")

// FromEngine snapshots a finished engine into an archive record.
func FromEngine(e *convo.Engine) Record {
	turns := e.Turns()
	users := 0
	for _, t := range turns {
		if t.Role == "user" {
			users++
		}
	}
	scn := e.Scenario()
	return Record{
		ID:          e.ID(),
		ScenarioID:  scn.ID,
		NPCName:     scn.NPCName,
		Fingerprint: e.Fingerprint(),
		EndedAt:     time.Now().UTC(),
		UserTurns:   users,
		Turns:       turns,
		Signals:     e.Signals(),
		Evaluation:  e.Evaluation(),
	}
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	scenario_id   TEXT NOT NULL,
	npc_name      TEXT NOT NULL DEFAULT '',
	fingerprint   TEXT NOT NULL,
	ended_at      DATETIME NOT NULL,
	user_turns    INTEGER NOT NULL,
	transcript    TEXT NOT NULL,
	trust         INTEGER NOT NULL,
	rapport       INTEGER NOT NULL,
	risk          INTEGER NOT NULL,
	eval_success  INTEGER,
	eval_score    REAL,
	eval_feedback TEXT,
	eval_summary  TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversations_ended_at ON conversations(ended_at);
`

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces the record. Re-evaluating an ended
// conversation overwrites its archived evaluation.
func (s *Store) Save(ctx context.Context, rec Record) error {
	transcript, err := json.Marshal(rec.Turns)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	var success sql.NullBool
	var score sql.NullFloat64
	var feedback, summary sql.NullString
	if rec.Evaluation != nil {
		success = sql.NullBool{Bool: rec.Evaluation.Success, Valid: true}
		if rec.Evaluation.Score != nil {
			score = sql.NullFloat64{Float64: *rec.Evaluation.Score, Valid: true}
		}
		feedback = sql.NullString{String: rec.Evaluation.Feedback, Valid: true}
		summary = sql.NullString{String: rec.Evaluation.Summary, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversations
			(id, scenario_id, npc_name, fingerprint, ended_at, user_turns, transcript,
			 trust, rapport, risk, eval_success, eval_score, eval_feedback, eval_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScenarioID, rec.NPCName, rec.Fingerprint, rec.EndedAt.UTC(), rec.UserTurns,
		string(transcript), rec.Signals.Trust, rec.Signals.Rapport, rec.Signals.Risk,
		success, score, feedback, summary)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one archived conversation with its full transcript.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, npc_name, fingerprint, ended_at, user_turns, transcript,
		       trust, rapport, risk, eval_success, eval_score, eval_feedback, eval_summary
		FROM conversations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns archived conversations, newest first, transcripts omitted.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_id, npc_name, fingerprint, ended_at, user_turns, '[]',
		       trust, rapport, risk, eval_success, eval_score, eval_feedback, eval_summary
		FROM conversations ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.Turns = nil
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var transcript string
	var success sql.NullBool
	var score sql.NullFloat64
	var feedback, summary sql.NullString
	err := row.Scan(&rec.ID, &rec.ScenarioID, &rec.NPCName, &rec.Fingerprint, &rec.EndedAt,
		&rec.UserTurns, &transcript, &rec.Signals.Trust, &rec.Signals.Rapport, &rec.Signals.Risk,
		&success, &score, &feedback, &summary)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Turns); err != nil {
		return Record{}, fmt.Errorf("decode transcript for %s: %w", rec.ID, err)
	}
	if success.Valid {
		ev := convo.Evaluation{
			Success:  success.Bool,
			Feedback: feedback.String,
			Summary:  summary.String,
		}
		if score.Valid {
			v := score.Float64
			ev.Score = &v
		}
		rec.Evaluation = &ev
	}
	return rec, nil
}
