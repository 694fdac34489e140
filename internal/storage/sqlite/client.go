package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/learncoach/backend/internal/storage/models"
	"github.com/learncoach/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS gap_records (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		subject TEXT,
		confidence INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		resolution TEXT,
		admin_notes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		resolved_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_gaps_status ON gap_records(status);
	CREATE INDEX IF NOT EXISTS idx_gaps_created ON gap_records(created_at);

	CREATE TABLE IF NOT EXISTS answer_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		question TEXT NOT NULL,
		subject TEXT,
		explanation TEXT,
		example TEXT,
		relevance TEXT,
		next_step TEXT,
		confidence INTEGER,
		used_retrieval INTEGER DEFAULT 0,
		gap_logged INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answers_user ON answer_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_answers_created ON answer_history(created_at);

	CREATE TABLE IF NOT EXISTS answer_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		answer_id TEXT NOT NULL,
		source TEXT NOT NULL,
		position INTEGER NOT NULL,
		FOREIGN KEY (answer_id) REFERENCES answer_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_answer ON answer_sources(answer_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertGapRecord(gap *models.GapRecord) error {
	query := `
		INSERT INTO gap_records (id, question, subject, confidence, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		gap.ID,
		gap.Question,
		gap.Subject,
		gap.Confidence,
		gap.Status,
		gap.CreatedAt.Unix(),
		gap.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gap record: %w", err)
	}

	logger.Info("Gap recorded",
		zap.String("gap_id", gap.ID),
		zap.String("subject", gap.Subject),
		zap.Int("confidence", gap.Confidence),
	)

	return nil
}

func (c *Client) ListGapRecords(status string, limit, offset int) ([]models.GapRecord, error) {
	query := `
		SELECT id, question, subject, confidence, status,
			COALESCE(resolution, ''), COALESCE(admin_notes, ''),
			created_at, updated_at, resolved_at
		FROM gap_records
	`
	args := []interface{}{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gap records: %w", err)
	}
	defer rows.Close()

	var gaps []models.GapRecord
	for rows.Next() {
		var g models.GapRecord
		var createdAt, updatedAt int64
		var resolvedAt sql.NullInt64

		err := rows.Scan(&g.ID, &g.Question, &g.Subject, &g.Confidence, &g.Status,
			&g.Resolution, &g.AdminNotes, &createdAt, &updatedAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		g.CreatedAt = time.Unix(createdAt, 0)
		g.UpdatedAt = time.Unix(updatedAt, 0)
		if resolvedAt.Valid {
			t := time.Unix(resolvedAt.Int64, 0)
			g.ResolvedAt = &t
		}
		gaps = append(gaps, g)
	}

	return gaps, rows.Err()
}

// UpdateGapStatus transitions a gap record to resolved or dismissed.
// Returns sql.ErrNoRows when the id is unknown.
func (c *Client) UpdateGapStatus(id, status, resolution, adminNotes string) error {
	now := time.Now().Unix()

	query := `
		UPDATE gap_records
		SET status = ?, resolution = ?, admin_notes = ?, updated_at = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := c.db.Exec(query, status, resolution, adminNotes, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update gap record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	logger.Info("Gap status updated", zap.String("gap_id", id), zap.String("status", status))
	return nil
}

func (c *Client) InsertAnswerRecord(record *models.AnswerRecord) error {
	query := `
		INSERT INTO answer_history (id, user_id, question, subject, explanation, example,
			relevance, next_step, confidence, used_retrieval, gap_logged, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	usedRetrieval := 0
	if record.UsedRetrieval {
		usedRetrieval = 1
	}
	gapLogged := 0
	if record.GapLogged {
		gapLogged = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.UserID,
		record.Question,
		record.Subject,
		record.Explanation,
		record.Example,
		record.Relevance,
		record.NextStep,
		record.Confidence,
		usedRetrieval,
		gapLogged,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert answer record: %w", err)
	}

	return nil
}

func (c *Client) InsertAnswerSource(source *models.AnswerSource) error {
	query := `INSERT INTO answer_sources (answer_id, source, position) VALUES (?, ?, ?)`

	_, err := c.db.Exec(query, source.AnswerID, source.Source, source.Position)
	if err != nil {
		return fmt.Errorf("failed to insert answer source: %w", err)
	}

	return nil
}

func (c *Client) GetAnswerHistory(userID string, limit int) ([]models.AnswerRecord, error) {
	query := `
		SELECT id, question, subject, explanation, confidence, used_retrieval, gap_logged, latency_ms, created_at
		FROM answer_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get answer history: %w", err)
	}
	defer rows.Close()

	var records []models.AnswerRecord
	for rows.Next() {
		var r models.AnswerRecord
		var createdAt int64
		var usedRetrieval, gapLogged int

		err := rows.Scan(&r.ID, &r.Question, &r.Subject, &r.Explanation, &r.Confidence,
			&usedRetrieval, &gapLogged, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.UsedRetrieval = usedRetrieval == 1
		r.GapLogged = gapLogged == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}
