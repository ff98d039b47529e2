package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/skinocare/backend/internal/storage/models"
	"github.com/skinocare/backend/pkg/logger"
)

var (
	// ErrNotFound is a normal outcome for name lookups: not every class
	// label the model emits has curated content.
	ErrNotFound = errors.New("type record not found")

	// ErrDuplicateName reports an insert conflicting with the unique name
	// constraint. The existing record is left unchanged.
	ErrDuplicateName = errors.New("type record name already exists")
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

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS types (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL,
		treatment TEXT NOT NULL,
		next_steps TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_types_name ON types(name);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint failures as "UNIQUE constraint failed: ..."
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (c *Client) InsertType(record *models.TypeRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	treatmentJSON, err := json.Marshal(record.Treatment)
	if err != nil {
		return fmt.Errorf("failed to marshal treatment: %w", err)
	}
	nextStepsJSON, err := json.Marshal(record.NextSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal next steps: %w", err)
	}

	query := `INSERT INTO types (id, name, description, treatment, next_steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = c.db.Exec(
		query,
		record.ID,
		record.Name,
		record.Description,
		string(treatmentJSON),
		string(nextStepsJSON),
		now.Unix(),
		now.Unix(),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert type %q: %w", record.Name, ErrDuplicateName)
		}
		return fmt.Errorf("failed to insert type: %w", err)
	}

	logger.Debug("Type inserted", zap.String("type_id", record.ID), zap.String("name", record.Name))
	return nil
}

const typeColumns = `id, name, description, treatment, next_steps, created_at, updated_at`

func scanType(row interface{ Scan(...interface{}) error }) (*models.TypeRecord, error) {
	var record models.TypeRecord
	var treatmentJSON, nextStepsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&record.ID,
		&record.Name,
		&record.Description,
		&treatmentJSON,
		&nextStepsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(treatmentJSON), &record.Treatment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal treatment: %w", err)
	}
	if err := json.Unmarshal([]byte(nextStepsJSON), &record.NextSteps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next steps: %w", err)
	}

	record.CreatedAt = time.Unix(createdAt, 0)
	record.UpdatedAt = time.Unix(updatedAt, 0)
	return &record, nil
}

func (c *Client) GetAllTypes() ([]models.TypeRecord, error) {
	query := `SELECT ` + typeColumns + ` FROM types ORDER BY name`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get types: %w", err)
	}
	defer rows.Close()

	var records []models.TypeRecord
	for rows.Next() {
		record, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (c *Client) GetTypeByID(id string) (*models.TypeRecord, error) {
	query := `SELECT ` + typeColumns + ` FROM types WHERE id = ?`

	record, err := scanType(c.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("type id %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get type: %w", err)
	}

	return record, nil
}

// GetTypeByName is an exact, case-sensitive match. SQLite compares TEXT
// case-sensitively by default, which is the contract here.
func (c *Client) GetTypeByName(name string) (*models.TypeRecord, error) {
	query := `SELECT ` + typeColumns + ` FROM types WHERE name = ?`

	record, err := scanType(c.db.QueryRow(query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("type name %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get type by name: %w", err)
	}

	return record, nil
}

func (c *Client) UpdateTypeByID(id string, update *models.TypeRecordUpdate) (*models.TypeRecord, error) {
	record, err := c.GetTypeByID(id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		record.Name = *update.Name
	}
	if update.Description != nil {
		record.Description = *update.Description
	}
	if update.Treatment != nil {
		record.Treatment = *update.Treatment
	}
	if update.NextSteps != nil {
		record.NextSteps = *update.NextSteps
	}
	record.UpdatedAt = time.Now()

	treatmentJSON, err := json.Marshal(record.Treatment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal treatment: %w", err)
	}
	nextStepsJSON, err := json.Marshal(record.NextSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal next steps: %w", err)
	}

	query := `UPDATE types SET name = ?, description = ?, treatment = ?, next_steps = ?, updated_at = ? WHERE id = ?`

	_, err = c.db.Exec(
		query,
		record.Name,
		record.Description,
		string(treatmentJSON),
		string(nextStepsJSON),
		record.UpdatedAt.Unix(),
		id,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update type %q: %w", record.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to update type: %w", err)
	}

	logger.Debug("Type updated", zap.String("type_id", id))
	return record, nil
}

func (c *Client) DeleteTypeByID(id string) error {
	result, err := c.db.Exec(`DELETE FROM types WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete type: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("type id %q: %w", id, ErrNotFound)
	}

	logger.Debug("Type deleted", zap.String("type_id", id))
	return nil
}

// BulkInsertTypes inserts best-effort: a record that fails (typically a
// duplicate name on a repeated load) is skipped and reported, never fatal
// to the rest of the batch.
func (c *Client) BulkInsertTypes(records []models.TypeRecord) (*models.BulkLoadReport, error) {
	report := &models.BulkLoadReport{Skipped: []string{}}

	for i := range records {
		record := records[i]
		if err := c.InsertType(&record); err != nil {
			if !errors.Is(err, ErrDuplicateName) {
				logger.Warn("Bulk insert record failed",
					zap.String("name", record.Name),
					zap.Error(err),
				)
			}
			report.Skipped = append(report.Skipped, record.Name)
			continue
		}
		report.Inserted++
	}

	logger.Info("Bulk insert completed",
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", len(report.Skipped)),
	)

	return report, nil
}

func (c *Client) CountTypes() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM types`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count types: %w", err)
	}
	return count, nil
}
