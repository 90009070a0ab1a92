package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dougsko/js8emu/pkg/logging"
)

// Journal directions
const (
	DirectionRX = "RX"
	DirectionTX = "TX"
)

// DefaultDatabasePath is used when no path is configured
const DefaultDatabasePath = "./js8emu.db"

// Record is one journaled message: a transmission request or a delivered
// RX.DIRECTED
type Record struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Interface    string    `json:"interface"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Text         string    `json:"text"`
	SNR          int       `json:"snr"`
	Frequency    int64     `json:"frequency"`
	Direction    string    `json:"direction"`
	MessageType  string    `json:"message_type"`
	Transmission string    `json:"transmission,omitempty"`
}

// Spot is one station heard by an interface
type Spot struct {
	Timestamp time.Time
	Interface string
	Callsign  string
	Grid      string
	SNR       int
	Frequency int64
}

// MessageStore journals emulator traffic in SQLite. The emulator only writes
// to it; nothing is restored from it on startup.
type MessageStore struct {
	db          *sql.DB
	dbPath      string
	maxMessages int
}

// NewMessageStore opens or creates the journal at dbPath
func NewMessageStore(dbPath string, maxMessages int) (*MessageStore, error) {
	store := &MessageStore{
		dbPath:      dbPath,
		maxMessages: maxMessages,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize message store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (ms *MessageStore) initialize() error {
	if ms.dbPath == "" {
		ms.dbPath = DefaultDatabasePath
	}

	if err := os.MkdirAll(filepath.Dir(ms.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ms.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ms.db = db

	if err := ms.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := ms.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "Message store initialized: %s (max %d messages)", ms.dbPath, ms.maxMessages)
	return nil
}

// createTables creates the database schema
func (ms *MessageStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		interface TEXT NOT NULL,
		from_callsign TEXT NOT NULL,
		to_callsign TEXT NOT NULL DEFAULT '',
		message_text TEXT NOT NULL,
		snr INTEGER NOT NULL DEFAULT 0,
		frequency INTEGER NOT NULL DEFAULT 0,
		direction TEXT NOT NULL CHECK (direction IN ('RX', 'TX')),
		message_type TEXT NOT NULL,
		transmission_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS heard_stations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		interface TEXT NOT NULL,
		callsign TEXT NOT NULL,
		grid TEXT NOT NULL DEFAULT '',
		last_snr INTEGER NOT NULL DEFAULT 0,
		frequency INTEGER NOT NULL DEFAULT 0,
		last_heard DATETIME NOT NULL,
		spot_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (interface, callsign)
	);

	CREATE TABLE IF NOT EXISTS message_stats (
		id INTEGER PRIMARY KEY,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_rx INTEGER NOT NULL DEFAULT 0,
		total_tx INTEGER NOT NULL DEFAULT 0,
		total_spots INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO message_stats (id, total_messages, total_rx, total_tx, total_spots)
	VALUES (1, 0, 0, 0, 0);
	`

	_, err := ms.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for performance
func (ms *MessageStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_messages_interface ON messages(interface)",
		"CREATE INDEX IF NOT EXISTS idx_messages_from_callsign ON messages(from_callsign)",
		"CREATE INDEX IF NOT EXISTS idx_messages_to_callsign ON messages(to_callsign)",
		"CREATE INDEX IF NOT EXISTS idx_messages_direction ON messages(direction)",
		"CREATE INDEX IF NOT EXISTS idx_messages_transmission ON messages(transmission_id)",
		"CREATE INDEX IF NOT EXISTS idx_heard_last_heard ON heard_stations(last_heard DESC)",
	}

	for _, indexSQL := range indexes {
		if _, err := ms.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// StoreRecord journals one message and returns its id
func (ms *MessageStore) StoreRecord(rec Record) (int64, error) {
	if rec.Direction != DirectionRX && rec.Direction != DirectionTX {
		return 0, fmt.Errorf("invalid direction %q", rec.Direction)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	tx, err := ms.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO messages (
			timestamp, interface, from_callsign, to_callsign, message_text,
			snr, frequency, direction, message_type, transmission_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Timestamp.UTC(), rec.Interface, rec.From, rec.To, rec.Text,
		rec.SNR, rec.Frequency, rec.Direction, rec.MessageType, rec.Transmission,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message ID: %w", err)
	}

	if err := ms.updateStats(tx, rec.Direction); err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	if err := ms.cleanupOldMessages(tx); err != nil {
		logging.Warnf("storage", "failed to cleanup old messages: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message: %w", err)
	}
	return id, nil
}

// RecordSpot updates the heard list of the receiving interface
func (ms *MessageStore) RecordSpot(spot Spot) error {
	if spot.Timestamp.IsZero() {
		spot.Timestamp = time.Now()
	}

	tx, err := ms.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO heard_stations (interface, callsign, grid, last_snr, frequency, last_heard, spot_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(interface, callsign) DO UPDATE SET
			grid = excluded.grid,
			last_snr = excluded.last_snr,
			frequency = excluded.frequency,
			last_heard = excluded.last_heard,
			spot_count = spot_count + 1
	`, spot.Interface, spot.Callsign, spot.Grid, spot.SNR, spot.Frequency, spot.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to record spot: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE message_stats SET total_spots = total_spots + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	return tx.Commit()
}

// updateStats updates message statistics
func (ms *MessageStore) updateStats(tx *sql.Tx, direction string) error {
	query := `
		UPDATE message_stats SET
			total_messages = total_messages + 1,
			total_rx = CASE WHEN ? = 'RX' THEN total_rx + 1 ELSE total_rx END,
			total_tx = CASE WHEN ? = 'TX' THEN total_tx + 1 ELSE total_tx END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`

	_, err := tx.Exec(query, direction, direction)
	return err
}

// CleanupOldMessages removes messages beyond the maximum limit
func (ms *MessageStore) CleanupOldMessages() error {
	tx, err := ms.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ms.cleanupOldMessages(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// cleanupOldMessages removes messages beyond the maximum limit
func (ms *MessageStore) cleanupOldMessages(tx *sql.Tx) error {
	if ms.maxMessages <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return err
	}

	if count <= ms.maxMessages {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`, count-ms.maxMessages)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE message_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Path returns the database file path
func (ms *MessageStore) Path() string {
	return ms.dbPath
}

// Close closes the database connection
func (ms *MessageStore) Close() error {
	if ms.db != nil {
		return ms.db.Close()
	}
	return nil
}
