package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MessageQuery represents query parameters for retrieving messages
type MessageQuery struct {
	Limit        int
	Offset       int
	Since        *time.Time
	Until        *time.Time
	Callsign     string
	Interface    string
	Direction    string // "RX", "TX", or "" for both
	MessageType  string
	Transmission string
}

// HeardStation is one entry of an interface's heard list
type HeardStation struct {
	Interface string    `json:"interface"`
	Callsign  string    `json:"callsign"`
	Grid      string    `json:"grid"`
	LastSNR   int       `json:"last_snr"`
	Frequency int64     `json:"frequency"`
	LastHeard time.Time `json:"last_heard"`
	SpotCount int       `json:"spot_count"`
}

// MessageStats represents database statistics
type MessageStats struct {
	TotalMessages int       `json:"total_messages"`
	TotalRX       int       `json:"total_rx"`
	TotalTX       int       `json:"total_tx"`
	TotalSpots    int       `json:"total_spots"`
	LastCleanup   time.Time `json:"last_cleanup"`
}

const recordColumns = `
	SELECT id, timestamp, interface, from_callsign, to_callsign, message_text,
		   snr, frequency, direction, message_type, transmission_id
	FROM messages
`

// GetMessages retrieves messages based on query parameters, newest first
func (ms *MessageStore) GetMessages(query MessageQuery) ([]Record, error) {
	var args []interface{}
	var conditions []string

	if query.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.Since.UTC())
	}

	if query.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.Until.UTC())
	}

	if query.Callsign != "" {
		conditions = append(conditions, "(from_callsign = ? OR to_callsign = ?)")
		args = append(args, query.Callsign, query.Callsign)
	}

	if query.Interface != "" {
		conditions = append(conditions, "interface = ?")
		args = append(args, query.Interface)
	}

	if query.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, query.Direction)
	}

	if query.MessageType != "" {
		conditions = append(conditions, "message_type = ?")
		args = append(args, query.MessageType)
	}

	if query.Transmission != "" {
		conditions = append(conditions, "transmission_id = ?")
		args = append(args, query.Transmission)
	}

	sqlQuery := recordColumns
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += " ORDER BY timestamp DESC, id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ms.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRecentMessages retrieves the most recent messages
func (ms *MessageStore) GetRecentMessages(limit int) ([]Record, error) {
	return ms.GetMessages(MessageQuery{Limit: limit})
}

// SearchMessages performs a substring search on message text
func (ms *MessageStore) SearchMessages(searchTerm string, limit int) ([]Record, error) {
	query := recordColumns + `
		WHERE message_text LIKE ? ESCAPE '\'
		ORDER BY timestamp DESC, id DESC
	`

	args := []interface{}{"%" + escapeLike(searchTerm) + "%"}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ms.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Interface,
			&rec.From,
			&rec.To,
			&rec.Text,
			&rec.SNR,
			&rec.Frequency,
			&rec.Direction,
			&rec.MessageType,
			&rec.Transmission,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetHeardStations returns the stations heard by an interface, most recent
// first. An empty interface name returns every interface's list.
func (ms *MessageStore) GetHeardStations(iface string, limit int) ([]HeardStation, error) {
	query := `
		SELECT interface, callsign, grid, last_snr, frequency, last_heard, spot_count
		FROM heard_stations
	`
	var args []interface{}
	if iface != "" {
		query += " WHERE interface = ?"
		args = append(args, iface)
	}
	query += " ORDER BY last_heard DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ms.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query heard stations: %w", err)
	}
	defer rows.Close()

	stations := []HeardStation{}
	for rows.Next() {
		var hs HeardStation
		if err := rows.Scan(&hs.Interface, &hs.Callsign, &hs.Grid, &hs.LastSNR, &hs.Frequency, &hs.LastHeard, &hs.SpotCount); err != nil {
			return nil, fmt.Errorf("failed to scan heard station: %w", err)
		}
		stations = append(stations, hs)
	}

	return stations, rows.Err()
}

// GetMessageStats retrieves database statistics
func (ms *MessageStore) GetMessageStats() (*MessageStats, error) {
	var stats MessageStats
	var lastCleanup sql.NullTime

	err := ms.db.QueryRow(`
		SELECT total_messages, total_rx, total_tx, total_spots, last_cleanup
		FROM message_stats WHERE id = 1
	`).Scan(&stats.TotalMessages, &stats.TotalRX, &stats.TotalTX, &stats.TotalSpots, &lastCleanup)

	if err != nil {
		return nil, fmt.Errorf("failed to get message stats: %w", err)
	}

	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	return &stats, nil
}

// GetMessageCount returns the number of journaled messages
func (ms *MessageStore) GetMessageCount() (int, error) {
	var count int
	err := ms.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}
