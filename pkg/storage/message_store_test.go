package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewMessageStore(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Valid Store Creation", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "test.db")
		store, err := NewMessageStore(dbPath, 1000)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if store.Path() != dbPath {
			t.Errorf("Expected dbPath %s, got %s", dbPath, store.Path())
		}
		if store.maxMessages != 1000 {
			t.Errorf("Expected maxMessages 1000, got %d", store.maxMessages)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}
	})

	t.Run("Store Creation with Nested Directory", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
		store, err := NewMessageStore(dbPath, 500)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("Expected nested directory to be created")
		}
	})

	t.Run("Directory Path Is A File", func(t *testing.T) {
		blocker := filepath.Join(tempDir, "blocker")
		if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create blocker file: %v", err)
		}
		if _, err := NewMessageStore(filepath.Join(blocker, "test.db"), 1000); err == nil {
			t.Error("Expected error when the parent is a regular file, got nil")
		}
	})
}

func TestMessageStoreInitialization(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	t.Run("Tables Created", func(t *testing.T) {
		for _, table := range []string{"messages", "heard_stations", "message_stats"} {
			var count int
			err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			if err != nil {
				t.Errorf("Failed to check table %s: %v", table, err)
			}
			if count != 1 {
				t.Errorf("Expected table %s to exist, got count %d", table, count)
			}
		}
	})

	t.Run("Indexes Created", func(t *testing.T) {
		expectedIndexes := []string{
			"idx_messages_timestamp",
			"idx_messages_interface",
			"idx_messages_from_callsign",
			"idx_messages_to_callsign",
			"idx_messages_transmission",
		}

		for _, index := range expectedIndexes {
			var count int
			err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&count)
			if err != nil {
				t.Errorf("Failed to check index %s: %v", index, err)
			}
			if count != 1 {
				t.Errorf("Expected index %s to exist, got count %d", index, count)
			}
		}
	})

	t.Run("Reopen Keeps Stats Row", func(t *testing.T) {
		reopened, err := NewMessageStore(store.Path(), 1000)
		if err != nil {
			t.Fatalf("Failed to reopen store: %v", err)
		}
		defer reopened.Close()

		var count int
		if err := reopened.db.QueryRow("SELECT COUNT(*) FROM message_stats").Scan(&count); err != nil {
			t.Fatalf("Failed to check stats table: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 row in message_stats, got %d", count)
		}
	})
}

func TestStoreRecord(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	testTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Store RX Record", func(t *testing.T) {
		id, err := store.StoreRecord(Record{
			Timestamp:    testTime,
			Interface:    "interface_2",
			From:         "N0CALL",
			To:           "K1ABC",
			Text:         "N0CALL: K1ABC hello ♢ ",
			SNR:          -12,
			Frequency:    7079500,
			Direction:    DirectionRX,
			MessageType:  "RX.DIRECTED",
			Transmission: "tx-1",
		})
		if err != nil {
			t.Fatalf("Failed to store record: %v", err)
		}
		if id != 1 {
			t.Errorf("Expected id 1, got %d", id)
		}

		records, err := store.GetMessages(MessageQuery{})
		if err != nil {
			t.Fatalf("Failed to read back: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("Expected 1 record, got %d", len(records))
		}
		got := records[0]
		if got.From != "N0CALL" || got.To != "K1ABC" {
			t.Errorf("Unexpected callsigns %s -> %s", got.From, got.To)
		}
		if got.Text != "N0CALL: K1ABC hello ♢ " {
			t.Errorf("Unexpected text %q", got.Text)
		}
		if got.SNR != -12 {
			t.Errorf("Expected SNR -12, got %d", got.SNR)
		}
		if !got.Timestamp.Equal(testTime) {
			t.Errorf("Expected timestamp %v, got %v", testTime, got.Timestamp)
		}
		if got.Transmission != "tx-1" {
			t.Errorf("Expected transmission tx-1, got %s", got.Transmission)
		}
	})

	t.Run("Store TX Record", func(t *testing.T) {
		if _, err := store.StoreRecord(Record{
			Interface:   "interface_1",
			From:        "N0CALL",
			Text:        "N0CALL: CQ",
			Direction:   DirectionTX,
			MessageType: "TX.SEND_MESSAGE",
		}); err != nil {
			t.Fatalf("Failed to store record: %v", err)
		}

		stats, err := store.GetMessageStats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.TotalMessages != 2 || stats.TotalRX != 1 || stats.TotalTX != 1 {
			t.Errorf("Unexpected stats %+v", stats)
		}
	})

	t.Run("Invalid Direction", func(t *testing.T) {
		if _, err := store.StoreRecord(Record{Direction: "SIDEWAYS"}); err == nil {
			t.Error("Expected error for invalid direction, got nil")
		}
	})
}

func TestRecordSpot(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	spots := []Spot{
		{Timestamp: base, Interface: "interface_2", Callsign: "N0CALL", Grid: "FN42", SNR: -5, Frequency: 7079500},
		{Timestamp: base.Add(time.Minute), Interface: "interface_2", Callsign: "N0CALL", Grid: "FN42", SNR: 3, Frequency: 7079500},
		{Timestamp: base.Add(2 * time.Minute), Interface: "interface_2", Callsign: "W2XYZ", Grid: "EM12", SNR: -18, Frequency: 7079500},
		{Timestamp: base, Interface: "interface_3", Callsign: "N0CALL", Grid: "FN42", SNR: 0, Frequency: 14079500},
	}
	for _, spot := range spots {
		if err := store.RecordSpot(spot); err != nil {
			t.Fatalf("Failed to record spot: %v", err)
		}
	}

	heard, err := store.GetHeardStations("interface_2", 0)
	if err != nil {
		t.Fatalf("Failed to get heard stations: %v", err)
	}
	if len(heard) != 2 {
		t.Fatalf("Expected 2 heard stations, got %d", len(heard))
	}
	if heard[0].Callsign != "W2XYZ" {
		t.Errorf("Expected most recent station first, got %s", heard[0].Callsign)
	}
	if heard[1].SpotCount != 2 || heard[1].LastSNR != 3 {
		t.Errorf("Expected N0CALL spotted twice with last SNR 3, got %+v", heard[1])
	}

	all, err := store.GetHeardStations("", 0)
	if err != nil {
		t.Fatalf("Failed to get heard stations: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 heard entries across interfaces, got %d", len(all))
	}

	stats, err := store.GetMessageStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalSpots != 4 {
		t.Errorf("Expected 4 spots, got %d", stats.TotalSpots)
	}
}

func TestCleanupOldMessages(t *testing.T) {
	store, err := NewMessageStore(filepath.Join(t.TempDir(), "cleanup.db"), 5)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		_, err := store.StoreRecord(Record{
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Interface:   "interface_1",
			From:        "N0CALL",
			Text:        "N0CALL: msg",
			Direction:   DirectionTX,
			MessageType: "TX.SEND_MESSAGE",
		})
		if err != nil {
			t.Fatalf("Failed to store record %d: %v", i, err)
		}
	}

	count, err := store.GetMessageCount()
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 messages after cleanup, got %d", count)
	}

	records, err := store.GetMessages(MessageQuery{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	oldest := records[len(records)-1].Timestamp
	if !oldest.Equal(base.Add(3 * time.Second)) {
		t.Errorf("Expected oldest kept message at +3s, got %v", oldest)
	}

	stats, err := store.GetMessageStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalMessages != 8 {
		t.Errorf("Expected lifetime total 8, got %d", stats.TotalMessages)
	}
	if stats.LastCleanup.IsZero() {
		t.Error("Expected last cleanup to be set")
	}

	if err := store.CleanupOldMessages(); err != nil {
		t.Errorf("Manual cleanup failed: %v", err)
	}
}

func TestMessageStoreClose(t *testing.T) {
	store, err := NewMessageStore(filepath.Join(t.TempDir(), "close.db"), 10)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Expected no error closing store, got: %v", err)
	}
	if _, err := store.GetMessageCount(); err == nil {
		t.Error("Expected error querying a closed store")
	}
}
