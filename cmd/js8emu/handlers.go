package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/js8emu/pkg/engine"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/storage"
)

const defaultQueryLimit = 100

// handleGetStatus returns emulator status
func (d *Daemon) handleGetStatus(c *gin.Context) {
	connected := 0
	snapshot := d.emulator.Snapshot()
	for _, iface := range snapshot {
		if iface.Connected {
			connected++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":              Version,
		"uptime":               d.emulator.Uptime().Round(time.Second).String(),
		"interfaces":           len(snapshot),
		"connected":            connected,
		"active_transmissions": d.emulator.ActiveTransmissions(),
		"journal":              d.store != nil,
		"mqtt":                 d.spots != nil,
		"feed_clients":         d.feed.Clients(),
		"fragment_size":        d.config.General.FragmentSize,
		"frame_time":           d.config.General.FrameTime,
	})
}

// handleGetInterfaces lists every interface
func (d *Daemon) handleGetInterfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"interfaces": d.emulator.Snapshot(),
	})
}

// handleSetFrequency retunes an interface
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Dial int64 `json:"dial" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	if err := d.emulator.SetFrequency(c.Request.Context(), name, req.Dial); err != nil {
		d.controlError(c, err)
		return
	}

	logging.Infof("web", "%s retuned to %d via API", name, req.Dial)
	c.JSON(http.StatusOK, gin.H{"success": true, "interface": name, "dial": req.Dial})
}

// handleTransmit starts a transmission from an interface
func (d *Daemon) handleTransmit(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	if err := d.emulator.Transmit(c.Request.Context(), name, req.Text); err != nil {
		d.controlError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "interface": name})
}

func (d *Daemon) controlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownInterface):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// requireJournal writes 503 when the message journal is disabled
func (d *Daemon) requireJournal(c *gin.Context) bool {
	if d.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message journal disabled"})
		return false
	}
	return true
}

// handleGetMessages queries the journal
func (d *Daemon) handleGetMessages(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	query := storage.MessageQuery{
		Limit:        queryInt(c, "limit", defaultQueryLimit),
		Offset:       queryInt(c, "offset", 0),
		Callsign:     c.Query("callsign"),
		Interface:    c.Query("interface"),
		Direction:    c.Query("direction"),
		MessageType:  c.Query("type"),
		Transmission: c.Query("transmission"),
	}

	for key, target := range map[string]**time.Time{"since": &query.Since, "until": &query.Until} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + ": " + err.Error()})
			return
		}
		*target = &t
	}

	messages, err := d.store.GetMessages(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// handleSearchMessages searches journaled message text
func (d *Daemon) handleSearchMessages(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	term := c.Query("q")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search query 'q' is required"})
		return
	}

	messages, err := d.store.SearchMessages(term, queryInt(c, "limit", defaultQueryLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
		"query":    term,
	})
}

// handleGetHeard lists the stations an interface has received spots from
func (d *Daemon) handleGetHeard(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	name := c.Param("name")
	if _, ok := d.emulator.Interface(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown interface: " + name})
		return
	}

	heard, err := d.store.GetHeardStations(name, queryInt(c, "limit", defaultQueryLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"interface": name, "heard": heard})
}

// handleGetStats returns journal statistics
func (d *Daemon) handleGetStats(c *gin.Context) {
	if !d.requireJournal(c) {
		return
	}

	stats, err := d.store.GetMessageStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	count, err := d.store.GetMessageCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":          stats,
		"stored":         count,
		"dropped_frames": d.recorder.Dropped(),
	})
}

// handleFeedWebSocket streams live traffic
func (d *Daemon) handleFeedWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("web", "WebSocket upgrade failed: %v", err)
		return
	}
	d.feed.Serve(conn)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
