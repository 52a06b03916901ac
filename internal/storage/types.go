package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// MaxEntries caps retained history; 0 means DefaultMaxEntries.
	MaxEntries int
}

const DefaultMaxEntries = 10000

// Delivery actions.
const (
	ActionSend = "send"
	ActionEdit = "edit"
)

// DeliveryEntry records one outbound send or edit.
type DeliveryEntry struct {
	At        time.Time `json:"at"`
	Action    string    `json:"action"`
	Source    string    `json:"source,omitempty"`
	Title     string    `json:"title"`
	ChatID    int64     `json:"chat_id"`
	MessageID int       `json:"message_id,omitempty"`
	Lines     int       `json:"lines,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

func (e DeliveryEntry) OK() bool { return e.Error == "" }
