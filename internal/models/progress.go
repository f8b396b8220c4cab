package models

import (
	"encoding/json"
	"time"
)

// CompletedItem is one completion mark. Path is the artifact location
// relative to the output directory.
type CompletedItem struct {
	ContentIdentifier
	Path string `json:"path"`
}

// ProgressRecord is the persisted form of progress.json. The manifest is
// kept separately in links.json.
type ProgressRecord struct {
	TargetKey string          `json:"target_key"`
	Completed []CompletedItem `json:"completed"`
	Config    json.RawMessage `json:"config,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
