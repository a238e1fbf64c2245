package types

import (
	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/db"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Driver    string `json:"driver"`
	Sessions  int    `json:"sessions"`
	Browsers  int    `json:"browsers"`
	Pages     int    `json:"pages"`
	Journal   bool   `json:"journal"`
}

type ListSessionsResponse struct {
	Sessions []browser.SessionInfo `json:"sessions"`
	Stats    browser.Stats         `json:"stats"`
}

type CloseSessionResponse struct {
	SessionID string `json:"sessionId"`
	Closed    bool   `json:"closed"`
}

type ListJournalResponse struct {
	Entries []db.Command `json:"entries"`
}
