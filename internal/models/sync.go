// internal/models/sync.go
package models

import (
	"encoding/json"
	"time"
)

// SyncStatus is the authoritative state of a locally captured entity.
// Exactly one status applies at any time; conflict is terminal until a
// reviewer resolves it.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncFailed   SyncStatus = "failed"
)

// ConflictResolution is a reviewer-chosen outcome for a conflicted item.
type ConflictResolution string

const (
	ResolutionLocalWins   ConflictResolution = "local_wins"
	ResolutionServerWins  ConflictResolution = "server_wins"
	ResolutionMerged      ConflictResolution = "merged"
	ResolutionAdminReview ConflictResolution = "admin_review"
)

// SyncOrigin records where a locally captured entity came from.
type SyncOrigin struct {
	SchoolID string `json:"schoolId"`
	ClassID  string `json:"classId,omitempty"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// SyncItem wraps an entity payload captured offline-first. It is generic
// over entity types: queued notifications, attendance, notes, grades,
// uploads all sync through the same contract.
type SyncItem struct {
	ID              string             `json:"id"`
	EntityType      string             `json:"entityType"`
	Payload         json.RawMessage    `json:"payload"`
	Origin          SyncOrigin         `json:"origin"`
	LocalTimestamp  time.Time          `json:"localTimestamp"`
	ServerTimestamp *time.Time         `json:"serverTimestamp,omitempty"`
	Status          SyncStatus         `json:"status"`
	RetryCount      int                `json:"retryCount"`
	Version         int64              `json:"version"` // server-assigned optimistic concurrency token
	Resolution      ConflictResolution `json:"resolution,omitempty"`
	LastError       string             `json:"lastError,omitempty"`
	ServerPayload   json.RawMessage    `json:"serverPayload,omitempty"` // populated on conflict for reviewer inspection
}
