package domain

import "time"

// ReportMetadata is caller-supplied context stored alongside a report blob.
// Capturing the environment itself is the caller's job.
type ReportMetadata struct {
	Hostname     string            `json:"hostname,omitempty"`
	Username     string            `json:"username,omitempty"`
	Platform     string            `json:"platform,omitempty"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

type StorageStats struct {
	ReportCount int       `json:"report_count"`
	QueuedCount int       `json:"queued_count"`
	TotalBytes  int64     `json:"total_bytes"`
	OldestMTime time.Time `json:"oldest_mtime,omitzero"`
	NewestMTime time.Time `json:"newest_mtime,omitzero"`
}

type VerificationState string

const (
	VerificationNotSigned        VerificationState = "not_signed"
	VerificationValid            VerificationState = "valid"
	VerificationTampered         VerificationState = "tampered"
	VerificationSignatureInvalid VerificationState = "signature_invalid"
	VerificationUntrusted        VerificationState = "certificate_untrusted"
)
