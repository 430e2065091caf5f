// Package model contains the struct definitions shared across packages.
package model

import (
	"time"
)

// ExtractStatus describes the lifecycle of the background text extraction
// that runs for uploaded PDF deed documents.
type ExtractStatus string

const (
	ExtractNone   ExtractStatus = "none"
	ExtractQueued ExtractStatus = "queued"
	ExtractDone   ExtractStatus = "done"
	ExtractFailed ExtractStatus = "failed"
)

// FileMetadata captures what the caller declared about the uploaded bytes.
type FileMetadata struct {
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
}

// FileRecord holds metadata about one uploaded document. For restricted
// files FileID is the internal store-assigned key; once published it becomes
// the content address of the bytes. StoreKey is the private-tier object key
// and is never serialized to clients.
type FileRecord struct {
	FileID        string        `json:"fileId"`
	FileName      string        `json:"fileName"`
	Owner         string        `json:"owner"`
	Restricted    bool          `json:"restricted"`
	Metadata      FileMetadata  `json:"metadata"`
	StoreKey      string        `json:"-"`
	ExtractStatus ExtractStatus `json:"extractStatus,omitempty"`
	ExtractedText string        `json:"extractedText,omitempty"`
	CreatedAt     time.Time     `json:"timestamp"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ContentType returns the mime type to serve the file with, falling back to
// a generic binary type when the upload did not declare one.
func (r *FileRecord) ContentType() string {
	if r.Metadata.MimeType != "" {
		return r.Metadata.MimeType
	}
	return "application/octet-stream"
}
