package models

import (
	"io"
	"strings"
	"time"
)

// ReportStatus represents the triage state of a report
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusInProgress ReportStatus = "in_progress"
	ReportStatusResolved   ReportStatus = "resolved"
)

// Valid reports whether s is one of the known statuses
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusInProgress, ReportStatusResolved:
		return true
	}
	return false
}

// ParseReportStatus parses a wire status value
func ParseReportStatus(s string) (ReportStatus, bool) {
	st := ReportStatus(strings.TrimSpace(s))
	return st, st.Valid()
}

// DefaultLocation is stored when the reporter leaves the location blank
const DefaultLocation = "Unknown"

// ReportFormData is what the reporter composed locally. It is never persisted.
type ReportFormData struct {
	Description string
	Location    string
	// Images are local asset references in attachment order
	Images []string
	// AudioPath is an optional local asset reference; empty means none
	AudioPath string
}

// AssetCount returns the number of media assets attached to the form
func (f *ReportFormData) AssetCount() int {
	n := len(f.Images)
	if f.AudioPath != "" {
		n++
	}
	return n
}

// StoredReport is the persisted record. Location and Description hold
// ciphertext; Images and AudioURL hold remote URLs only.
type StoredReport struct {
	ID          string       `json:"-" bson:"-"`
	Location    string       `json:"location" bson:"location"`
	Description string       `json:"description" bson:"description"`
	Images      []string     `json:"images" bson:"images"`
	AudioURL    string       `json:"audioUrl" bson:"audioUrl"`
	Timestamp   time.Time    `json:"timestamp" bson:"timestamp"`
	Status      ReportStatus `json:"status" bson:"status"`
}

// ReportListItem is the decrypted projection shown to authorities
type ReportListItem struct {
	ID          string       `json:"id"`
	Location    string       `json:"location"`
	Description string       `json:"description"`
	Images      []string     `json:"images"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      ReportStatus `json:"status"`
}

// ReportDetail extends the list projection with the audio attachment
type ReportDetail struct {
	ReportListItem
	AudioURL string `json:"audioUrl"`
}

// ReportFilter narrows a listing. A zero filter matches every report.
type ReportFilter struct {
	Status ReportStatus
}

// Matches reports whether r passes the filter
func (f ReportFilter) Matches(r *StoredReport) bool {
	return f.Status == "" || r.Status == f.Status
}

// UploadProgress is emitted while a single asset is transferred
type UploadProgress struct {
	BytesTransferred int64   `json:"bytesTransferred"`
	TotalBytes       int64   `json:"totalBytes"`
	Progress         float64 `json:"progress"`
}

// NewUploadProgress computes the percentage, clamped to [0, 100]
func NewUploadProgress(transferred, total int64) UploadProgress {
	p := UploadProgress{BytesTransferred: transferred, TotalBytes: total}
	switch {
	case total <= 0:
		p.Progress = 100
	default:
		p.Progress = float64(transferred) / float64(total) * 100
	}
	if p.Progress < 0 {
		p.Progress = 0
	}
	if p.Progress > 100 {
		p.Progress = 100
	}
	return p
}

// Fraction returns progress as a value in [0, 1]
func (p UploadProgress) Fraction() float64 {
	return p.Progress / 100
}

// AssetClass determines the storage namespace and MIME allow-list of an asset
type AssetClass string

const (
	AssetClassImage AssetClass = "image"
	AssetClassAudio AssetClass = "audio"
)

const (
	imageNamespace = "reports/images/"
	audioNamespace = "reports/audio/"
)

// Namespace returns the remote path prefix for the class
func (c AssetClass) Namespace() string {
	if c == AssetClassAudio {
		return audioNamespace
	}
	return imageNamespace
}

// AssetClassFromPath derives the class from a remote path
func AssetClassFromPath(remotePath string) (AssetClass, bool) {
	switch {
	case strings.HasPrefix(remotePath, imageNamespace):
		return AssetClassImage, true
	case strings.HasPrefix(remotePath, audioNamespace):
		return AssetClassAudio, true
	}
	return "", false
}

// Blob is a resolved local asset. Open may be called once per upload attempt.
type Blob struct {
	Ref         string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}
