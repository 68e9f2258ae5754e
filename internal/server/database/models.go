package database

import "time"

// Link is an upload link bound to one folder. Records are read-only once
// loaded; derived state such as expiry belongs to the service layer.
type Link struct {
	ID              int64
	Token           string
	FolderPath      string
	PasswordHash    *string // nil when no password set
	ExpiryTimestamp *int64  // unix seconds, nil when the link never expires
	CreatedAt       time.Time
}

// UploadedFile is the audit row written for every stored upload.
type UploadedFile struct {
	ID         int64     `json:"id"`
	LinkID     int64     `json:"link_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// User is an administrator account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalLinks    int64 `json:"total_links"`
	ActiveLinks   int64 `json:"active_links"`
	ExpiredLinks  int64 `json:"expired_links"`
	TotalUploads  int64 `json:"total_uploads"`
	BytesUploaded int64 `json:"bytes_uploaded"`
}
