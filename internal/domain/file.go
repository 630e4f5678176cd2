package domain

import "time"

// StoredFile is one metadata row describing a file persisted to the blob
// store. The (UserID, SortKey) pair is the table's primary key; SortKey
// combines a fixed prefix, the message id and an epoch-seconds timestamp,
// so uniqueness within one second is not guaranteed.
type StoredFile struct {
	UserID         string
	SortKey        string
	ObjectKey      string
	FileName       string
	MimeType       string
	TelegramFileID string
	CreatedAt      time.Time
}
