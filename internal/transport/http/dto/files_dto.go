package dto

import "time"

type WebhookResponse struct {
	OK bool `json:"ok"`
}

type FileResponse struct {
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

type FilesListResponse struct {
	Items []FileResponse `json:"items"`
}
