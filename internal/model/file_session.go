package model

import "time"

// FileSession links a server-minted id to one uploaded CSV on disk.
type FileSession struct {
	ID           string    `json:"id"`
	FilePath     string    `json:"file_path"`
	OriginalName string    `json:"original_name"`
	CreatedAt    time.Time `json:"created_at"`
}
