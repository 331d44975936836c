package models

import "io"

// Upload is a file received with a media message, before it is stored.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// StoredFile describes an upload after the file store accepted it.
type StoredFile struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}
