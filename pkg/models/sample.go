package models

// Sample is a captured malware binary identified by its sha256.
// Stored in the samples table.
type Sample struct {
	ID     int64  `json:"id"`
	SHA256 string `json:"sha256"`
	Date   int64  `json:"date"`
	Name   string `json:"name"`
	// File is the blob store locator; nil until the payload has been stored.
	File      *string `json:"file"`
	Length    int64   `json:"length"`
	Result    *string `json:"result"`
	Info      string  `json:"info"`
	NetworkID *int64  `json:"network_id,omitempty"`
}

// HasPayload reports whether the sample bytes are available in the blob store.
func (s *Sample) HasPayload() bool {
	return s.File != nil && *s.File != ""
}
