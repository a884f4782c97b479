package models

// Tag is a named annotation attached to connections. name is unique.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}
