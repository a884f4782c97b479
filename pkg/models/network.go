package models

// Network groups connections, samples and URLs believed to belong to one campaign.
type Network struct {
	ID           int64  `json:"id"`
	NbFirstConns int64  `json:"firstconns"`
	MalwareID    *int64 `json:"malware_id,omitempty"`
}

// Malware is a named malware family with one or more networks.
type Malware struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
