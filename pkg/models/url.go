package models

// URL is a download location referenced by a connection's transcript.
// url is unique; stored in the urls table.
type URL struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Date      int64  `json:"date"`
	SampleID  *int64 `json:"sample_id,omitempty"`
	NetworkID *int64 `json:"network_id,omitempty"`
	ASNID     *int64 `json:"asn_id,omitempty"`
	IP        string `json:"ip"`
	Country   string `json:"country"`
}

// URLSummary is the search/lookup projection of a URL with its sample hash.
type URLSummary struct {
	ID     int64   `json:"id"`
	URL    string  `json:"url"`
	Date   int64   `json:"date"`
	Sample *string `json:"sample"`
}
