package models

// Connection is one recorded login attempt captured by a collector.
// Stored in the conns table.
type Connection struct {
	ID       int64  `json:"id"`
	IP       string `json:"ip"`
	Date     int64  `json:"date"` // Unix seconds
	User     string `json:"user"`
	Password string `json:"password"`
	ConnHash string `json:"connhash"`
	// Stream is the session transcript as captured, expected to hold a JSON array.
	Stream string `json:"stream"`

	ASNID         *int64 `json:"asn_id,omitempty"`
	NetworkID     *int64 `json:"network_id,omitempty"`
	BackendUserID int64  `json:"backend_user_id"`

	IPBlock   string   `json:"ipblock"`
	Country   string   `json:"country"`
	City      string   `json:"city"`
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
}

// NewConnection holds the fields of a connection about to be inserted.
type NewConnection struct {
	IP            string
	Date          int64
	User          string
	Password      string
	ConnHash      string
	Stream        string
	ASNID         *int64
	NetworkID     *int64
	BackendUserID int64
	IPBlock       string
	Country       string
	City          string
	Longitude     *float64
	Latitude      *float64
}

// HasGeolocation reports whether the geolocation fields were supplied by the ingester.
func (c *NewConnection) HasGeolocation() bool {
	return c.Country != "" || c.Latitude != nil || c.Longitude != nil
}
