package models

// ASN is an autonomous system. The ASN number is the primary key.
type ASN struct {
	ASN     int64  `json:"asn"`
	Name    string `json:"name"`
	Reg     string `json:"reg"`
	Country string `json:"country"`
}

// IPRange is a row of the IP to geolocation/ASN lookup table.
// IPMin and IPMax are inclusive IPv4 addresses as integers.
type IPRange struct {
	IPMin     int64    `json:"ip_min"`
	IPMax     int64    `json:"ip_max"`
	CIDR      string   `json:"cidr"`
	Country   string   `json:"country"`
	Region    string   `json:"region"`
	City      string   `json:"city"`
	Zipcode   string   `json:"zipcode"`
	Timezone  string   `json:"timezone"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	ASNID     *int64   `json:"asn"`
}
