package models

// IngestEvent is everything an ingester reports about one connection.
type IngestEvent struct {
	Connection NewConnection
	URLs       []IngestURL
	Tags       []IngestTag
	// Before and After are ids of existing connections this one is associated with.
	Before []int64
	After  []int64
}

// IngestURL is a URL seen in the transcript, optionally with the sample it served.
type IngestURL struct {
	URL     string
	Date    int64
	IP      string
	ASNID   *int64
	Country string
	Sample  *IngestSample
}

// IngestSample describes a downloaded sample. Data may be empty when the payload
// is delivered later through StoreSampleBlob.
type IngestSample struct {
	SHA256 string
	Name   string
	Length int64
	Date   int64
	Info   string
	Result *string
	Data   []byte
}

// IngestTag is a tag to attach to the connection, created on first use.
type IngestTag struct {
	Name string
	Code string
}

// IngestResult reports the ids of the rows an ingestion touched.
type IngestResult struct {
	ConnectionID int64
	URLIDs       []int64
	SampleIDs    []int64
	TagIDs       []int64
}
