package models

// SampleActivity is one row of the top-samples ranking.
type SampleActivity struct {
	Sample   Sample `json:"sample"`
	Count    int64  `json:"count"`
	LastSeen int64  `json:"lastseen"`
}

// HistoryBucket is the connection count of one fixed-width time window.
// Start is bucketSeconds * floor(date / bucketSeconds).
type HistoryBucket struct {
	Start int64 `json:"hour"`
	Count int64 `json:"count"`
}
