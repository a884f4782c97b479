package serializer

import (
	"encoding/json"
	"strings"
)

type transcriptStatus int

const (
	transcriptOK transcriptStatus = iota
	// transcriptRepaired means the text was closed after its last complete object.
	transcriptRepaired
	// transcriptDiscarded means nothing could be recovered.
	transcriptDiscarded
)

func (s transcriptStatus) String() string {
	switch s {
	case transcriptRepaired:
		return "repaired"
	case transcriptDiscarded:
		return "discarded"
	default:
		return "ok"
	}
}

// parseTranscript decodes a stored session transcript. A transcript cut off by
// log truncation is closed after its last complete object and decoded once more.
// Anything still unparseable becomes an empty sequence.
func parseTranscript(raw string) (any, transcriptStatus) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, transcriptOK
	}

	cut := strings.LastIndex(raw, "}")
	if cut < 0 {
		return []any{}, transcriptDiscarded
	}

	v = nil
	if err := json.Unmarshal([]byte(raw[:cut+1]+"]"), &v); err != nil {
		return []any{}, transcriptDiscarded
	}
	return v, transcriptRepaired
}
