package models

// Kind names an entity kind. It doubles as the serializer's dispatch key and the
// count target of the stats queries.
type Kind string

const (
	KindConnection Kind = "connection"
	KindURL        Kind = "url"
	KindSample     Kind = "sample"
	KindNetwork    Kind = "network"
	KindMalware    Kind = "malware"
	KindASN        Kind = "asn"
	KindIPRange    Kind = "iprange"
	KindTag        Kind = "tag"
	KindUser       Kind = "user"
)

// ReferenceKinds are the lookup tables preserved by a bulk wipe.
var ReferenceKinds = []Kind{KindUser, KindASN, KindIPRange}

// IsReference reports whether k is a reference table kind.
func (k Kind) IsReference() bool {
	for _, r := range ReferenceKinds {
		if r == k {
			return true
		}
	}
	return false
}
