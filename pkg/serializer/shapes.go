package serializer

import (
	"github.com/stingnet/sting-engine/pkg/models"
)

// asnListLimit caps the URL and connection lists embedded in an ASN document.
const asnListLimit = 10

func asConn(e any) *models.Connection { return e.(*models.Connection) }
func asURL(e any) *models.URL { return e.(*models.URL) }
func asSample(e any) *models.Sample { return e.(*models.Sample) }
func asNetwork(e any) *models.Network { return e.(*models.Network) }
func asMalware(e any) *models.Malware { return e.(*models.Malware) }
func asASN(e any) *models.ASN { return e.(*models.ASN) }
func asTag(e any) *models.Tag { return e.(*models.Tag) }
func asUser(e any) *models.User { return e.(*models.User) }

// orNil unwraps optional attributes so unset values encode as null.
func orNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// shapes is set in init; its fields call back into Document.
var shapes map[models.Kind][]field

func init() {
	shapes = map[models.Kind][]field{
		models.KindConnection: {
			scalar("id", func(e any) any { return asConn(e).ID }),
			scalar("ip", func(e any) any { return asConn(e).IP }),
			scalar("date", func(e any) any { return asConn(e).Date }),
			scalar("user", func(e any) any { return asConn(e).User }),
			scalar("password", func(e any) any { return asConn(e).Password }),
			scalar("connhash", func(e any) any { return asConn(e).ConnHash }),
			transcript("stream"),
			ref("network", models.KindNetwork, func(e any) *int64 { return asConn(e).NetworkID }),
			ref("asn", models.KindASN, func(e any) *int64 { return asConn(e).ASNID }),
			scalar("ipblock", func(e any) any { return asConn(e).IPBlock }),
			scalar("country", func(e any) any { return asConn(e).Country }),
			scalar("city", func(e any) any { return asConn(e).City }),
			scalar("longitude", func(e any) any { return orNil(asConn(e).Longitude) }),
			scalar("latitude", func(e any) any { return orNil(asConn(e).Latitude) }),
			identsOrDocs("conns_before", RelConnsBefore, models.KindConnection, 0),
			identsOrDocs("conns_after", RelConnsAfter, models.KindConnection, 0),
			identOnly("backend_user", models.KindUser, func(e any) *int64 { return &asConn(e).BackendUserID }),
			countOrDocs("urls", RelConnectionURLs, models.KindConnection),
			countOrDocs("tags", RelConnectionTags, models.KindConnection),
		},
		models.KindURL: {
			scalar("url", func(e any) any { return asURL(e).URL }),
			scalar("date", func(e any) any { return asURL(e).Date }),
			ref("sample", models.KindSample, func(e any) *int64 { return asURL(e).SampleID }),
			countOrDocs("connections", RelURLConnections, models.KindURL),
			ref("asn", models.KindASN, func(e any) *int64 { return asURL(e).ASNID }),
			scalar("ip", func(e any) any { return asURL(e).IP }),
			scalar("country", func(e any) any { return asURL(e).Country }),
			ref("network", models.KindNetwork, func(e any) *int64 { return asURL(e).NetworkID }),
		},
		models.KindSample: {
			scalar("sha256", func(e any) any { return asSample(e).SHA256 }),
			scalar("date", func(e any) any { return asSample(e).Date }),
			scalar("name", func(e any) any { return asSample(e).Name }),
			scalar("length", func(e any) any { return asSample(e).Length }),
			scalar("result", func(e any) any { return orNil(asSample(e).Result) }),
			scalar("info", func(e any) any { return asSample(e).Info }),
			countOrDocs("urls", RelSampleURLs, models.KindSample),
			ref("network", models.KindNetwork, func(e any) *int64 { return asSample(e).NetworkID }),
		},
		models.KindNetwork: {
			scalar("id", func(e any) any { return asNetwork(e).ID }),
			countOrIdents("samples", RelNetworkSamples, models.KindNetwork),
			countOrIdents("urls", RelNetworkURLs, models.KindNetwork),
			countOrIdents("connections", RelNetworkConnections, models.KindNetwork),
			scalar("firstconns", func(e any) any { return asNetwork(e).NbFirstConns }),
			ref("malware", models.KindMalware, func(e any) *int64 { return asNetwork(e).MalwareID }),
		},
		models.KindMalware: {
			scalar("id", func(e any) any { return asMalware(e).ID }),
			scalar("name", func(e any) any { return asMalware(e).Name }),
			identsOrDocs("networks", RelMalwareNetworks, models.KindMalware, 0),
		},
		models.KindASN: {
			scalar("asn", func(e any) any { return asASN(e).ASN }),
			scalar("name", func(e any) any { return asASN(e).Name }),
			scalar("reg", func(e any) any { return asASN(e).Reg }),
			scalar("country", func(e any) any { return asASN(e).Country }),
			identsOrDocs("urls", RelASNURLs, models.KindASN, asnListLimit),
			nullOrDocs("connections", RelASNConnections, models.KindASN, asnListLimit),
		},
		models.KindTag: {
			scalar("name", func(e any) any { return asTag(e).Name }),
			scalar("code", func(e any) any { return asTag(e).Code }),
			nullOrDocs("connections", RelTagConnections, models.KindTag, 0),
		},
		models.KindUser: {
			scalar("username", func(e any) any { return asUser(e).Username }),
		},
	}
}

// keyOf returns the key Source uses to address e.
func keyOf(kind models.Kind, e any) int64 {
	switch kind {
	case models.KindConnection:
		return asConn(e).ID
	case models.KindURL:
		return asURL(e).ID
	case models.KindSample:
		return asSample(e).ID
	case models.KindNetwork:
		return asNetwork(e).ID
	case models.KindMalware:
		return asMalware(e).ID
	case models.KindASN:
		return asASN(e).ASN
	case models.KindTag:
		return asTag(e).ID
	case models.KindUser:
		return asUser(e).ID
	}
	return 0
}

// identOf returns the value a relation to e is summarized as at depth 0.
func identOf(kind models.Kind, e any) any {
	switch kind {
	case models.KindURL:
		return asURL(e).URL
	case models.KindSample:
		return asSample(e).SHA256
	case models.KindTag:
		return asTag(e).Name
	case models.KindUser:
		return asUser(e).Username
	}
	return keyOf(kind, e)
}

// Kinds lists every kind Serialize accepts.
func Kinds() []models.Kind {
	return []models.Kind{
		models.KindConnection,
		models.KindURL,
		models.KindSample,
		models.KindNetwork,
		models.KindMalware,
		models.KindASN,
		models.KindTag,
		models.KindUser,
	}
}
