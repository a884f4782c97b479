package serializer

import (
	"context"

	"github.com/stingnet/sting-engine/pkg/models"
)

// Relation names a one-to-many or many-to-many edge followed while serializing.
type Relation int

const (
	RelConnectionURLs Relation = iota
	RelConnectionTags
	// RelConnsBefore lists connections recorded as happening before the key connection.
	RelConnsBefore
	// RelConnsAfter lists connections recorded as happening after the key connection.
	RelConnsAfter
	RelURLConnections
	RelSampleURLs
	RelNetworkSamples
	RelNetworkURLs
	RelNetworkConnections
	RelMalwareNetworks
	RelASNURLs
	RelASNConnections
	RelTagConnections
)

// relationTargets is the kind of entity at the far end of each relation.
var relationTargets = map[Relation]models.Kind{
	RelConnectionURLs:     models.KindURL,
	RelConnectionTags:     models.KindTag,
	RelConnsBefore:        models.KindConnection,
	RelConnsAfter:         models.KindConnection,
	RelURLConnections:     models.KindConnection,
	RelSampleURLs:         models.KindURL,
	RelNetworkSamples:     models.KindSample,
	RelNetworkURLs:        models.KindURL,
	RelNetworkConnections: models.KindConnection,
	RelMalwareNetworks:    models.KindNetwork,
	RelASNURLs:            models.KindURL,
	RelASNConnections:     models.KindConnection,
	RelTagConnections:     models.KindConnection,
}

// Target returns the kind of the entities a relation yields.
func (r Relation) Target() models.Kind {
	return relationTargets[r]
}

// Source reads entities and their relations for the serializer.
//
// Load returns a pointer to the model type of kind (*models.Connection,
// *models.URL, ...) and an error wrapping apperrors.ErrNotFound when the row is
// absent. Related returns entities of rel.Target(); limit <= 0 means all rows.
type Source interface {
	Load(ctx context.Context, kind models.Kind, key int64) (any, error)
	Related(ctx context.Context, rel Relation, key int64, limit int) ([]any, error)
	Count(ctx context.Context, rel Relation, key int64) (int64, error)
}
