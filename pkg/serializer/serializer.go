// Package serializer turns entities into nested documents with a depth budget.
//
// Document shapes are described by a table mapping each entity kind to its
// fields and the embed policy of each field. A relation is summarized (count or
// identifying values) at depth 0 and expanded one level shallower otherwise, so
// serializing terminates on cyclic graphs without tracking visited entities.
package serializer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
)

// Document is the serialized form of one entity. Absent optional relations are
// present with a nil value so they encode as JSON null.
type Document map[string]any

// Serializer builds Documents from a Source.
type Serializer struct {
	src    Source
	logger *zap.Logger
}

// New creates a Serializer reading through src.
func New(src Source, logger *zap.Logger) *Serializer {
	return &Serializer{
		src:    src,
		logger: logger.Named("serializer"),
	}
}

// Serialize loads the entity of kind identified by key and serializes it.
// Negative depth is treated as 0.
func (s *Serializer) Serialize(ctx context.Context, kind models.Kind, key int64, depth int) (Document, error) {
	e, err := s.src.Load(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	return s.Document(ctx, kind, e, depth)
}

// Document serializes an already loaded entity of kind.
func (s *Serializer) Document(ctx context.Context, kind models.Kind, e any, depth int) (Document, error) {
	fields, ok := shapes[kind]
	if !ok {
		return nil, fmt.Errorf("cannot serialize kind %q: %w", kind, apperrors.ErrInvalidArgument)
	}
	if depth < 0 {
		depth = 0
	}

	doc := make(Document, len(fields))
	for _, f := range fields {
		v, err := f.value(ctx, s, e, depth)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s.%s: %w", kind, f.name, err)
		}
		doc[f.name] = v
	}
	return doc, nil
}

// ident returns the identifying value of the entity of kind at key. Kinds
// identified by their key are answered without a read.
func (s *Serializer) ident(ctx context.Context, kind models.Kind, key int64) (any, error) {
	switch kind {
	case models.KindConnection, models.KindNetwork, models.KindMalware, models.KindASN:
		return key, nil
	}
	e, err := s.src.Load(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	return identOf(kind, e), nil
}

// expand serializes the entity of kind at key one level shallower.
func (s *Serializer) expand(ctx context.Context, kind models.Kind, key int64, depth int) (any, error) {
	return s.Serialize(ctx, kind, key, depth-1)
}

// relatedDocs reads the entities of rel and serializes each of them at depth.
func (s *Serializer) relatedDocs(ctx context.Context, rel Relation, key int64, limit, depth int) ([]Document, error) {
	items, err := s.src.Related(ctx, rel, key, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		doc, err := s.Document(ctx, rel.Target(), item, depth)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Serializer) relatedIdents(ctx context.Context, rel Relation, key int64, limit int) ([]any, error) {
	items, err := s.src.Related(ctx, rel, key, limit)
	if err != nil {
		return nil, err
	}
	idents := make([]any, 0, len(items))
	for _, item := range items {
		idents = append(idents, identOf(rel.Target(), item))
	}
	return idents, nil
}

// field is one entry of a document shape.
type field struct {
	name  string
	value func(ctx context.Context, s *Serializer, e any, depth int) (any, error)
}

// scalar emits a plain attribute.
func scalar(name string, get func(e any) any) field {
	return field{name: name, value: func(_ context.Context, _ *Serializer, e any, _ int) (any, error) {
		return get(e), nil
	}}
}

// ref emits nil for an unset reference, the referenced ident at depth 0, and the
// referenced document otherwise. A dangling reference reads as unset.
func ref(name string, kind models.Kind, key func(e any) *int64) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, depth int) (any, error) {
		k := key(e)
		if k == nil {
			return nil, nil
		}
		var (
			v   any
			err error
		)
		if depth == 0 {
			v, err = s.ident(ctx, kind, *k)
		} else {
			v, err = s.expand(ctx, kind, *k, depth)
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return v, err
	}}
}

// identOnly always emits the referenced ident, whatever the depth.
func identOnly(name string, kind models.Kind, key func(e any) *int64) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, _ int) (any, error) {
		k := key(e)
		if k == nil {
			return nil, nil
		}
		v, err := s.ident(ctx, kind, *k)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return v, err
	}}
}

// countOrDocs emits the relation size at depth 0 and the related documents otherwise.
func countOrDocs(name string, rel Relation, kind models.Kind) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, depth int) (any, error) {
		key := keyOf(kind, e)
		if depth == 0 {
			return s.src.Count(ctx, rel, key)
		}
		return s.relatedDocs(ctx, rel, key, 0, depth-1)
	}}
}

// identsOrDocs emits the related idents at depth 0 and the related documents otherwise.
func identsOrDocs(name string, rel Relation, kind models.Kind, limit int) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, depth int) (any, error) {
		key := keyOf(kind, e)
		if depth == 0 {
			return s.relatedIdents(ctx, rel, key, limit)
		}
		return s.relatedDocs(ctx, rel, key, limit, depth-1)
	}}
}

// countOrIdents emits the relation size at depth 0 and the related idents otherwise.
func countOrIdents(name string, rel Relation, kind models.Kind) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, depth int) (any, error) {
		key := keyOf(kind, e)
		if depth == 0 {
			return s.src.Count(ctx, rel, key)
		}
		return s.relatedIdents(ctx, rel, key, 0)
	}}
}

// nullOrDocs emits nil at depth 0 and the related documents otherwise.
func nullOrDocs(name string, rel Relation, kind models.Kind, limit int) field {
	return field{name: name, value: func(ctx context.Context, s *Serializer, e any, depth int) (any, error) {
		if depth == 0 {
			return nil, nil
		}
		return s.relatedDocs(ctx, rel, keyOf(kind, e), limit, depth-1)
	}}
}

// transcript emits nil at depth 0 and the decoded session transcript otherwise.
func transcript(name string) field {
	return field{name: name, value: func(_ context.Context, s *Serializer, e any, depth int) (any, error) {
		if depth == 0 {
			return nil, nil
		}
		c := e.(*models.Connection)
		v, status := parseTranscript(c.Stream)
		if status != transcriptOK {
			s.logger.Debug("Recovered malformed transcript",
				zap.Int64("connection_id", c.ID),
				zap.Stringer("status", status),
				zap.Error(apperrors.ErrMalformedData))
		}
		return v, nil
	}}
}
