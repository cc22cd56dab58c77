package matcher

import (
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/logger"
)

// EmbeddingLoader reads the pose vectors stored at path.
type EmbeddingLoader func(path string) ([][]float32, error)

type identity struct {
	id   string
	name string
	refs [][]float64 // unit-length reference embeddings
}

// Generation is one immutable snapshot of all enrolled identities. It is never mutated after
// construction; a refresh builds a new Generation and swaps it in.
type Generation struct {
	GeneratedAt time.Time
	Dim         int

	identities []identity
	byID       map[string]int
	references int
}

// Identities returns the number of identities in the generation.
func (g *Generation) Identities() int {
	return len(g.identities)
}

// References returns the number of reference embeddings in the generation.
func (g *Generation) References() int {
	return g.references
}

// Name returns the display name of an enrolled identity.
func (g *Generation) Name(id string) (string, bool) {
	i, ok := g.byID[id]
	if !ok {
		return "", false
	}
	return g.identities[i].name, true
}

// SkippedIdentity describes an enrolled identity that contributed no usable vectors.
type SkippedIdentity struct {
	ID     string
	Reason string
}

type rawIdentity struct {
	id      string
	name    string
	vectors [][]float32
}

// resolveVectors returns the identity's vectors, reading the embedding file when the store
// did not provide them inline.
func resolveVectors(rec database.EnrolledIdentity, load EmbeddingLoader) ([][]float32, error) {
	if rec.EmbeddingsErr != nil {
		return nil, rec.EmbeddingsErr
	}
	if len(rec.Embeddings) > 0 || rec.EmbeddingPath == "" || load == nil {
		return rec.Embeddings, nil
	}
	return load(rec.EmbeddingPath)
}

// dominantDim returns the most common vector length, preferring the first seen on ties.
func dominantDim(raws []rawIdentity) int {
	counts := make(map[int]int)
	var order []int
	for _, r := range raws {
		for _, v := range r.vectors {
			if len(v) == 0 {
				continue
			}
			if counts[len(v)] == 0 {
				order = append(order, len(v))
			}
			counts[len(v)]++
		}
	}
	best, bestCount := 0, 0
	for _, dim := range order {
		if counts[dim] > bestCount {
			best, bestCount = dim, counts[dim]
		}
	}
	return best
}

// buildGeneration normalizes every reference embedding and assembles a new generation.
// Vectors whose length differs from the dominant dimension, or that have zero norm, are skipped.
func buildGeneration(records []database.EnrolledIdentity, load EmbeddingLoader, now time.Time, log *logger.Logger) (*Generation, []SkippedIdentity) {
	var skipped []SkippedIdentity
	raws := make([]rawIdentity, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		if seen[rec.ID] {
			skipped = append(skipped, SkippedIdentity{ID: rec.ID, Reason: "duplicate identity"})
			continue
		}
		seen[rec.ID] = true

		vectors, err := resolveVectors(rec, load)
		if err != nil {
			log.Warn("failed to load embeddings", "student_id", rec.ID, "path", rec.EmbeddingPath, "error", err)
			skipped = append(skipped, SkippedIdentity{ID: rec.ID, Reason: err.Error()})
			continue
		}
		if len(vectors) != ExpectedPoses {
			log.Debug("unexpected pose count", "student_id", rec.ID, "poses", len(vectors))
		}
		raws = append(raws, rawIdentity{id: rec.ID, name: rec.Name, vectors: vectors})
	}

	gen := &Generation{
		GeneratedAt: now,
		Dim:         dominantDim(raws),
		byID:        make(map[string]int, len(raws)),
	}

	for _, raw := range raws {
		ident := identity{id: raw.id, name: raw.name}
		for i, v := range raw.vectors {
			if len(v) != gen.Dim {
				log.Warn("skipping reference with unexpected dimension",
					"student_id", raw.id, "pose", i, "dim", len(v), "expected", gen.Dim)
				continue
			}
			unit := normalize(v)
			if unit == nil {
				log.Warn("skipping zero reference embedding", "student_id", raw.id, "pose", i)
				continue
			}
			ident.refs = append(ident.refs, unit)
		}
		if len(ident.refs) == 0 {
			skipped = append(skipped, SkippedIdentity{ID: raw.id, Reason: "no usable reference embeddings"})
			continue
		}
		gen.byID[ident.id] = len(gen.identities)
		gen.identities = append(gen.identities, ident)
		gen.references += len(ident.refs)
	}

	return gen, skipped
}
