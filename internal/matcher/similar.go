package matcher

import (
	"sort"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/gate-attendance/internal/database"
)

// HNSW parameters for the enrollment similarity audit.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	hnswEfSearch = 100

	// DefaultSimilarNeighbors is how many nearest references are inspected per reference.
	DefaultSimilarNeighbors = 10
)

// SimilarPair is two different students whose enrollment references are suspiciously close,
// usually the same face enrolled twice or a mislabeled capture.
type SimilarPair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"` // exact cosine similarity of the closest reference pair
}

// FindSimilarEnrollments reports pairs of students with a reference pair at cosine similarity
// >= minScore. Neighbours are shortlisted with an HNSW graph and every reported score is
// exact. The shortlist is approximate, so a pair may be missed; the result is an audit aid and
// is never used for matching. Pairs are ordered by score, highest first.
func FindSimilarEnrollments(identities []database.EnrolledIdentity, minScore float64, neighbors int) []SimilarPair {
	if neighbors <= 0 {
		neighbors = DefaultSimilarNeighbors
	}

	raws := make([]rawIdentity, 0, len(identities))
	for _, ident := range identities {
		raws = append(raws, rawIdentity{id: ident.ID, vectors: ident.Embeddings})
	}
	dim := dominantDim(raws)

	var owner []int
	var refs [][]float64
	for i, raw := range raws {
		for _, v := range raw.vectors {
			if len(v) != dim {
				continue
			}
			if unit := normalize(v); unit != nil {
				owner = append(owner, i)
				refs = append(refs, unit)
			}
		}
	}
	if len(refs) < 2 {
		return nil
	}

	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.CosineDistance
	for key, ref := range refs {
		g.Add(hnsw.MakeNode(key, toFloat32(ref)))
	}

	type pairKey struct{ a, b int }
	best := make(map[pairKey]float64)
	for key, ref := range refs {
		for _, n := range g.Search(toFloat32(ref), neighbors+1) {
			if n.Key < 0 || n.Key >= len(refs) || owner[n.Key] == owner[key] {
				continue
			}
			score := dot(ref, refs[n.Key])
			if score < minScore {
				continue
			}
			pk := pairKey{owner[key], owner[n.Key]}
			if pk.a > pk.b {
				pk.a, pk.b = pk.b, pk.a
			}
			if prev, ok := best[pk]; !ok || score > prev {
				best[pk] = score
			}
		}
	}

	pairs := make([]SimilarPair, 0, len(best))
	for pk, score := range best {
		pairs = append(pairs, SimilarPair{A: raws[pk.a].id, B: raws[pk.b].id, Score: score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
