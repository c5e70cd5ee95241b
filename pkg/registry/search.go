package registry

import (
	"encoding/json"
	"sort"

	"github.com/cuemby/warren/pkg/types"
)

// scoredEntity pairs an entity with its search rank for sorting.
type scoredEntity struct {
	entity types.Entity
	score  int
	seq    int
}

// searchNodes implements the naive token-overlap ranking the full-text
// index seam stands in for: a query term scores one point per exact token
// occurrence (no substring matching) among the qualified name, name, tags (keys and values), and the
// JSON-serialized attributes payload. Results are sorted by descending
// score, ties broken by insertion order.
func searchNodes(nodes map[string]*nodeRecord, query string, scope string) []types.Entity {
	terms := lowerTokens(query)
	if len(terms) == 0 {
		return nil
	}

	var candidates []scoredEntity
	for _, n := range nodes {
		if scope != "" && n.projectID != scope {
			continue
		}
		score := scoreEntity(n.entity, terms)
		if score > 0 {
			candidates = append(candidates, scoredEntity{entity: n.entity, score: score, seq: n.seq})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].seq < candidates[j].seq
	})
	out := make([]types.Entity, len(candidates))
	for i, c := range candidates {
		out[i] = c.entity
	}
	return out
}

func scoreEntity(e types.Entity, terms []string) int {
	haystack := lowerTokens(e.QualifiedName)
	haystack = append(haystack, lowerTokens(e.Name)...)
	haystack = append(haystack, lowerTokens(e.DisplayName)...)
	for k, v := range e.Tags {
		haystack = append(haystack, lowerTokens(k)...)
		haystack = append(haystack, lowerTokens(v)...)
	}
	if raw, err := json.Marshal(e.Attributes); err == nil {
		haystack = append(haystack, lowerTokens(string(raw))...)
	}

	index := make(map[string]int, len(haystack))
	for _, h := range haystack {
		index[h]++
	}
	score := 0
	for _, t := range terms {
		score += index[t]
	}
	return score
}
