package retrieval

import (
	"sort"

	"regsearch/internal/text"
)

// Less orders two results for ranking. Higher similarity wins outright when
// the gap exceeds epsilon; inside the band the hits count as tied and source
// precedence decides: lower priority number first, then source id, then chunk
// index. The chain ends in a strict total order, so ranking is deterministic.
func Less(a, b Result, epsilon float32) bool {
	d := a.Score - b.Score
	if d > epsilon {
		return true
	}
	if d < -epsilon {
		return false
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.ChunkIndex < b.ChunkIndex
}

// Rank sorts results in place by Less.
func Rank(results []Result, epsilon float32) {
	sort.SliceStable(results, func(i, j int) bool {
		return Less(results[i], results[j], epsilon)
	})
}

// MergeRuns collapses each contiguous run of chunk indices from the same
// source into a single result. Two neighbors surfacing together means the
// search split one semantic unit across a chunk boundary; the merged result
// re-joins their texts with the shared overlap removed and keeps the run's
// best score and widest offsets. The survivor carries the first chunk index
// of its run.
func MergeRuns(results []Result, overlap int) []Result {
	perSource := make(map[string][]Result)
	var order []string
	for _, r := range results {
		if _, seen := perSource[r.SourceID]; !seen {
			order = append(order, r.SourceID)
		}
		perSource[r.SourceID] = append(perSource[r.SourceID], r)
	}

	var merged []Result
	for _, sourceID := range order {
		group := perSource[sourceID]
		sort.Slice(group, func(i, j int) bool { return group[i].ChunkIndex < group[j].ChunkIndex })

		current := group[0]
		lastIndex := current.ChunkIndex
		for _, next := range group[1:] {
			if next.ChunkIndex == lastIndex+1 {
				current.Content = text.MergeAdjacent(current.Content, next.Content, overlap)
				if next.Score > current.Score {
					current.Score = next.Score
				}
				if next.EndOffset > current.EndOffset {
					current.EndOffset = next.EndOffset
				}
				lastIndex = next.ChunkIndex
				continue
			}
			merged = append(merged, current)
			current = next
			lastIndex = next.ChunkIndex
		}
		merged = append(merged, current)
	}
	return merged
}
