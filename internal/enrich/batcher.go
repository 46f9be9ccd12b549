// Package enrich splits newly discovered creators into bounded enrichment
// batches and extracts contact details from free-text biography fields.
package enrich

import "github.com/scoutkit/creator-pipeline/internal/queue"

const DefaultBatchSize = 10

// Split cuts refs into batches of at most size, preserving order.
func Split(refs []queue.CreatorRef, size int) [][]queue.CreatorRef {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(refs) == 0 {
		return nil
	}

	batches := make([][]queue.CreatorRef, 0, (len(refs)+size-1)/size)
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		batches = append(batches, refs[start:end])
	}
	return batches
}
