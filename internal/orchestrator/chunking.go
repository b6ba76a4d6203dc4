package orchestrator

// Chunk is one unit of scheduling: a contiguous slice of
// processing_order honoring both size limits of spec.md §4.E's
// Dynamic chunking subsection. StartIndex is this chunk's first
// file's position in the job's full processing_order, used to compute
// Checkpoint.IndexInOrder.
type Chunk struct {
	Paths      []string
	StartIndex int
}

// buildChunks partitions order (already sliced to the remaining
// suffix starting at startIndex within the full processing_order)
// into chunks honoring maxFiles and maxBytes simultaneously: a chunk
// closes and a new one starts whenever adding the next file would
// exceed either limit. A file individually larger than maxBytes
// occupies a chunk of its own.
func buildChunks(order []string, startIndex int, sizes map[string]int64, maxFiles int, maxBytes int64) []Chunk {
	var chunks []Chunk
	var current []string
	var currentBytes int64

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Paths: current, StartIndex: startIndex})
		startIndex += len(current)
		current = nil
		currentBytes = 0
	}

	for _, path := range order {
		size := sizes[path]
		if size > maxBytes {
			flush()
			chunks = append(chunks, Chunk{Paths: []string{path}, StartIndex: startIndex})
			startIndex++
			continue
		}
		if len(current) > 0 && (len(current)+1 > maxFiles || currentBytes+size > maxBytes) {
			flush()
		}
		current = append(current, path)
		currentBytes += size
	}
	flush()
	return chunks
}
