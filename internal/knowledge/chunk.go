package knowledge

// Chunking defaults, sized for short embedding inputs.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 50
)

// SplitText cuts text into rune-based windows of at most size runes, with
// overlap runes shared between consecutive chunks. Overlap keeps sentences
// that straddle a boundary retrievable from both sides.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
