package dto

// CodeSearchRequest is the payload for a retrieval passthrough.
type CodeSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=50"`
}

// CodeChunkResponse is one retrieved code excerpt.
type CodeChunkResponse struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	Truncated bool    `json:"truncated"`
}

// CodeSearchStatsResponse explains how the result set was shaped.
type CodeSearchStatsResponse struct {
	TopK            int  `json:"top_k"`
	Retrieved       int  `json:"retrieved"`
	Deduplicated    int  `json:"deduplicated"`
	Returned        int  `json:"returned"`
	TotalChars      int  `json:"total_chars"`
	TruncatedChunks int  `json:"truncated_chunks"`
	BudgetExhausted bool `json:"budget_exhausted"`
}

// CodeSearchResponse is returned by the retriever.
type CodeSearchResponse struct {
	Chunks []CodeChunkResponse     `json:"chunks"`
	Stats  CodeSearchStatsResponse `json:"stats"`
}

// ChunkPaths lists the distinct paths of the chunks in first-seen order.
func (r CodeSearchResponse) ChunkPaths() []string {
	seen := make(map[string]struct{}, len(r.Chunks))
	paths := make([]string, 0, len(r.Chunks))
	for _, chunk := range r.Chunks {
		if _, ok := seen[chunk.Path]; ok {
			continue
		}
		seen[chunk.Path] = struct{}{}
		paths = append(paths, chunk.Path)
	}
	return paths
}
