package model

// Chunk is one written part of a split stream. Correlated chunk sets share
// Index, TotalParts, FirstLine and LineCount.
type Chunk struct {
	Index      int    `json:"index"`
	TotalParts int    `json:"total_parts"`
	FirstLine  int    `json:"first_line"`
	LineCount  int    `json:"line_count"`
	ByteSize   int64  `json:"byte_size"`
	Tokens     int    `json:"tokens,omitempty"`
	Path       string `json:"path"`
}
