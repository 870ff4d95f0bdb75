package splitter

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// NewTokenCounter loads a tiktoken encoding. When the encoding cannot be
// loaded (no network for the BPE ranks) it falls back to a bytes/4 estimate.
func NewTokenCounter(encoding string, logger *zerolog.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", encoding).Msg("token encoding unavailable, estimating from bytes")
		return ByteEstimate{}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(line []byte) int {
	return len(c.enc.Encode(string(line), nil, nil))
}

// ByteEstimate approximates one token per four bytes.
type ByteEstimate struct{}

func (ByteEstimate) Count(line []byte) int {
	return (len(line) + 3) / 4
}
