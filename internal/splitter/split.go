// Package splitter cuts newline-delimited record streams into size- and
// line-bounded parts. Correlated streams are cut at identical line boundaries.
package splitter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
	"content-batch-pipeline/internal/infra/logging"
	"content-batch-pipeline/internal/infra/metrics"
)

// Input is a re-openable record stream. Each pass opens it again, so the
// content is never held in memory.
type Input struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func FileInput(path string) Input {
	return Input{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

type TokenCounter interface {
	Count(line []byte) int
}

type Options struct {
	// NumParts is the target part count. Zero derives it from MaxPartBytes.
	NumParts int
	// MaxPartBytes is the per-part ceiling. Zero disables the size check.
	MaxPartBytes int64
	OutDir       string

	Tokens        TokenCounter
	Archive       adapter.ArtifactStore
	ArchivePrefix string
}

type Splitter struct {
	opts Options
	log  *zerolog.Logger
}

func New(opts Options, logger *zerolog.Logger) (*Splitter, error) {
	if opts.NumParts < 0 || opts.MaxPartBytes < 0 {
		return nil, fmt.Errorf("%w: negative part count or ceiling", domain.ErrInvalidArgument)
	}
	if opts.NumParts == 0 && opts.MaxPartBytes == 0 {
		return nil, fmt.Errorf("%w: one of part count or byte ceiling is required", domain.ErrInvalidArgument)
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	return &Splitter{opts: opts, log: logging.Component(logger, "Splitter")}, nil
}

// Split cuts a single stream.
func (s *Splitter) Split(ctx context.Context, in Input) ([]model.Chunk, error) {
	sets, err := s.SplitCorrelated(ctx, []Input{in})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// SplitCorrelated cuts every input at the same line boundaries. It fails
// before writing anything when the inputs disagree on their line count or a
// single record cannot fit under the ceiling, and removes every part it
// already wrote when a later write fails.
func (s *Splitter) SplitCorrelated(ctx context.Context, ins []Input) ([][]model.Chunk, error) {
	defer logging.TraceDuration(s.log, "Splitter.SplitCorrelated")()
	if len(ins) == 0 {
		return nil, fmt.Errorf("%w: no inputs", domain.ErrInvalidArgument)
	}

	var (
		lines    int
		maxBytes int64
	)
	for i, in := range ins {
		n, size, err := countStream(in)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", in.Name, err)
		}
		if n == 0 {
			return nil, &domain.EmptyInputError{Path: in.Name}
		}
		if i == 0 {
			lines = n
		} else if n != lines {
			return nil, &domain.MisalignedInputError{Path: in.Name, Lines: n, Expected: lines}
		}
		if size > maxBytes {
			maxBytes = size
		}
	}

	numParts := s.opts.NumParts
	if numParts == 0 {
		numParts = int(ceilDiv(maxBytes, s.opts.MaxPartBytes))
	}
	if numParts < 1 {
		numParts = 1
	}
	if numParts > lines {
		numParts = lines
	}

	plan, err := s.plan(ctx, ins, lines, numParts, maxBytes)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out := make([][]model.Chunk, len(ins))
	for i, in := range ins {
		chunks, err := s.write(ctx, in, plan)
		if err != nil {
			for _, written := range out[:i] {
				for _, c := range written {
					_ = os.Remove(c.Path)
				}
			}
			return nil, err
		}
		out[i] = chunks
	}

	metrics.ObserveSplit(len(ins), len(plan))
	s.log.Info().Int("streams", len(ins)).Int("lines", lines).Int("parts", len(plan)).
		Int("requested_parts", numParts).Msg("split complete")
	return out, nil
}

// balanced returns the cumulative end line of each base part; part sizes
// differ by at most one line and earlier parts take the remainder.
func balanced(lines, parts int) []int {
	ends := make([]int, parts)
	base, extra := lines/parts, lines%parts
	acc := 0
	for p := 0; p < parts; p++ {
		acc += base
		if p < extra {
			acc++
		}
		ends[p] = acc
	}
	return ends
}

// plan walks every stream in lockstep and returns the line count of each
// output part. A part closes at a base boundary, or early when adding the next
// record would push any stream's part over the ceiling.
func (s *Splitter) plan(ctx context.Context, ins []Input, lines, numParts int, maxBytes int64) ([]int, error) {
	readers := make([]*bufio.Reader, len(ins))
	for i, in := range ins {
		rc, err := in.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", in.Name, err)
		}
		defer rc.Close()
		readers[i] = bufio.NewReaderSize(rc, 64<<10)
	}

	ends := balanced(lines, numParts)
	ceiling := s.opts.MaxPartBytes
	partBytes := make([]int64, len(ins))
	lineBytes := make([]int64, len(ins))

	var plan []int
	cur, bi := 0, 0
	closePart := func() {
		plan = append(plan, cur)
		cur = 0
		for k := range partBytes {
			partBytes[k] = 0
		}
	}

	for i := 0; i < lines; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for bi < len(ends) && i == ends[bi] {
			if cur > 0 {
				closePart()
			}
			bi++
		}

		for k, r := range readers {
			n, err := nextLineLen(r)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil, &domain.MisalignedInputError{Path: ins[k].Name, Lines: i, Expected: lines}
				}
				return nil, fmt.Errorf("read %s: %w", ins[k].Name, err)
			}
			lineBytes[k] = n
		}

		if ceiling > 0 {
			if cur > 0 {
				for k := range readers {
					if partBytes[k]+lineBytes[k] > ceiling {
						closePart()
						break
					}
				}
			}
			for k := range readers {
				if lineBytes[k] > ceiling {
					suggested := numParts + 1
					if byBytes := int(ceilDiv(maxBytes, ceiling)); byBytes > suggested {
						suggested = byBytes
					}
					return nil, &domain.ChunkTooLargeError{
						Path:           ins[k].Name,
						Part:           len(plan) + 1,
						Size:           lineBytes[k],
						Ceiling:        ceiling,
						SuggestedParts: suggested,
					}
				}
			}
		}

		cur++
		for k := range readers {
			partBytes[k] += lineBytes[k]
		}
	}
	if cur > 0 {
		plan = append(plan, cur)
	}
	return plan, nil
}

func (s *Splitter) write(ctx context.Context, in Input, plan []int) (chunks []model.Chunk, err error) {
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", in.Name, err)
	}
	defer rc.Close()
	r := bufio.NewReaderSize(rc, 64<<10)

	defer func() {
		if err != nil {
			for _, c := range chunks {
				_ = os.Remove(c.Path)
			}
			chunks = nil
		}
	}()

	first := 1
	for idx, count := range plan {
		if err := ctx.Err(); err != nil {
			return chunks, err
		}
		path := filepath.Join(s.opts.OutDir, partName(in.Name, idx+1, len(plan)))
		c, err := s.writePart(r, path, count)
		if err != nil {
			_ = os.Remove(path)
			return chunks, fmt.Errorf("write part %d of %s: %w", idx+1, in.Name, err)
		}
		c.Index, c.TotalParts, c.FirstLine = idx+1, len(plan), first
		first += count
		chunks = append(chunks, c)

		if s.opts.Archive != nil {
			if err := s.archive(ctx, path); err != nil {
				return chunks, err
			}
		}
	}
	return chunks, nil
}

func (s *Splitter) writePart(r *bufio.Reader, path string, count int) (model.Chunk, error) {
	f, err := os.Create(path)
	if err != nil {
		return model.Chunk{}, err
	}
	w := bufio.NewWriterSize(f, 64<<10)
	c := model.Chunk{Path: path, LineCount: count}
	for n := 0; n < count; n++ {
		line, rerr := r.ReadBytes('\n')
		if len(line) == 0 && rerr != nil {
			_ = f.Close()
			return c, fmt.Errorf("input ended early: %w", rerr)
		}
		if _, err := w.Write(line); err != nil {
			_ = f.Close()
			return c, err
		}
		c.ByteSize += int64(len(line))
		if s.opts.Tokens != nil {
			c.Tokens += s.opts.Tokens.Count(bytes.TrimRight(line, "\r\n"))
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return c, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return c, err
	}
	return c, f.Close()
}

func (s *Splitter) archive(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	key := s.opts.ArchivePrefix + filepath.Base(path)
	if err := s.opts.Archive.Upload(ctx, key, f); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("part archived")
	return nil
}

// partName turns "data/answers.jsonl" into "answers.part002-of-005.jsonl".
func partName(input string, idx, total int) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s.part%03d-of-%03d%s", stem, idx, total, ext)
}

// countStream counts records and bytes in one pass over fixed-size blocks.
// A final record without a trailing newline still counts.
func countStream(in Input) (lines int, size int64, err error) {
	rc, err := in.Open()
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()

	buf := make([]byte, 64<<10)
	var last byte
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			size += int64(n)
			last = buf[n-1]
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, 0, rerr
		}
	}
	if size > 0 && last != '\n' {
		lines++
	}
	return lines, size, nil
}

// nextLineLen consumes one record and returns its length including the
// newline, without buffering records longer than the reader.
func nextLineLen(r *bufio.Reader) (int64, error) {
	var n int64
	for {
		frag, err := r.ReadSlice('\n')
		n += int64(len(frag))
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && n > 0:
			return n, nil
		default:
			return n, err
		}
	}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}
