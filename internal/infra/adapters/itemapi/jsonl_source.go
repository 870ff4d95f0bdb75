package itemapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"content-batch-pipeline/internal/domain"
	"content-batch-pipeline/internal/domain/model"
	"content-batch-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ItemSource = (*JSONLSource)(nil)

// JSONLSource reads work items from a file with one JSON object per line.
// Each object carries its correlation ID under "id"; every other field is
// the payload. File order is the item order.
type JSONLSource struct {
	maxLine int
}

func NewJSONLSource() *JSONLSource {
	return &JSONLSource{maxLine: 16 << 20}
}

// Items returns every valid record in file order. Malformed lines, missing or
// ungrammatical ids and repeated ids are returned as rejects; only an
// unreadable file is an error.
func (s *JSONLSource) Items(ctx context.Context, source string) ([]model.WorkItem, []model.RejectedItem, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), s.maxLine)
	seen := make(map[string]int)
	var (
		items    []model.WorkItem
		rejected []model.RejectedItem
	)
	line := 0
	for sc.Scan() {
		line++
		if line%1024 == 0 && ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		item, id, err := parseLine(raw)
		if err != nil {
			rejected = append(rejected, model.RejectedItem{Line: line, ID: id, Reason: err.Error()})
			continue
		}
		if prev, dup := seen[item.CorrelationID]; dup {
			rejected = append(rejected, model.RejectedItem{
				Line:   line,
				ID:     item.CorrelationID,
				Reason: fmt.Sprintf("%v: id already used on line %d", domain.ErrAlreadyExists, prev),
			})
			continue
		}
		seen[item.CorrelationID] = line
		items = append(items, *item)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s:%d: %w", source, line+1, err)
	}
	return items, rejected, nil
}

// parseLine also returns the raw id when one could be read, so rejects can
// name it.
func parseLine(raw []byte) (*model.WorkItem, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	var id string
	if v, ok := fields["id"]; ok {
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, "", fmt.Errorf("%w: id must be a string", domain.ErrInvalidArgument)
		}
	}
	if id == "" {
		return nil, "", fmt.Errorf("%w: missing id", domain.ErrInvalidArgument)
	}
	if _, err := model.ParseCorrelationID(id); err != nil {
		return nil, id, err
	}
	delete(fields, "id")
	var payload json.RawMessage
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, id, err
		}
		payload = b
	}
	item, err := model.NewWorkItem(id, payload)
	return item, id, err
}
