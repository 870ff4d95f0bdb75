package model

import (
	"strconv"
	"strings"

	"content-batch-pipeline/internal/domain"
)

// Registered correlation kinds.
const (
	KindQuestion = "question"
	KindAnswer   = "answer"
	KindSummary  = "summary"
	KindEmbed    = "embed"
)

var knownKinds = map[string]bool{
	KindQuestion: true,
	KindAnswer:   true,
	KindSummary:  true,
	KindEmbed:    true,
}

// CorrelationID links a submitted request to its asynchronous result.
//
//	id      = kind [ ".v" version ] "-" owner "-" seq
//	kind    = lower *( lower / digit / "_" )
//	version = nonzero digit *digit
//	owner   = 1*( ALPHA / DIGIT / "_" / "-" )
//	seq     = "0" / ( nonzero digit *digit )
//
// Version 0 means the segment was absent and reads as version 1.
type CorrelationID struct {
	Kind    string
	Version int
	OwnerID string
	Seq     int64
}

func NewCorrelationID(kind, owner string, seq int64) CorrelationID {
	return CorrelationID{Kind: kind, OwnerID: owner, Seq: seq}
}

func (c CorrelationID) String() string {
	var b strings.Builder
	b.WriteString(c.Kind)
	if c.Version > 0 {
		b.WriteString(".v")
		b.WriteString(strconv.Itoa(c.Version))
	}
	b.WriteByte('-')
	b.WriteString(c.OwnerID)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(c.Seq, 10))
	return b.String()
}

// Slug is the per-scope natural key segment of the record this ID produces.
func (c CorrelationID) Slug() string {
	return c.Kind + "-" + strconv.FormatInt(c.Seq, 10)
}

// ParseCorrelationID is strict: anything not matching the grammar exactly,
// or carrying an unregistered kind, is rejected.
func ParseCorrelationID(s string) (CorrelationID, error) {
	fail := func(reason string) (CorrelationID, error) {
		return CorrelationID{}, &domain.CorrelationIDError{Input: s, Reason: reason}
	}
	if s == "" {
		return fail("empty")
	}

	i := 0
	for i < len(s) && s[i] != '.' && s[i] != '-' {
		i++
	}
	kind := s[:i]
	if kind == "" || !isLower(kind[0]) {
		return fail("kind must start with a lowercase letter")
	}
	for k := 1; k < len(kind); k++ {
		ch := kind[k]
		if !isLower(ch) && !isDigit(ch) && ch != '_' {
			return fail("invalid character in kind")
		}
	}
	if !knownKinds[kind] {
		return fail("unregistered kind " + strconv.Quote(kind))
	}

	var out CorrelationID
	out.Kind = kind
	rest := s[i:]

	if strings.HasPrefix(rest, ".") {
		if !strings.HasPrefix(rest, ".v") {
			return fail("version segment must be .v<n>")
		}
		j := 2
		for j < len(rest) && isDigit(rest[j]) {
			j++
		}
		digits := rest[2:j]
		if digits == "" || digits[0] == '0' {
			return fail("version must be a positive integer without leading zeros")
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			return fail("version out of range")
		}
		out.Version = v
		rest = rest[j:]
	}

	if !strings.HasPrefix(rest, "-") {
		return fail("missing owner segment")
	}
	rest = rest[1:]
	last := strings.LastIndexByte(rest, '-')
	if last < 0 {
		return fail("missing sequence segment")
	}
	owner, seq := rest[:last], rest[last+1:]
	if owner == "" {
		return fail("empty owner")
	}
	for k := 0; k < len(owner); k++ {
		ch := owner[k]
		if !isAlpha(ch) && !isDigit(ch) && ch != '_' && ch != '-' {
			return fail("invalid character in owner")
		}
	}
	if seq == "" {
		return fail("empty sequence")
	}
	for k := 0; k < len(seq); k++ {
		if !isDigit(seq[k]) {
			return fail("sequence must be numeric")
		}
	}
	if len(seq) > 1 && seq[0] == '0' {
		return fail("sequence has leading zeros")
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return fail("sequence out of range")
	}
	out.OwnerID = owner
	out.Seq = n
	return out, nil
}

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return isLower(c) || (c >= 'A' && c <= 'Z') }
