// Package rangeplan turns an HTTP byte range into the list of fixed-size backend chunks that cover it.
package rangeplan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
)

// Range is an inclusive byte interval.
type Range struct {
	From  int64
	Until int64
}

// Length is the number of bytes in the range.
func (r Range) Length() int64 {
	return r.Until - r.From + 1
}

// ContentRange formats the Content-Range header value for a partial response.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.From, r.Until, total)
}

func unsatisfiable(header string) error {
	return fmt.Errorf("range %q: %w", header, apperr.ErrRangeUnsatisfiable)
}

// Parse interprets a Range header against a resource of total bytes.
// partial is false when no header was sent. Supported forms: "bytes=a-b", "bytes=a-" and "bytes=-n".
func Parse(header string, total int64) (r Range, partial bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Range{From: 0, Until: total - 1}, false, nil
	}

	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(rangeSet, ",") || total <= 0 {
		return Range{}, true, unsatisfiable(header)
	}

	fromStr, untilStr, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return Range{}, true, unsatisfiable(header)
	}

	if fromStr == "" {
		n, err := strconv.ParseInt(untilStr, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, true, unsatisfiable(header)
		}
		n = min(n, total)
		return Range{From: total - n, Until: total - 1}, true, nil
	}

	from, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil {
		return Range{}, true, unsatisfiable(header)
	}

	until := total - 1
	if untilStr != "" {
		until, err = strconv.ParseInt(untilStr, 10, 64)
		if err != nil {
			return Range{}, true, unsatisfiable(header)
		}
	}

	if from < 0 || until < from || until > total-1 {
		return Range{}, true, unsatisfiable(header)
	}

	return Range{From: from, Until: until}, true, nil
}

// Plan describes which chunks to fetch and how to trim the first and last one.
type Plan struct {
	ChunkSize int64
	Offset    int64 // byte offset of the first chunk
	FirstPart int64 // index of the first chunk
	LastPart  int64 // index of the last chunk
	PartCount int64
	LeadTrim  int64 // bytes dropped from the start of the first chunk
	TrailTrim int64 // bytes kept from the start of the last chunk
}

// Resolve computes the chunk plan for r. chunkSize must be positive.
func Resolve(r Range, chunkSize int64) Plan {
	offset := r.From - r.From%chunkSize
	first := offset / chunkSize
	last := r.Until / chunkSize

	return Plan{
		ChunkSize: chunkSize,
		Offset:    offset,
		FirstPart: first,
		LastPart:  last,
		PartCount: last - first + 1,
		LeadTrim:  r.From - offset,
		TrailTrim: r.Until%chunkSize + 1,
	}
}

// PartOffset is the absolute byte offset of the i-th chunk of the plan.
func (p Plan) PartOffset(i int64) int64 {
	return p.Offset + i*p.ChunkSize
}

// Trim cuts the i-th fetched chunk down to the bytes that belong to the range.
// Only the first and last chunk are trimmed; middle chunks must be full.
func (p Plan) Trim(i int64, chunk []byte) ([]byte, error) {
	n := int64(len(chunk))
	last := p.PartCount - 1

	switch {
	case i < 0 || i > last:
		return nil, fmt.Errorf("chunk %d outside plan of %d", i, p.PartCount)
	case i < last && n != p.ChunkSize:
		return nil, fmt.Errorf("chunk %d: got %d bytes, want %d", i, n, p.ChunkSize)
	case i == last && n < p.TrailTrim:
		return nil, fmt.Errorf("last chunk: got %d bytes, want at least %d", n, p.TrailTrim)
	}

	switch {
	case p.PartCount == 1:
		return chunk[p.LeadTrim:p.TrailTrim], nil
	case i == 0:
		return chunk[p.LeadTrim:], nil
	case i == last:
		return chunk[:p.TrailTrim], nil
	default:
		return chunk, nil
	}
}
