package rangeplan

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/google/go-cmp/cmp"
)

const mib = 1024 * 1024

// assemble runs a plan against content the way the delivery proxy does.
func assemble(t *testing.T, content []byte, p Plan) []byte {
	t.Helper()
	var out bytes.Buffer
	total := int64(len(content))
	for i := range p.PartCount {
		start := p.PartOffset(i)
		end := min(start+p.ChunkSize, total)
		chunk, err := p.Trim(i, content[start:end])
		if err != nil {
			t.Fatalf("trim chunk %d: %v", i, err)
		}
		out.Write(chunk)
	}
	return out.Bytes()
}

func TestWorkedExample(t *testing.T) {
	const total = 5242880
	r, partial, err := Parse("bytes=1000000-2000000", total)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !partial {
		t.Fatalf("expected partial response")
	}

	p := Resolve(r, mib)
	want := Plan{
		ChunkSize: mib,
		Offset:    0,
		FirstPart: 0,
		LastPart:  1,
		PartCount: 2,
		LeadTrim:  1000000,
		TrailTrim: 2000000 - mib + 1,
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	if got := r.ContentRange(total); got != "bytes 1000000-2000000/5242880" {
		t.Fatalf("unexpected content range %q", got)
	}
	if r.Length() != 1000001 {
		t.Fatalf("unexpected length %d", r.Length())
	}
}

func TestParse(t *testing.T) {
	const total = 1000
	cases := []struct {
		header  string
		want    Range
		partial bool
	}{
		{"", Range{0, 999}, false},
		{"bytes=0-", Range{0, 999}, true},
		{"bytes=10-19", Range{10, 19}, true},
		{"bytes=999-999", Range{999, 999}, true},
		{"bytes=-100", Range{900, 999}, true},
		{"bytes=-5000", Range{0, 999}, true},
		{" bytes=5-6 ", Range{5, 6}, true},
	}
	for _, tc := range cases {
		got, partial, err := Parse(tc.header, total)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.header, err)
		}
		if got != tc.want || partial != tc.partial {
			t.Fatalf("Parse(%q) = %+v %v, want %+v %v", tc.header, got, partial, tc.want, tc.partial)
		}
	}
}

func TestParseRejects(t *testing.T) {
	const total = 1000
	for _, header := range []string{
		"bytes=1000-",
		"bytes=0-1000",
		"bytes=20-10",
		"bytes=-0",
		"bytes=a-b",
		"bytes=1-2,5-6",
		"items=0-1",
		"bytes=5",
	} {
		if _, _, err := Parse(header, total); !errors.Is(err, apperr.ErrRangeUnsatisfiable) {
			t.Fatalf("Parse(%q): expected unsatisfiable, got %v", header, err)
		}
	}
	if _, _, err := Parse("bytes=0-0", 0); !errors.Is(err, apperr.ErrRangeUnsatisfiable) {
		t.Fatalf("expected any range on an empty object to be unsatisfiable")
	}
}

func TestChunkBoundaries(t *testing.T) {
	const total = 10_000_000
	content := make([]byte, total)
	rand.New(rand.NewSource(1)).Read(content)

	edges := []int64{0, 1, mib - 1, mib, mib + 1, 2*mib - 1, 2*mib, 9*mib - 1, 9 * mib, total - 1}
	for _, from := range edges {
		for _, until := range edges {
			if until < from {
				continue
			}
			t.Run(fmt.Sprintf("%d-%d", from, until), func(t *testing.T) {
				r, _, err := Parse(fmt.Sprintf("bytes=%d-%d", from, until), total)
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				got := assemble(t, content, Resolve(r, mib))
				if !bytes.Equal(got, content[from:until+1]) {
					t.Fatalf("bytes differ: got %d bytes, want %d", len(got), until-from+1)
				}
			})
		}
	}
}

func TestRandomRangesReassembleExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for range 500 {
		total := rng.Int63n(50_000) + 1
		chunk := rng.Int63n(4096) + 1
		from := rng.Int63n(total)
		until := from + rng.Int63n(total-from)

		content := make([]byte, total)
		rng.Read(content)

		p := Resolve(Range{From: from, Until: until}, chunk)
		if p.PartCount != until/chunk-from/chunk+1 {
			t.Fatalf("unexpected part count %d for %d-%d/%d", p.PartCount, from, until, chunk)
		}
		got := assemble(t, content, p)
		if !bytes.Equal(got, content[from:until+1]) {
			t.Fatalf("range %d-%d of %d with chunk %d reassembled incorrectly", from, until, total, chunk)
		}
	}
}

func TestTrimRejectsShortChunks(t *testing.T) {
	p := Resolve(Range{From: 10, Until: 3000}, 1024)
	if _, err := p.Trim(0, make([]byte, 100)); err == nil {
		t.Fatalf("expected short first chunk to be rejected")
	}
	if _, err := p.Trim(p.PartCount-1, make([]byte, 10)); err == nil {
		t.Fatalf("expected short last chunk to be rejected")
	}
	if _, err := p.Trim(p.PartCount, make([]byte, 1024)); err == nil {
		t.Fatalf("expected out of range index to be rejected")
	}
}
