// Package delivery serves token-gated content, re-streaming byte ranges from the transport
// backend chunk by chunk or redirecting to a presigned object store URL.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/metrics"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/rangeplan"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"go.uber.org/zap"
)

const (
	SourceTransport   = "transport"
	SourceObjectStore = "objectstore"
)

type TokenValidator interface {
	Validate(ctx context.Context, handle, secret string, kind token.Kind) (*token.Validated, error)
}

type ChunkFetcher interface {
	FetchChunk(ctx context.Context, locator string, offset, size int64) ([]byte, error)
}

type Presigner interface {
	PresignGet(key, fileName string, ttl time.Duration) (string, error)
}

// Request is one delivery attempt as seen by the proxy.
type Request struct {
	Handle      string
	Secret      string
	Kind        token.Kind
	RangeHeader string
	ClientIP    string
	UserAgent   string
}

// Outcome describes what was written. Status is 0 when nothing reached the client,
// in which case the caller renders the returned error.
type Outcome struct {
	Status    int
	BytesSent int64
	Source    string
}

type Config struct {
	Tokens    TokenValidator
	Chunks    ChunkFetcher
	Presigner Presigner // nil serves everything from the transport
	ChunkSize int64
	AccessLog *AccessLogger
	Clock     func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type Proxy struct {
	tokens    TokenValidator
	chunks    ChunkFetcher
	presigner Presigner
	chunkSize int64
	accessLog *AccessLogger
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewProxy(cfg Config) (*Proxy, error) {
	if cfg.Tokens == nil || cfg.Chunks == nil {
		return nil, errors.New("delivery proxy requires a token validator and a chunk fetcher")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Proxy{
		tokens:    cfg.Tokens,
		chunks:    cfg.Chunks,
		presigner: cfg.Presigner,
		chunkSize: cfg.ChunkSize,
		accessLog: cfg.AccessLog,
		clock:     cfg.Clock,
		logger:    logging.OrNop(cfg.Logger),
		metrics:   cfg.Metrics,
	}, nil
}

// Serve validates the request's token and writes the requested bytes to w.
// Errors returned with a zero Outcome.Status have not been written; the caller renders them.
// A client that goes away mid-stream ends the transfer without further chunk fetches.
func (p *Proxy) Serve(ctx context.Context, req Request, w http.ResponseWriter) (Outcome, error) {
	start := p.clock()
	var content *models.ContentObject

	out, err := p.serve(ctx, req, w, &content)

	entry := models.AccessLog{
		Timestamp:  start.UTC(),
		Handle:     req.Handle,
		TokenKind:  string(req.Kind),
		ClientIP:   req.ClientIP,
		UserAgent:  req.UserAgent,
		Success:    err == nil,
		StatusCode: out.Status,
		BytesSent:  out.BytesSent,
		Source:     out.Source,
	}
	if content != nil {
		entry.ContentID = &content.ID
	}
	if err != nil {
		status, code := apperr.Status(err)
		if out.Status == 0 {
			entry.StatusCode = status
		}
		entry.Reason = code
		if ctx.Err() != nil {
			entry.Reason = "client_disconnected"
		}
	}
	p.accessLog.Record(entry)

	p.metrics.Delivery(outcomeLabel(ctx, out, err))
	p.metrics.DeliveredBytes(out.Source, out.BytesSent)

	return out, err
}

func (p *Proxy) serve(ctx context.Context, req Request, w http.ResponseWriter, content **models.ContentObject) (Outcome, error) {
	validated, err := p.tokens.Validate(ctx, req.Handle, req.Secret, req.Kind)
	if err != nil {
		return Outcome{}, err
	}
	*content = validated.Content

	if validated.Content.ObjectKey != "" && p.presigner != nil {
		return p.redirect(validated, w)
	}

	return p.stream(ctx, req, validated.Content, w)
}

func (p *Proxy) redirect(v *token.Validated, w http.ResponseWriter) (Outcome, error) {
	ttl := v.Token.ExpiresAt.Sub(p.clock())
	location, err := p.presigner.PresignGet(v.Content.ObjectKey, v.Content.FileName, ttl)
	if err != nil {
		return Outcome{Source: SourceObjectStore}, err
	}

	w.Header().Set("Location", location)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
	return Outcome{Status: http.StatusFound, Source: SourceObjectStore}, nil
}

func (p *Proxy) stream(ctx context.Context, req Request, content *models.ContentObject, w http.ResponseWriter) (Outcome, error) {
	out := Outcome{Source: SourceTransport}
	header := w.Header()

	if content.Size == 0 && req.RangeHeader == "" {
		p.writeHeaders(header, content, req.Kind, 0)
		w.WriteHeader(http.StatusOK)
		out.Status = http.StatusOK
		return out, nil
	}

	r, partial, err := rangeplan.Parse(req.RangeHeader, content.Size)
	if err != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", content.Size))
		return out, err
	}
	plan := rangeplan.Resolve(r, p.chunkSize)

	// The first chunk is fetched before any header is written, so a dead backend
	// or a missing file still yields a proper error response.
	first, err := p.fetch(ctx, content, plan, 0)
	if err != nil {
		return out, err
	}

	p.writeHeaders(header, content, req.Kind, r.Length())
	out.Status = http.StatusOK
	if partial {
		header.Set("Content-Range", r.ContentRange(content.Size))
		out.Status = http.StatusPartialContent
	}
	w.WriteHeader(out.Status)

	flusher, _ := w.(http.Flusher)
	chunk := first
	for i := int64(0); i < plan.PartCount; i++ {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			if chunk, err = p.fetch(ctx, content, plan, i); err != nil {
				p.logger.Warn("aborting stream after chunk failure",
					zap.String("handle", content.Handle),
					zap.Int64("part", i),
					zap.Error(err),
				)
				return out, err
			}
		}

		n, err := w.Write(chunk)
		out.BytesSent += int64(n)
		if err != nil {
			return out, fmt.Errorf("write to client: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	return out, nil
}

func (p *Proxy) fetch(ctx context.Context, content *models.ContentObject, plan rangeplan.Plan, i int64) ([]byte, error) {
	raw, err := p.chunks.FetchChunk(ctx, content.Locator, plan.PartOffset(i), plan.ChunkSize)
	if err != nil {
		return nil, err
	}
	return plan.Trim(i, raw)
}

func (p *Proxy) writeHeaders(h http.Header, content *models.ContentObject, kind token.Kind, length int64) {
	mimeType := content.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	disposition := "attachment"
	if kind == token.KindStream {
		disposition = "inline"
	}
	if content.FileName != "" {
		if formatted := mime.FormatMediaType(disposition, map[string]string{"filename": content.FileName}); formatted != "" {
			disposition = formatted
		}
	}

	h.Set("Content-Type", mimeType)
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", disposition)
}

func outcomeLabel(ctx context.Context, out Outcome, err error) string {
	switch {
	case err == nil && out.Status == http.StatusFound:
		return "redirect"
	case err == nil && out.Status == http.StatusPartialContent:
		return "partial"
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "aborted"
	default:
		_, code := apperr.Status(err)
		return code
	}
}
