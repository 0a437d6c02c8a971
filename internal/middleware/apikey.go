package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxCredentialBody = 1 << 20

// Extractor pulls a raw credential out of a request, "" when absent.
type Extractor func(c *gin.Context) string

// DefaultExtractors is the credential lookup order.
var DefaultExtractors = []Extractor{
	FromAPIKeyHeader,
	FromBearer,
	FromQuery("token"),
	FromJSONBody("token"),
}

func FromAPIKeyHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

func FromBearer(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func FromQuery(name string) Extractor {
	return func(c *gin.Context) string {
		return strings.TrimSpace(c.Query(name))
	}
}

// FromJSONBody reads a top-level string field from a JSON body and restores the body for the handler.
func FromJSONBody(field string) Extractor {
	return func(c *gin.Context) string {
		if c.Request.Body == nil || c.ContentType() != gin.MIMEJSON {
			return ""
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCredentialBody))
		if err != nil {
			return ""
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return ""
		}
		var value string
		if raw, ok := fields[field]; ok && json.Unmarshal(raw, &value) == nil {
			return strings.TrimSpace(value)
		}
		return ""
	}
}

// Credential runs the extractors in order and returns the first non-empty value.
func Credential(c *gin.Context, extractors ...Extractor) string {
	for _, extract := range extractors {
		if value := extract(c); value != "" {
			return value
		}
	}
	return ""
}
