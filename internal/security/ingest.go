package security

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

// Classification is the event an outcome maps to.
type Classification struct {
	EventType   string
	Level       models.Level
	Description string
	Pattern     string
	Location    string
}

// Classify maps a request outcome to at most one event. Injection wins over
// payload size, and payload size wins over the status code.
func Classify(o models.RequestOutcome, largePayload int64) (Classification, bool) {
	if name, ok := matchDangerous(o.Body); ok {
		return injection(name, "body"), true
	}
	if name, ok := matchQuery(o.Query); ok {
		return injection(name, "query"), true
	}

	if o.BodySize > largePayload {
		return Classification{
			EventType:   models.EventLargePayload,
			Level:       models.LevelWarn,
			Description: fmt.Sprintf("Request body of %d bytes exceeds %d", o.BodySize, largePayload),
		}, true
	}

	switch o.Status {
	case http.StatusUnauthorized:
		return Classification{
			EventType:   models.EventUnauthorizedAccess,
			Level:       models.LevelWarn,
			Description: fmt.Sprintf("Unauthorized access to %s %s", o.Method, o.Path),
		}, true
	case http.StatusForbidden:
		return Classification{
			EventType:   models.EventForbiddenAccess,
			Level:       models.LevelWarn,
			Description: fmt.Sprintf("Forbidden access to %s %s", o.Method, o.Path),
		}, true
	case http.StatusTooManyRequests:
		return Classification{
			EventType:   models.EventRateLimitExceeded,
			Level:       models.LevelWarn,
			Description: fmt.Sprintf("Rate limit exceeded on %s %s", o.Method, o.Path),
		}, true
	case http.StatusNotFound:
		return Classification{
			EventType:   models.EventNotFoundScan,
			Level:       models.LevelInfo,
			Description: fmt.Sprintf("Not found: %s %s", o.Method, o.Path),
		}, true
	}
	return Classification{}, false
}

func injection(pattern, location string) Classification {
	return Classification{
		EventType:   models.EventInjectionAttempt,
		Level:       models.LevelCritical,
		Description: fmt.Sprintf("Dangerous pattern %q detected in request %s", pattern, location),
		Pattern:     pattern,
		Location:    location,
	}
}

// Ingestor turns request outcomes into security events. It never returns
// an error to the request path.
type Ingestor struct {
	events       *EventLog
	largePayload int64
	sampleLen    int
	logger       *zap.Logger
}

func NewIngestor(events *EventLog, largePayload int64, sampleLen int, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		events:       events,
		largePayload: largePayload,
		sampleLen:    sampleLen,
		logger:       logger.Named("ingest"),
	}
}

// Observe classifies o and appends the resulting event, if any. It returns
// the appended event or nil.
func (i *Ingestor) Observe(ctx context.Context, o models.RequestOutcome) *models.SecurityEvent {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("ingestion panic recovered", zap.Any("panic", r))
		}
	}()

	o = sanitize(o)
	c, ok := Classify(o, i.largePayload)
	if !ok {
		return nil
	}

	ev := models.SecurityEvent{
		Level:       c.Level,
		EventType:   c.EventType,
		Description: c.Description,
		IP:          optional(o.IP),
		UserID:      optional(o.UserID),
		Path:        o.Path,
		Method:      o.Method,
		Metadata: models.Blob{
			"status":    o.Status,
			"body_size": o.BodySize,
		},
	}
	if o.Service != "" {
		ev.Metadata["service"] = o.Service
	}
	if c.Pattern != "" {
		ev.Metadata["pattern"] = c.Pattern
		ev.Metadata["location"] = c.Location
		ev.Payload = models.Blob{
			"body":  truncate(o.Body, i.sampleLen),
			"query": truncate(o.Query, i.sampleLen),
		}
	}
	if len(o.Headers) > 0 {
		ev.Headers = make(models.Blob, len(o.Headers))
		for k, v := range o.Headers {
			ev.Headers[k] = v
		}
	}

	ev.ID = i.events.Append(ctx, ev)
	return &ev
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// sanitize makes every free-text field storable as TEXT and JSONB:
// invalid UTF-8 becomes U+FFFD and NUL bytes are dropped.
func sanitize(o models.RequestOutcome) models.RequestOutcome {
	o.IP = cleanText(o.IP)
	o.UserID = cleanText(o.UserID)
	o.Path = cleanText(o.Path)
	o.Method = cleanText(o.Method)
	o.Body = cleanText(o.Body)
	o.Query = cleanText(o.Query)
	o.Service = cleanText(o.Service)
	if len(o.Headers) > 0 {
		headers := make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			headers[cleanText(k)] = cleanText(v)
		}
		o.Headers = headers
	}
	return o
}

func cleanText(s string) string {
	if utf8.ValidString(s) && strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
