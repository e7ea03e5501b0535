// Package audit appends security events to the remote audit-log index.
// Appends are fire-and-forget: the engine's security decisions never depend
// on a successful write, so every failure here is logged and swallowed.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"session-trust/internal/common/database"
	"session-trust/internal/common/errors"
	"session-trust/internal/common/logger"
	"session-trust/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// eventSchema guards the contract with the dashboard that reads the index.
const eventSchema = `{
	"type": "object",
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"action": {"type": "string", "minLength": 1},
		"resourceType": {"type": "string", "minLength": 1},
		"details": {"type": "object"},
		"timestamp": {"type": "string"}
	},
	"required": ["userId", "action", "resourceType", "timestamp"],
	"additionalProperties": false
}`

const appendTimeout = 5 * time.Second

type Logger struct {
	es     *database.ElasticsearchClient
	index  string
	log    logger.Logger
	schema *gojsonschema.Schema
}

func New(es *database.ElasticsearchClient, index string, log logger.Logger) *Logger {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchema))
	if err != nil {
		// The schema is a compile-time constant; failing to parse it is a
		// programming error, but audit must stay best-effort even then.
		log.Error("audit event schema failed to compile", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &Logger{
		es:     es,
		index:  index,
		log:    log.WithFields(map[string]interface{}{"component": "audit"}),
		schema: schema,
	}
}

// Append writes one event to the audit index. Errors never propagate.
func (l *Logger) Append(ctx context.Context, event models.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		l.log.Warn("audit event marshal failed", map[string]interface{}{
			"action": event.Action,
			"error":  err.Error(),
		})
		return
	}

	if l.schema != nil {
		result, err := l.schema.Validate(gojsonschema.NewBytesLoader(body))
		if err == nil && !result.Valid() {
			l.log.Warn("audit event failed schema validation", map[string]interface{}{
				"action": event.Action,
				"errors": validationErrors(result),
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if err := l.es.Index(ctx, l.index, bytes.NewReader(body)); err != nil {
		l.log.WithError(errors.NewAuditWriteFailedError(err)).Warn(
			"audit append failed", map[string]interface{}{
				"action": event.Action,
				"userId": event.UserID,
			})
	}
}

// LogFinding appends a security finding as an audit event.
func (l *Logger) LogFinding(ctx context.Context, f models.SecurityFinding) {
	details := map[string]interface{}{
		"findingId": f.ID,
		"severity":  string(f.Severity),
	}
	for k, v := range f.Details {
		details[k] = v
	}
	if f.SessionID != "" {
		details["sessionId"] = f.SessionID
	}

	l.Append(ctx, models.AuditEvent{
		UserID:       f.UserID,
		Action:       string(f.Kind),
		ResourceType: "session",
		Details:      details,
		Timestamp:    f.Timestamp,
	})
}

func validationErrors(result *gojsonschema.Result) []string {
	out := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, e.String())
	}
	return out
}
