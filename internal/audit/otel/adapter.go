package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"medilink/backend/internal/audit"
)

// NewEventEmitter returns an Emitter that sends audit events as OTel log
// records via the given LoggerProvider. If provider is nil, returns a no-op
// emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("medilink.audit")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *audit.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// newEventEmitterWithLogger is a seam for tests to capture emitted records.
func newEventEmitterWithLogger(logger otellog.Logger) audit.Emitter {
	return &otelEmitter{logger: logger}
}

// Emit converts the audit event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	if len(event.Metadata) > 0 {
		if meta, err := json.Marshal(event.Metadata); err == nil {
			rec.SetBody(otellog.BytesValue(meta))
		}
	}
	if event.Guard != "" {
		rec.AddAttributes(otellog.String("guard", event.Guard))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.DeviceID != "" {
		rec.AddAttributes(otellog.String("device_id", event.DeviceID))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.Action != "" {
		rec.AddAttributes(otellog.String("action", event.Action))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
