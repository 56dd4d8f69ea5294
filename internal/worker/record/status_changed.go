package record

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/config"
	"github.com/calderaware/refinery/internal/messaging"
	recordsvc "github.com/calderaware/refinery/internal/service/record"
	"github.com/calderaware/refinery/internal/worker"
)

var workerTracer = otel.Tracer("github.com/calderaware/refinery/worker/record")

// Module registers record-related worker handlers.
var Module = fx.Module("worker_record",
	fx.Provide(
		fx.Annotate(
			NewStatusChangedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewStatusChangedHandler sets up a worker handler that audits persisted
// status changes, including the audit reason on reverts.
func NewStatusChangedHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.records.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event recordsvc.StatusChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode status changed", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		fields := []zap.Field{
			zap.String("id", event.ID),
			zap.String("from", event.From),
			zap.String("to", event.To),
		}
		if event.DamageReason != "" {
			fields = append(fields, zap.String("damage_reason", event.DamageReason))
		}
		if event.AuditReason != "" {
			fields = append(fields, zap.String("audit_reason", event.AuditReason))
		}
		logger.Info("status change event processed", fields...)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
