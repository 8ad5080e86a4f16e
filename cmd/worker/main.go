// Worker consumes audit events from Kafka and ships them to Loki and,
// optionally, to an OTLP log collector.
// Set KAFKA_BROKERS, AUDIT_KAFKA_TOPIC, KAFKA_GROUP_ID, LOKI_URL, and
// optionally OTLP_ENDPOINT.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"medilink/backend/internal/audit"
	"medilink/backend/internal/audit/loki"
	auditotel "medilink/backend/internal/audit/otel"
	"medilink/backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.AuditKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("worker: LOKI_URL is required")
	}

	topic := cfg.AuditKafkaTopic
	if topic == "" {
		topic = "medilink-audit"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "medilink-audit-worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	providers, err := auditotel.NewProviders(ctx, cfg.OTLPEndpoint, "medilink-audit-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("worker: otel: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: otel shutdown: %v", err)
		}
	}()
	otelEmitter := auditotel.NewEventEmitter(providers.LoggerProvider)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Printf("worker: consuming from %s (group %s), pushing to %s", topic, groupID, cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := loki.PushEventJSON(pushCtx, cfg.LokiURL, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
		var event audit.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("worker: malformed event: %v", err)
		} else if err := otelEmitter.Emit(pushCtx, &event); err != nil {
			log.Printf("worker: otel emit failed: %v", err)
		}
		pushCancel()
	}
}
