package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/LL-LLLu/Electric-RAG-sub001/pkg/natsutil"
)

const (
	// BatchSubject is the NATS subject document processors publish batches to.
	BatchSubject = "engine.ingest.batch"
	// DLQSubject receives batches that exhausted their retries.
	DLQSubject = "engine.ingest.batch.dlq"
	// ReportSubject carries batch reports for downstream auditing.
	ReportSubject = "engine.ingest.report"
	// MaxRetries before a batch goes to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// dlqMessage wraps a failed batch with its terminal error.
type dlqMessage struct {
	Batch   Batch  `json:"batch"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes the coordinator to the batch subject with retry
// and DLQ handling. Recoverable per-candidate failures live inside the
// report and do not trigger a retry; only a batch-level error does.
func StartConsumer(nc *nats.Conn, coord *Coordinator, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.Subscribe(BatchSubject, func(msg *nats.Msg) {
		var batch Batch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			log.Error("ingest: unmarshal batch failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		report, err := coord.IngestBatch(ctx, batch)
		if err != nil {
			retries++
			log.Error("ingest: batch failed",
				"project", batch.Project,
				"error", err,
				"retry", retries,
			)
			if retries >= MaxRetries {
				dlq := dlqMessage{Batch: batch, Error: err.Error(), Retries: retries}
				if perr := natsutil.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
					log.Error("ingest: DLQ publish failed", "error", perr)
				}
			} else {
				retryMsg := nats.NewMsg(BatchSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
				if perr := nc.PublishMsg(retryMsg); perr != nil {
					log.Error("ingest: retry publish failed", "error", perr)
				}
			}
			if msg.Reply != "" {
				_ = msg.Ack()
			}
			return
		}

		if perr := natsutil.Publish(ctx, nc, ReportSubject, report); perr != nil {
			log.Warn("ingest: report publish failed", "error", perr)
		}
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
