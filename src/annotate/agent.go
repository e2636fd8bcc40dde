package annotate

import (
	"context"
	"encoding/json"
	"fmt"

	"kiln-runner/src/broker"
	"kiln-runner/src/contracts"
	"kiln-runner/src/logger"
	"kiln-runner/src/store"
)

// Agent consumes log chunks and publishes annotations. With a store it
// also persists each annotation so they survive broker retention.
type Agent struct {
	broker broker.Broker
	store  store.Store
	logger logger.Logger
}

// NewAgent creates an annotation agent. store may be nil when a
// downstream consumer owns persistence.
func NewAgent(brk broker.Broker, st store.Store, log logger.Logger) *Agent {
	return &Agent{
		broker: brk,
		store:  st,
		logger: log,
	}
}

// Run starts the agent's main loop. It subscribes to kiln.logs.raw and
// processes incoming chunks until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("[AnnotateAgent] Starting...")

	msgChan, err := a.broker.Subscribe(ctx, contracts.TopicLogsRaw, "kiln-annotate")
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicLogsRaw, err)
	}

	a.logger.Info("[AnnotateAgent] Listening for log chunks on '%s' topic...", contracts.TopicLogsRaw)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("[AnnotateAgent] Message channel closed, shutting down")
				return nil
			}

			if err := a.processChunk(ctx, msg); err != nil {
				a.logger.Error("[AnnotateAgent] Error processing chunk: %v", err)
			}

		case <-ctx.Done():
			a.logger.Info("[AnnotateAgent] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// processChunk matches a single log chunk and publishes the findings.
func (a *Agent) processChunk(ctx context.Context, msg broker.Message) error {
	var chunk contracts.LogChunk
	if err := json.Unmarshal(msg.Value, &chunk); err != nil {
		return fmt.Errorf("failed to unmarshal chunk: %w", err)
	}

	a.logger.Debug("[AnnotateAgent] Processing chunk %d/%d for job '%s'",
		chunk.ChunkIndex+1, chunk.TotalChunks, chunk.JobName)

	annotations := AnalyzeChunk(chunk)
	if len(annotations) == 0 {
		return nil
	}

	a.logger.Info("[AnnotateAgent] Found %d issue(s) in chunk %d/%d of job '%s'",
		len(annotations), chunk.ChunkIndex+1, chunk.TotalChunks, chunk.JobName)

	for i := range annotations {
		ann := &annotations[i]

		if a.store != nil {
			if err := a.store.SaveAnnotation(ctx, ann); err != nil {
				a.logger.Error("[AnnotateAgent] Failed to save annotation: %v", err)
			}
		}

		data, err := json.Marshal(ann)
		if err != nil {
			a.logger.Error("[AnnotateAgent] Failed to marshal annotation: %v", err)
			continue
		}
		if err := a.broker.Publish(ctx, contracts.TopicAnnotations, ann.RunID, data); err != nil {
			a.logger.Error("[AnnotateAgent] Failed to publish annotation: %v", err)
			continue
		}

		a.logger.Debug("[AnnotateAgent] Published %s annotation from matcher '%s'",
			ann.Severity, ann.Matcher)
	}

	return nil
}
