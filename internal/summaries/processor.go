package summaries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/internal/assistant"
	"github.com/zenro-academy/liveclass/pkg/queue"
)

// errUnavailable marks a summary the model could not produce; the job is retried.
var errUnavailable = errors.New("summary unavailable")

// JobSource hands out jobs and takes failed ones back.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor runs summary jobs: summarize the transcript, store the document.
type Processor struct {
	summarizer Summarizer
	store      Store
	jobs       JobSource
	backoff    time.Duration
	logger     *zap.Logger
}

// NewProcessor creates a summary job processor.
func NewProcessor(summarizer Summarizer, store Store, jobs JobSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		summarizer: summarizer,
		store:      store,
		jobs:       jobs,
		backoff:    queue.RetryBackoff,
		logger:     logger,
	}
}

// Process executes one summary job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSummary {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SummaryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	summary := p.summarizer.Summarize(ctx, payload.Transcript)
	if summary == assistant.SummaryUnavailable {
		return errUnavailable
	}
	if err := p.store.PutSummary(ctx, payload.Room, job.ID, Document(payload.Topic, job.CreatedAt, summary)); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	p.logger.Info("class summary stored", zap.String("job_id", job.ID), zap.String("room", payload.Room))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("summary worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Document renders the stored Markdown for a class summary.
func Document(topic string, at time.Time, summary string) string {
	if topic == "" {
		topic = "Untitled class"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Class Summary: %s\n\n", topic)
	if !at.IsZero() {
		fmt.Fprintf(&b, "_Generated %s_\n\n", at.UTC().Format(time.RFC1123))
	}
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n")
	return b.String()
}
