package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/notify"
	"github.com/medsociety/portal/pkg/queue"
)

// JobQueue is the queue side of the worker loop.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// EmailLogger records delivery attempts.
type EmailLogger interface {
	Create(ctx context.Context, l *models.EmailLog) error
}

// EventLookup fills event details into registration emails.
type EventLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// EmailConfig holds values every template can use.
type EmailConfig struct {
	SocietyName string
	Currency    string
}

// EmailProcessor processes email jobs: render, send, log.
type EmailProcessor struct {
	queue    JobQueue
	renderer *notify.Renderer
	mailer   notify.Mailer
	logs     EmailLogger
	events   EventLookup
	cfg      EmailConfig
	backoff  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewEmailProcessor creates an email processor. events may be nil.
func NewEmailProcessor(q JobQueue, renderer *notify.Renderer, mailer notify.Mailer, logs EmailLogger, events EventLookup, cfg EmailConfig, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{
		queue:    q,
		renderer: renderer,
		mailer:   mailer,
		logs:     logs,
		events:   events,
		cfg:      cfg,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
		logger:   logger,
	}
}

// Process executes one email job. Every attempt that reaches the mailer is logged.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	msg, err := p.renderer.Render(payload.EmailType, p.templateData(ctx, payload))
	if err != nil {
		return fmt.Errorf("render %s: %w", payload.EmailType, err)
	}

	entry := &models.EmailLog{
		EventID:        payload.EventID,
		RegistrationID: payload.RegistrationID,
		EmailType:      payload.EmailType,
		RecipientEmail: payload.RecipientEmail,
		Subject:        msg.Subject,
		Status:         models.EmailLogStatusSent,
	}
	sendErr := p.mailer.Send(ctx, payload.RecipientEmail, msg)
	if sendErr != nil {
		entry.Status = models.EmailLogStatusFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		now := p.now()
		entry.SentAt = &now
	}
	if p.logs != nil {
		if err := p.logs.Create(ctx, entry); err != nil {
			p.logger.Warn("write email log", zap.Error(err), zap.String("job_id", job.ID))
		}
	}
	if sendErr != nil {
		return fmt.Errorf("send: %w", sendErr)
	}
	p.logger.Info("email sent", zap.String("job_id", job.ID), zap.String("email_type", payload.EmailType))
	return nil
}

// templateData merges the job data with event details and formatted amounts.
func (p *EmailProcessor) templateData(ctx context.Context, payload queue.EmailPayload) map[string]string {
	data := map[string]string{
		"society_name": p.cfg.SocietyName,
		"currency":     p.cfg.Currency,
	}
	for k, v := range payload.Data {
		data[k] = v
	}
	if cents, err := strconv.ParseInt(data["amount_cents"], 10, 64); err == nil {
		data["amount"] = FormatAmount(cents)
	}
	if p.events != nil && payload.EventID != nil {
		e, err := p.events.GetByID(ctx, *payload.EventID)
		if err != nil {
			p.logger.Warn("load event for email", zap.Error(err), zap.String("event_id", payload.EventID.String()))
		} else {
			data["event_title"] = e.Title
			data["event_starts_at"] = e.StartsAt.Format("Monday, 2 January 2006 15:04")
			data["event_venue"] = e.Venue
		}
	}
	return data
}

// FormatAmount renders minor units as "12,345.67".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	for i := len(whole) - 3; i > 0; i -= 3 {
		whole = whole[:i] + "," + whole[i:]
	}
	return fmt.Sprintf("%s%s.%02d", sign, whole, cents%100)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
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
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *EmailProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
