package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/notify"
	"github.com/medsociety/portal/pkg/queue"
)

type memQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (q *memQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return j, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(time.Millisecond):
	}
	return nil, nil
}

func (q *memQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

type sentMail struct {
	to  string
	msg *notify.Message
}

type memMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *memMailer) Send(_ context.Context, to string, msg *notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, msg})
	return nil
}

type memLogs struct {
	mu   sync.Mutex
	logs []*models.EmailLog
}

func (l *memLogs) Create(_ context.Context, e *models.EmailLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, e)
	return nil
}

type memEvents map[uuid.UUID]*models.Event

func (m memEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func newProcessor(t *testing.T, q JobQueue, mailer notify.Mailer, logs EmailLogger, events EventLookup) *EmailProcessor {
	r, err := notify.NewRenderer()
	require.NoError(t, err)
	p := NewEmailProcessor(q, r, mailer, logs, events, EmailConfig{SocietyName: "Society Secretariat", Currency: "KES"}, nil)
	p.backoff = time.Millisecond
	return p
}

func receiptJob(t *testing.T, eventID uuid.UUID) *queue.Job {
	regID := uuid.New()
	job, err := queue.NewJob(queue.JobTypeEmail, queue.EmailPayload{
		EmailType:      models.EmailTypePaymentReceipt,
		RecipientEmail: "amina@example.com",
		EventID:        &eventID,
		RegistrationID: &regID,
		Data: map[string]string{
			"first_name":         "Amina",
			"last_name":          "Otieno",
			"amount_cents":       "250000",
			"merchant_reference": "EVT-ref",
		},
	})
	require.NoError(t, err)
	return job
}

func TestEmailProcessor_Process(t *testing.T) {
	eventID := uuid.New()
	events := memEvents{eventID: {ID: eventID, Title: "Annual Congress", Venue: "KICC",
		StartsAt: time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)}}
	mailer, logs := &memMailer{}, &memLogs{}
	p := newProcessor(t, &memQueue{}, mailer, logs, events)

	require.NoError(t, p.Process(context.Background(), receiptJob(t, eventID)))

	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, "amina@example.com", sent.to)
	assert.Equal(t, "Payment received: Annual Congress", sent.msg.Subject)
	assert.Contains(t, sent.msg.Text, "KES 2,500.00")
	assert.Contains(t, sent.msg.Text, "KICC")

	require.Len(t, logs.logs, 1)
	assert.Equal(t, models.EmailLogStatusSent, logs.logs[0].Status)
	assert.NotNil(t, logs.logs[0].SentAt)
	assert.Equal(t, &eventID, logs.logs[0].EventID)
}

func TestEmailProcessor_SendFailureIsLogged(t *testing.T) {
	mailer, logs := &memMailer{err: errors.New("throttled")}, &memLogs{}
	p := newProcessor(t, &memQueue{}, mailer, logs, nil)

	err := p.Process(context.Background(), receiptJob(t, uuid.New()))
	require.Error(t, err)
	require.Len(t, logs.logs, 1)
	assert.Equal(t, models.EmailLogStatusFailed, logs.logs[0].Status)
	assert.Equal(t, "throttled", logs.logs[0].ErrorMessage)
	assert.Nil(t, logs.logs[0].SentAt)
}

func TestEmailProcessor_RejectsBadJobs(t *testing.T) {
	p := newProcessor(t, &memQueue{}, &memMailer{}, nil, nil)
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, &queue.Job{Type: "recording_upload"}))
	assert.Error(t, p.Process(ctx, &queue.Job{Type: queue.JobTypeEmail, Payload: []byte("{")}))

	job, err := queue.NewJob(queue.JobTypeEmail, queue.EmailPayload{EmailType: "newsletter"})
	require.NoError(t, err)
	assert.Error(t, p.Process(ctx, job))
}

func TestEmailProcessor_RunRetriesFailures(t *testing.T) {
	q := &memQueue{}
	q.jobs = []*queue.Job{receiptJob(t, uuid.New())}
	mailer := &memMailer{err: errors.New("down")}
	p := newProcessor(t, q, mailer, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, q.retried[0].Attempt)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "2,500.00", FormatAmount(250000))
	assert.Equal(t, "1,234,567.89", FormatAmount(123456789))
	assert.Equal(t, "-10.50", FormatAmount(-1050))
}
