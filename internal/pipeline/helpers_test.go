package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spaces-summarizer/internal/models"
)

// FakeVerifier approves or rejects scripted signatures and tracks
// consumption the same way the real consumed-set does: first caller
// wins, later callers see already_used.
type FakeVerifier struct {
	mu       sync.Mutex
	rejects  map[string]models.RejectionReason
	consumed map[string]bool
	calls    int
	entered  chan struct{} // signalled when Verify begins, if set
	gate     chan struct{} // Verify blocks until closed, if set
}

func NewFakeVerifier() *FakeVerifier {
	return &FakeVerifier{
		rejects:  map[string]models.RejectionReason{},
		consumed: map[string]bool{},
	}
}

func (f *FakeVerifier) RejectWith(signature string, reason models.RejectionReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[signature] = reason
}

func (f *FakeVerifier) Consumed(signature string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumed[signature]
}

func (f *FakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeVerifier) Verify(_ context.Context, signature, _, sender string, _ models.Tier, _ time.Time) (*models.PaymentProof, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if reason, ok := f.rejects[signature]; ok {
		return nil, &models.PaymentRejectedError{Reason: reason}
	}
	if f.consumed[signature] {
		return nil, &models.PaymentRejectedError{Reason: models.RejectionAlreadyUsed}
	}
	f.consumed[signature] = true
	return &models.PaymentProof{Signature: signature, Sender: sender, Amount: 1000}, nil
}

// FakeJobService records submissions and can be made to fail.
type FakeJobService struct {
	mu      sync.Mutex
	fail    bool
	submits int
}

func (f *FakeJobService) FailSubmissions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *FakeJobService) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *FakeJobService) Submit(_ context.Context, _ string, _ models.Tier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("%w: service rejected the resource", models.ErrSubmissionFailed)
	}
	f.submits++
	return fmt.Sprintf("job-%d", f.submits), nil
}

// FakePoller resolves each poll from a scripted outcome, optionally
// blocking until released so tests can cancel mid-flight.
type FakePoller struct {
	job   models.Job
	err   error
	block chan struct{} // when non-nil, Poll waits for close or ctx
}

func (f *FakePoller) Poll(ctx context.Context, jobID string, _ func(time.Duration)) (models.Job, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return models.Job{ID: jobID}, models.ErrCancelled
		case <-f.block:
		}
	}
	job := f.job
	job.ID = jobID
	return job, f.err
}

// MemoryRecordStore implements the record-store contract in memory:
// owner-gated, append-only edit history with last-writer-wins content.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]*models.SummaryRecord
	audit   []models.AuditLog
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: map[string]*models.SummaryRecord{}}
}

func (m *MemoryRecordStore) CreateSummary(_ context.Context, owner, content string, tier models.Tier, sourceURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.records[id] = &models.SummaryRecord{
		ID:        id,
		Owner:     owner,
		Content:   content,
		Tier:      tier,
		SourceURL: sourceURL,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *MemoryRecordStore) GetSummary(_ context.Context, id string) (models.SummaryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return models.SummaryRecord{}, models.ErrRecordNotFound
	}
	return *rec, nil
}

func (m *MemoryRecordStore) EditSummary(_ context.Context, id, editor, newContent string, elevated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	if rec.Owner != editor && !elevated {
		return models.ErrNotOwner
	}
	rec.Edits = append(rec.Edits, models.SummaryEdit{
		Editor:       editor,
		PriorContent: rec.Content,
		EditedAt:     time.Now(),
	})
	rec.Content = newContent
	return nil
}

func (m *MemoryRecordStore) AppendAudit(_ context.Context, requester, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, models.AuditLog{Requester: requester, Event: event, Detail: detail, Recorded: time.Now()})
	return nil
}

// MemoryLeases is an in-process lease registry.
type MemoryLeases struct {
	mu     sync.Mutex
	held   map[string]string
	broken map[string]bool // leases forced stale
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{held: map[string]string{}, broken: map[string]bool{}}
}

func (m *MemoryLeases) Acquire(_ context.Context, requester string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[requester]; ok {
		return "", models.ErrAlreadyInProgress
	}
	token := uuid.New().String()
	m.held[requester] = token
	return token, nil
}

func (m *MemoryLeases) Release(_ context.Context, requester, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[requester] == token {
		delete(m.held, requester)
	}
	return nil
}

func (m *MemoryLeases) Validate(_ context.Context, requester, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken[requester] {
		return false, nil
	}
	return m.held[requester] == token, nil
}

func (m *MemoryLeases) Expire(requester string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken[requester] = true
	delete(m.held, requester)
}

func (m *MemoryLeases) HeldBy(requester string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[requester]
	return ok
}

// RecordingNotifier captures outbound chat messages. Terminal delivery
// arrives either as a fresh send or as an edit of the status message.
type RecordingNotifier struct {
	mu       sync.Mutex
	sends    []string
	edits    []string
	delivery chan string
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{delivery: make(chan string, 16)}
}

func (n *RecordingNotifier) Send(_ context.Context, _ int64, text string) (int, error) {
	n.mu.Lock()
	n.sends = append(n.sends, text)
	id := len(n.sends)
	n.mu.Unlock()
	if text != models.MsgProcessing {
		n.delivery <- text
	}
	return id, nil
}

func (n *RecordingNotifier) Edit(_ context.Context, _ int64, _ int, text string) error {
	n.mu.Lock()
	n.edits = append(n.edits, text)
	n.mu.Unlock()
	n.delivery <- text
	return nil
}

// WaitDelivery blocks until a terminal message arrives.
func (n *RecordingNotifier) WaitDelivery(timeout time.Duration) (string, bool) {
	select {
	case text := <-n.delivery:
		return text, true
	case <-time.After(timeout):
		return "", false
	}
}

func (n *RecordingNotifier) TerminalCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := len(n.edits)
	for _, s := range n.sends {
		if s != models.MsgProcessing {
			count++
		}
	}
	return count
}
