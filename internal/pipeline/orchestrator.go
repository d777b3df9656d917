package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spaces-summarizer/internal/models"
	"spaces-summarizer/internal/telemetry"
)

// ErrNoPendingRequest is returned when a signature arrives for a
// requester with no pipeline awaiting payment.
var ErrNoPendingRequest = errors.New("no request awaiting payment")

// Verifier confirms and consumes a payment proof.
type Verifier interface {
	Verify(ctx context.Context, signature, requester, expectedSender string, tier models.Tier, now time.Time) (*models.PaymentProof, error)
}

// JobService submits work to the external summarization service.
type JobService interface {
	Submit(ctx context.Context, resourceURL string, tier models.Tier) (string, error)
}

// JobPoller tracks a submitted job to a terminal state.
type JobPoller interface {
	Poll(ctx context.Context, jobID string, progress func(elapsed time.Duration)) (models.Job, error)
}

// RecordStore persists delivered summaries and the audit trail.
type RecordStore interface {
	CreateSummary(ctx context.Context, owner, content string, tier models.Tier, sourceURL string) (string, error)
	GetSummary(ctx context.Context, id string) (models.SummaryRecord, error)
	EditSummary(ctx context.Context, id, editor, newContent string, elevated bool) error
	AppendAudit(ctx context.Context, requester, event, detail string) error
}

// LeaseRegistry enforces one active pipeline per requester.
type LeaseRegistry interface {
	Acquire(ctx context.Context, requester string) (string, error)
	Release(ctx context.Context, requester, token string) error
	Validate(ctx context.Context, requester, token string) (bool, error)
}

// Notifier delivers pipeline messages to the originating chat. Send
// returns a message id that Edit can update in place.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// Archiver stores a copy of delivered summaries. Archival is best
// effort and never fails the pipeline.
type Archiver interface {
	Archive(ctx context.Context, summaryID, content string) error
}

// run is the mutable state of one requester's pipeline. Fields are
// guarded by the orchestrator mutex; the polling goroutine takes a
// snapshot of what it needs before starting.
type run struct {
	req          models.SummarizationRequest
	state        string
	leaseToken   string
	jobID        string
	summaryID    string
	failReason   string
	publicReason string
	startedAt    time.Time
	lastPollAt   *time.Time
	statusMsgID  int
	cancel       context.CancelFunc
}

// Orchestrator sequences verification, submission, polling, delivery,
// and post-hoc editing. Stages for one requester are strictly
// sequential; independent requesters run concurrently.
type Orchestrator struct {
	verifier Verifier
	jobs     JobService
	poller   JobPoller
	store    RecordStore
	leases   LeaseRegistry
	notifier Notifier
	archiver Archiver
	elevated func(userID string) bool
	logger   *zap.SugaredLogger

	mu   sync.Mutex
	runs map[string]*run
}

func NewOrchestrator(verifier Verifier, jobs JobService, poller JobPoller, store RecordStore, leases LeaseRegistry, notifier Notifier, archiver Archiver, elevated func(string) bool, logger *zap.SugaredLogger) *Orchestrator {
	if elevated == nil {
		elevated = func(string) bool { return false }
	}
	return &Orchestrator{
		verifier: verifier,
		jobs:     jobs,
		poller:   poller,
		store:    store,
		leases:   leases,
		notifier: notifier,
		archiver: archiver,
		elevated: elevated,
		logger:   logger,
		runs:     map[string]*run{},
	}
}

// Begin opens a pipeline for the requester and moves it to
// awaiting_payment. Returns ErrAlreadyInProgress if the requester holds
// a non-terminal pipeline; no payment proof is consumed in that case.
func (o *Orchestrator) Begin(ctx context.Context, req models.SummarizationRequest) error {
	token, err := o.leases.Acquire(ctx, req.Requester)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.runs[req.Requester] = &run{
		req:        req,
		state:      models.StateAwaitingPayment,
		leaseToken: token,
		startedAt:  time.Now(),
	}
	o.mu.Unlock()

	telemetry.PipelinesStarted.Inc()
	telemetry.ActivePipelines.Inc()
	_ = o.store.AppendAudit(ctx, req.Requester, "pipeline_started", fmt.Sprintf("url=%s tier=%s", req.ResourceURL, req.Tier))
	return nil
}

// SubmitProof drives the requester's pending pipeline through payment
// verification and, on acceptance, job submission and polling. Exactly
// one terminal notification is produced per pipeline instance.
func (o *Orchestrator) SubmitProof(ctx context.Context, requester, signature string) error {
	o.mu.Lock()
	r, ok := o.runs[requester]
	if !ok || r.state != models.StateAwaitingPayment {
		o.mu.Unlock()
		return ErrNoPendingRequest
	}
	req := r.req
	token := r.leaseToken
	o.mu.Unlock()

	valid, err := o.leases.Validate(ctx, requester, token)
	if err == nil && !valid {
		o.finish(ctx, requester, models.ErrStaleLease)
		o.notifyFailure(ctx, req.ChatID, requester, 0, models.ErrStaleLease)
		return models.ErrStaleLease
	}

	proof, err := o.verifier.Verify(ctx, signature, requester, "", req.Tier, time.Now())
	if err != nil {
		if pre, rejected := models.AsPaymentRejected(err); rejected {
			telemetry.PaymentsRejected.WithLabelValues(string(pre.Reason)).Inc()
		}
		o.finish(ctx, requester, err)
		o.notifyFailure(ctx, req.ChatID, requester, 0, err)
		return err
	}
	telemetry.PaymentsAccepted.Inc()
	if !o.advance(requester, models.StatePaymentVerified) {
		// Cancelled while verification was in flight. The proof is spent
		// (no refund) and the cancel already produced the terminal
		// message; abort before the job service is contacted.
		return models.ErrCancelled
	}
	_ = o.store.AppendAudit(ctx, requester, "payment_verified", fmt.Sprintf("signature=%s amount=%d", proof.Signature, proof.Amount))

	// The proof is consumed from here on. Submission failure is terminal
	// and never retried: retrying would charge twice for one attempt.
	jobID, err := o.jobs.Submit(ctx, req.ResourceURL, req.Tier)
	if err != nil {
		o.finish(ctx, requester, err)
		o.notifyFailure(ctx, req.ChatID, requester, 0, err)
		return err
	}
	if !o.advance(requester, models.StateJobSubmitted) {
		// The external job cannot be retracted; its eventual result is
		// discarded as stale.
		return models.ErrCancelled
	}
	_ = o.store.AppendAudit(ctx, requester, "job_submitted", "job_id="+jobID)

	msgID, sendErr := o.notifier.Send(ctx, req.ChatID, models.MsgProcessing)
	if sendErr != nil {
		o.logger.Warnw("send processing message", "requester", requester, "error", sendErr)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	r, ok = o.runs[requester]
	if !ok || terminal(r.state) {
		o.mu.Unlock()
		cancel()
		return models.ErrCancelled
	}
	r.jobID = jobID
	r.statusMsgID = msgID
	r.cancel = cancel
	r.state = models.StateJobRunning
	o.mu.Unlock()

	go o.track(pollCtx, requester, jobID, req, token, msgID)
	return nil
}

// track owns the polling loop for one job and performs delivery.
func (o *Orchestrator) track(ctx context.Context, requester, jobID string, req models.SummarizationRequest, token string, msgID int) {
	job, err := o.poller.Poll(ctx, jobID, func(elapsed time.Duration) {
		now := time.Now()
		o.mu.Lock()
		if r, ok := o.runs[requester]; ok {
			r.lastPollAt = &now
		}
		o.mu.Unlock()
		if msgID != 0 {
			// Progress is shown by editing the status message in place,
			// not by sending new ones. Best effort.
			text := fmt.Sprintf("%s (%s elapsed)", models.MsgProcessing, elapsed.Truncate(time.Second))
			if err := o.notifier.Edit(ctx, req.ChatID, msgID, text); err != nil {
				o.logger.Debugw("progress edit", "requester", requester, "error", err)
			}
		}
	})
	if err != nil {
		if errors.Is(err, models.ErrJobTimedOut) {
			telemetry.JobsTimedOut.Inc()
		}
		o.finish(ctx, requester, err)
		o.notifyFailure(ctx, req.ChatID, requester, msgID, err)
		return
	}

	// A result arriving after the lease lapsed belongs to a pipeline the
	// system already gave up on; discard it.
	valid, verr := o.leases.Validate(ctx, requester, token)
	if verr == nil && !valid {
		o.finish(ctx, requester, models.ErrStaleLease)
		o.notifyFailure(ctx, req.ChatID, requester, msgID, models.ErrStaleLease)
		return
	}

	summaryID, err := o.store.CreateSummary(ctx, requester, job.Result, req.Tier, req.ResourceURL)
	if err != nil {
		o.logger.Errorw("persist summary", "requester", requester, "error", err)
		o.finish(ctx, requester, err)
		o.notifyFailure(ctx, req.ChatID, requester, msgID, err)
		return
	}
	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, summaryID, job.Result); err != nil {
			o.logger.Warnw("archive summary", "summary_id", summaryID, "error", err)
		}
	}

	o.mu.Lock()
	if r, ok := o.runs[requester]; ok {
		r.summaryID = summaryID
		r.state = models.StateDelivered
	}
	o.mu.Unlock()

	telemetry.SummariesDelivered.Inc()
	telemetry.ActivePipelines.Dec()
	_ = o.store.AppendAudit(ctx, requester, "delivered", "summary_id="+summaryID)
	if err := o.leases.Release(ctx, requester, token); err != nil {
		o.logger.Warnw("release lease", "requester", requester, "error", err)
	}

	text := fmt.Sprintf(models.MsgDelivered, job.Result) + "\n\nSummary ID: " + summaryID
	o.deliverText(ctx, req.ChatID, msgID, text)
}

// Cancel stops the requester's in-flight pipeline. It cannot retract
// work already dispatched to the external service.
func (o *Orchestrator) Cancel(requester string) error {
	o.mu.Lock()
	r, ok := o.runs[requester]
	if !ok || terminal(r.state) {
		o.mu.Unlock()
		return ErrNoPendingRequest
	}
	cancel := r.cancel
	state := r.state
	chatID := r.req.ChatID
	o.mu.Unlock()

	if cancel != nil {
		// The polling goroutine observes the cancellation and finishes
		// the pipeline as cancelled.
		cancel()
		return nil
	}
	// Not yet polling (awaiting payment or verifying): finish directly.
	ctx := context.Background()
	o.finish(ctx, requester, models.ErrCancelled)
	if state == models.StateAwaitingPayment {
		o.notifyFailure(ctx, chatID, requester, 0, models.ErrCancelled)
	}
	return nil
}

// EditSummary applies a post-hoc edit on behalf of the editor. The edit
// produces its own response and does not alter the original delivery.
func (o *Orchestrator) EditSummary(ctx context.Context, editor, summaryID, newContent string) error {
	err := o.store.EditSummary(ctx, summaryID, editor, newContent, o.elevated(editor))
	if err != nil {
		return err
	}
	telemetry.EditsAccepted.Inc()
	_ = o.store.AppendAudit(ctx, editor, "summary_edited", "summary_id="+summaryID)
	return nil
}

// Status returns a snapshot of the requester's most recent pipeline.
func (o *Orchestrator) Status(requester string) (models.PipelineStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[requester]
	if !ok {
		return models.PipelineStatus{}, false
	}
	return models.PipelineStatus{
		Requester:        requester,
		State:            r.state,
		ResourceURL:      r.req.ResourceURL,
		Tier:             r.req.Tier,
		JobID:            r.jobID,
		SummaryID:        r.summaryID,
		FailReason:       r.failReason,
		PublicFailReason: r.publicReason,
		StartedAt:        r.startedAt,
		LastPollAt:       r.lastPollAt,
	}, true
}

// Awaiting reports whether the requester's pipeline expects a payment
// signature next.
func (o *Orchestrator) Awaiting(requester string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[requester]
	return ok && r.state == models.StateAwaitingPayment
}

// advance moves the run forward unless it reached a terminal state while
// the caller was off doing I/O. A false return means the pipeline was
// finished out from under the caller, which must then stop quietly.
func (o *Orchestrator) advance(requester, state string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[requester]
	if !ok || terminal(r.state) {
		return false
	}
	r.state = state
	return true
}

// finish moves the pipeline to failed, records why, and releases the
// lease. The consumed proof is not refunded: once verified, the cost is
// borne by the requester regardless of downstream outcome.
func (o *Orchestrator) finish(ctx context.Context, requester string, cause error) {
	o.mu.Lock()
	r, ok := o.runs[requester]
	if ok && terminal(r.state) {
		// Cancel racing a completed run, or a double failure path.
		ok = false
	}
	var token string
	if ok {
		r.state = models.StateFailed
		r.failReason = cause.Error()
		r.publicReason = models.UserMessage(cause)
		token = r.leaseToken
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	telemetry.PipelinesFailed.Inc()
	telemetry.ActivePipelines.Dec()
	_ = o.store.AppendAudit(ctx, requester, "pipeline_failed", cause.Error())
	if err := o.leases.Release(ctx, requester, token); err != nil {
		o.logger.Warnw("release lease", "requester", requester, "error", err)
	}
	o.logger.Infow("pipeline failed", "requester", requester, "cause", cause)
}

func (o *Orchestrator) notifyFailure(ctx context.Context, chatID int64, requester string, msgID int, cause error) {
	text := models.UserMessage(cause)
	if o.elevated(requester) {
		text = models.OperatorMessage(cause)
	}
	o.deliverText(ctx, chatID, msgID, text)
}

// deliverText edits the in-flight status message when one exists,
// otherwise sends a fresh message.
func (o *Orchestrator) deliverText(ctx context.Context, chatID int64, msgID int, text string) {
	if msgID != 0 {
		if err := o.notifier.Edit(ctx, chatID, msgID, text); err == nil {
			return
		}
	}
	if _, err := o.notifier.Send(ctx, chatID, text); err != nil {
		o.logger.Errorw("deliver message", "chat_id", chatID, "error", err)
	}
}

func terminal(state string) bool {
	return state == models.StateDelivered || state == models.StateFailed
}
