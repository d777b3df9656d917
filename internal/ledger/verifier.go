package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"spaces-summarizer/internal/models"
)

// Reader is the ledger read interface. It is eventually consistent: a
// transaction may be temporarily invisible, which is distinct from not
// existing at all.
type Reader interface {
	SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
	Transaction(ctx context.Context, signature string) (*TransactionResult, error)
}

// ProofConsumer atomically claims a signature. Of any number of
// concurrent claims on the same signature, exactly one succeeds.
type ProofConsumer interface {
	ConsumeProof(ctx context.Context, signature, requester string) (bool, error)
}

// Verifier confirms that a claimed token transfer is genuine,
// sufficient, recent, and not previously consumed.
type Verifier struct {
	ledger    Reader
	consumer  ProofConsumer
	recipient string
	mint      string
	window    time.Duration
	logger    *zap.SugaredLogger
}

func NewVerifier(ledger Reader, consumer ProofConsumer, recipient, mint string, window time.Duration, logger *zap.SugaredLogger) *Verifier {
	if window == 0 {
		window = models.ProofValidityWindow
	}
	return &Verifier{
		ledger:    ledger,
		consumer:  consumer,
		recipient: recipient,
		mint:      mint,
		window:    window,
		logger:    logger,
	}
}

func reject(reason models.RejectionReason, format string, args ...any) error {
	return &models.PaymentRejectedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verify validates the proof against the tier cost and consumes it on
// acceptance. Rejected proofs are never recorded and may be resubmitted.
// The consumed-set insert happens last, after all checks pass, so a
// proof that fails validation stays spendable.
func (v *Verifier) Verify(ctx context.Context, signature, requester, expectedSender string, tier models.Tier, now time.Time) (*models.PaymentProof, error) {
	status, err := v.ledger.SignatureStatus(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("signature status: %w", err)
	}
	if status == nil {
		return nil, reject(models.RejectionNotFound, "signature unknown to the ledger")
	}
	if status.Failed() {
		return nil, reject(models.RejectionMismatch, "transaction failed on chain")
	}
	if !status.Finalized() {
		return nil, reject(models.RejectionPending, "confirmation status %s", status.ConfirmationStatus)
	}

	tx, err := v.ledger.Transaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return nil, reject(models.RejectionPending, "transaction not yet visible at finalized commitment")
	}

	if tx.BlockTime == nil {
		return nil, reject(models.RejectionPending, "block time not yet available")
	}
	blockTime := time.Unix(*tx.BlockTime, 0)
	if now.Sub(blockTime) > v.window {
		return nil, reject(models.RejectionExpired, "transaction is %s old, window is %s", now.Sub(blockTime).Truncate(time.Second), v.window)
	}

	sender, recipient, amount, ok := tx.TokenTransfer(v.mint)
	if !ok {
		return nil, reject(models.RejectionMismatch, "no transfer of the expected token found")
	}
	if recipient != v.recipient {
		return nil, reject(models.RejectionMismatch, "transfer recipient is not the payment wallet")
	}
	if expectedSender != "" && sender != expectedSender {
		return nil, reject(models.RejectionMismatch, "transfer sender does not match")
	}
	if amount < tier.Cost() {
		return nil, reject(models.RejectionMismatch, "amount %d below tier cost %d", amount, tier.Cost())
	}

	inserted, err := v.consumer.ConsumeProof(ctx, signature, requester)
	if err != nil {
		return nil, fmt.Errorf("consume proof: %w", err)
	}
	if !inserted {
		return nil, reject(models.RejectionAlreadyUsed, "signature already consumed")
	}

	v.logger.Infow("payment accepted", "signature", signature, "requester", requester, "amount", amount, "tier", tier)
	return &models.PaymentProof{
		Signature: signature,
		Sender:    sender,
		Amount:    amount,
		Mint:      v.mint,
		BlockTime: blockTime,
	}, nil
}
