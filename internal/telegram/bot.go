package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"spaces-summarizer/internal/models"
	"spaces-summarizer/internal/pipeline"
	"spaces-summarizer/internal/telemetry"
)

// Transport is the slice of the Bot API the dispatcher uses.
type Transport interface {
	Updates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	Send(ctx context.Context, chatID int64, text string) (int, error)
}

// Pipeline is the orchestrator surface the bot drives.
type Pipeline interface {
	Begin(ctx context.Context, req models.SummarizationRequest) error
	SubmitProof(ctx context.Context, requester, signature string) error
	Cancel(requester string) error
	EditSummary(ctx context.Context, editor, summaryID, newContent string) error
	Awaiting(requester string) bool
	Status(requester string) (models.PipelineStatus, bool)
}

// Limiter throttles paid-pipeline commands per user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, float64, error)
}

const helpText = `Commands:
/summarize <space url> - text summary of a recorded space
/summarize_audio <space url> - audio summary of a recorded space
/edit_summary <id> <text> - replace the text of your summary
/status - state of your current request
/cancel - abandon your current request`

// Bot long-polls Telegram and routes messages into the pipeline. One
// update is handled at a time per polling loop; the pipeline itself
// runs job tracking in the background.
type Bot struct {
	transport   Transport
	pipe        Pipeline
	limiter     Limiter
	wallet      string
	window      time.Duration
	pollTimeout time.Duration
	elevated    func(userID string) bool
	logger      *zap.SugaredLogger
}

func NewBot(transport Transport, pipe Pipeline, limiter Limiter, wallet string, window time.Duration, elevated func(string) bool, logger *zap.SugaredLogger) *Bot {
	if elevated == nil {
		elevated = func(string) bool { return false }
	}
	return &Bot{
		transport:   transport,
		pipe:        pipe,
		limiter:     limiter,
		wallet:      wallet,
		window:      window,
		pollTimeout: 30 * time.Second,
		elevated:    elevated,
		logger:      logger,
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := b.transport.Updates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warnw("get updates", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			// Handlers do ledger and job-service I/O; one requester's
			// verification must not stall anyone else. Per-requester
			// safety comes from the lease and the orchestrator state
			// machine.
			go b.handleMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	requester := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "/") {
		// Free text only matters while a payment signature is expected.
		if b.pipe.Awaiting(requester) {
			b.handleSignature(ctx, requester, chatID, text)
		}
		return
	}

	fields := strings.Fields(text)
	command := fields[0]
	// Group chats address commands as /summarize@botname.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	switch command {
	case "/start", "/help":
		b.reply(ctx, chatID, helpText)
	case "/summarize":
		b.handleSummarize(ctx, requester, chatID, args, models.TierText)
	case "/summarize_audio":
		b.handleSummarize(ctx, requester, chatID, args, models.TierAudio)
	case "/edit_summary":
		b.handleEdit(ctx, requester, chatID, args)
	case "/status":
		b.handleStatus(ctx, requester, chatID)
	case "/cancel":
		if err := b.pipe.Cancel(requester); errors.Is(err, pipeline.ErrNoPendingRequest) {
			b.reply(ctx, chatID, "Nothing to cancel.")
		}
	default:
		b.reply(ctx, chatID, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleSummarize(ctx context.Context, requester string, chatID int64, args []string, tier models.Tier) {
	if b.limiter != nil {
		allowed, _, err := b.limiter.Allow(ctx, requester)
		if err != nil {
			b.logger.Warnw("rate limiter", "requester", requester, "error", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			b.reply(ctx, chatID, "Too many requests. Slow down and try again in a minute.")
			return
		}
	}
	if len(args) == 0 {
		usage := "/summarize <space url>"
		if tier == models.TierAudio {
			usage = "/summarize_audio <space url>"
		}
		b.reply(ctx, chatID, "Usage: "+usage)
		return
	}
	spaceURL, err := normalizeSpaceURL(args[0])
	if err != nil {
		b.reply(ctx, chatID, err.Error())
		return
	}

	err = b.pipe.Begin(ctx, models.SummarizationRequest{
		Requester:   requester,
		ChatID:      chatID,
		ResourceURL: spaceURL,
		Tier:        tier,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		b.reply(ctx, chatID, models.UserMessage(err))
		return
	}
	prompt := fmt.Sprintf(models.MsgPaymentPrompt, tier.Cost(), b.wallet, int(b.window.Minutes()))
	b.reply(ctx, chatID, prompt)
}

func (b *Bot) handleSignature(ctx context.Context, requester string, chatID int64, text string) {
	signature := strings.TrimSpace(text)
	if !looksLikeSignature(signature) {
		b.reply(ctx, chatID, "That does not look like a transaction signature. Paste the signature of your transfer.")
		return
	}
	// Verification outcomes, success and failure alike, are delivered by
	// the pipeline itself.
	if err := b.pipe.SubmitProof(ctx, requester, signature); errors.Is(err, pipeline.ErrNoPendingRequest) {
		b.reply(ctx, chatID, "No request is waiting for payment. Start with /summarize.")
	}
}

func (b *Bot) handleEdit(ctx context.Context, requester string, chatID int64, args []string) {
	if len(args) < 2 {
		b.reply(ctx, chatID, "Usage: /edit_summary <id> <new text>")
		return
	}
	summaryID := args[0]
	newContent := strings.Join(args[1:], " ")
	if err := b.pipe.EditSummary(ctx, requester, summaryID, newContent); err != nil {
		b.reply(ctx, chatID, models.UserMessage(err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf(models.MsgEditAccepted, summaryID))
}

func (b *Bot) handleStatus(ctx context.Context, requester string, chatID int64) {
	status, ok := b.pipe.Status(requester)
	if !ok {
		b.reply(ctx, chatID, "No request on record. Start with /summarize.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\nResource: %s\nTier: %s", status.State, status.ResourceURL, status.Tier)
	if status.SummaryID != "" {
		fmt.Fprintf(&sb, "\nSummary ID: %s", status.SummaryID)
	}
	// Raw failure detail is for elevated identities only; everyone else
	// gets the mapped category.
	if b.elevated(requester) && status.FailReason != "" {
		fmt.Fprintf(&sb, "\nReason: %s", status.FailReason)
	} else if status.PublicFailReason != "" {
		fmt.Fprintf(&sb, "\nReason: %s", status.PublicFailReason)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.transport.Send(ctx, chatID, text); err != nil {
		b.logger.Errorw("send reply", "chat_id", chatID, "error", err)
	}
}

// normalizeSpaceURL validates a recorded-space link, tolerating a missing
// scheme and both twitter.com and x.com hosts.
func normalizeSpaceURL(raw string) (string, error) {
	u := raw
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !strings.Contains(u, "twitter.com/i/spaces/") && !strings.Contains(u, "x.com/i/spaces/") {
		return "", errors.New("That is not a space link. Expected something like https://x.com/i/spaces/<id>.")
	}
	return u, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// looksLikeSignature checks the base58 shape of an ed25519 signature
// without touching the chain.
func looksLikeSignature(s string) bool {
	if len(s) < 64 || len(s) > 90 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
