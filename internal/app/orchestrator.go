/**
 * @description
 * The transaction orchestrator is the engine core: it drives a user's session
 * through intent resolution, confirmation, PIN challenge, risk consult, and
 * idempotent execution, and renders the single outbound reply for each
 * inbound message.
 *
 * Concurrency model: the session row is the unit of serialization. Every
 * mutation goes through a compare-and-swap write; a conflict means another
 * delivery won the turn, and the whole message is reprocessed against the
 * fresh state (bounded retries, never surfaced to the user).
 *
 * Exactly-once execution: before calling the gateway the orchestrator claims
 * the action's idempotency key in the ledger. An already-terminal entry is
 * reused without a gateway call; an already-in-flight entry is resolved by
 * status polling. A timeout with no definitive answer after bounded polls is
 * recorded as failed(unknown) and surfaced as "check your history", never
 * silently retried as a new debit.
 *
 * @dependencies
 * - internal/store: Session, ledger, transaction, credential persistence.
 * - pkg/gatewayclient: Result shapes for the payment gateway boundary.
 * - pkg/rabbitmq: Outbound message publishing.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
	"github.com/cyrax/conversation-service/internal/store"
	"github.com/cyrax/conversation-service/pkg/gatewayclient"
	"github.com/cyrax/conversation-service/pkg/rabbitmq"
)

// Gateway is the payment gateway boundary the orchestrator executes against.
type Gateway interface {
	Execute(ctx context.Context, idempotencyKey, kind string, amount int64, recipientRef, network string) (*gatewayclient.ChargeResult, error)
	CheckStatus(ctx context.Context, idempotencyKey string) (*gatewayclient.ChargeResult, error)
	GetBalance(ctx context.Context, accountRef string) (*gatewayclient.BalanceResult, error)
}

// Limiter bounds the per-user inbound message rate.
type Limiter interface {
	Allow(ctx context.Context, userKey string) (allowed bool, retryAfter time.Duration, err error)
}

// ErrEngineUnavailable is returned when session or ledger storage cannot be
// reached; the request must fail rather than proceed with unchecked
// idempotency state.
var ErrEngineUnavailable = errors.New("engine storage unavailable")

// OrchestratorConfig carries the tunable behavior constants.
type OrchestratorConfig struct {
	FlowTimeout      time.Duration // confirmation / PIN reply deadline
	PinMaxAttempts   int
	PinLockout       time.Duration
	StatusPollCount  int
	StatusPollDelay  time.Duration
	CASMaxRetries    int
	HistoryPageSize  int
	OutboundExchange string
}

// Orchestrator advances sessions and executes bound actions.
type Orchestrator struct {
	repo       store.Repository
	gateway    Gateway
	pins       *PinAuthenticator
	risk       *RiskEngine
	binder     *IntentBinder
	classifier *IntentClassifier
	limiter    Limiter
	publisher  rabbitmq.Publisher
	cfg        OrchestratorConfig
}

func NewOrchestrator(
	repo store.Repository,
	gateway Gateway,
	pins *PinAuthenticator,
	risk *RiskEngine,
	binder *IntentBinder,
	classifier *IntentClassifier,
	limiter Limiter,
	publisher rabbitmq.Publisher,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.CASMaxRetries <= 0 {
		cfg.CASMaxRetries = 5
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 5
	}
	return &Orchestrator{
		repo:       repo,
		gateway:    gateway,
		pins:       pins,
		risk:       risk,
		binder:     binder,
		classifier: classifier,
		limiter:    limiter,
		publisher:  publisher,
		cfg:        cfg,
	}
}

// HandleInbound processes one inbound message end to end and returns the
// reply. Duplicate deliveries are acknowledged with the originally stored
// reply and cause no state change.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg domain.InboundMessage) (*domain.OutboundMessage, error) {
	timer := time.Now()
	defer func() { handleDuration.Observe(time.Since(timer).Seconds()) }()

	claimed, storedReply, err := o.repo.ClaimInboundMessage(ctx, msg.UserID, msg.MessageID)
	if err != nil {
		inboundMessagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: claiming message: %v", ErrEngineUnavailable, err)
	}
	if !claimed {
		inboundMessagesTotal.WithLabelValues("duplicate").Inc()
		text := replyBusyExecuting
		if storedReply != nil {
			text = *storedReply
		}
		// Replay only; no publish, no state change.
		return &domain.OutboundMessage{UserID: msg.UserID, Text: text}, nil
	}

	if o.limiter != nil {
		allowed, _, err := o.limiter.Allow(ctx, msg.UserID.String())
		if err != nil {
			// Fail open: a limiter outage must not halt the conversation.
			log.Printf("level=warn component=orchestrator msg=\"rate limiter unavailable; allowing\" user_id=%s err=%v", msg.UserID, err)
		} else if !allowed {
			inboundMessagesTotal.WithLabelValues("rate_limited").Inc()
			return o.finishTurn(ctx, msg, &domain.OutboundMessage{UserID: msg.UserID, Text: replyRateLimited}), nil
		}
	}

	intent := msg.Intent
	if intent == nil {
		intent = o.classifier.Classify(msg.Body())
	}
	if intent.Slots == nil {
		intent.Slots = map[string]string{}
	}

	var out *domain.OutboundMessage
	for attempt := 0; attempt < o.cfg.CASMaxRetries; attempt++ {
		session, err := o.loadOrCreateSession(ctx, msg.UserID)
		if err != nil {
			if errors.Is(err, store.ErrSessionConflict) {
				continue
			}
			inboundMessagesTotal.WithLabelValues("error").Inc()
			o.releaseClaim(ctx, msg)
			return nil, fmt.Errorf("%w: loading session: %v", ErrEngineUnavailable, err)
		}
		out, err = o.advance(ctx, session, intent, msg.Body())
		if err != nil {
			if errors.Is(err, store.ErrSessionConflict) {
				continue
			}
			inboundMessagesTotal.WithLabelValues("error").Inc()
			o.releaseClaim(ctx, msg)
			return nil, err
		}
		break
	}
	if out == nil {
		inboundMessagesTotal.WithLabelValues("error").Inc()
		o.releaseClaim(ctx, msg)
		return nil, fmt.Errorf("session contention not resolved after %d attempts", o.cfg.CASMaxRetries)
	}

	inboundMessagesTotal.WithLabelValues("processed").Inc()
	out.UserID = msg.UserID
	return o.finishTurn(ctx, msg, out), nil
}

// releaseClaim hands a message claim back after a failed turn so the
// channel's redelivery is reprocessed rather than swallowed as a duplicate.
func (o *Orchestrator) releaseClaim(ctx context.Context, msg domain.InboundMessage) {
	if err := o.repo.ReleaseInboundMessage(ctx, msg.UserID, msg.MessageID); err != nil {
		log.Printf("level=error component=orchestrator msg=\"failed to release message claim\" user_id=%s message_id=%s err=%v", msg.UserID, msg.MessageID, err)
	}
}

// finishTurn stores the reply for duplicate replay and publishes it to the
// outbound exchange. Both are best-effort: the reply is also returned
// synchronously on the webhook response.
func (o *Orchestrator) finishTurn(ctx context.Context, msg domain.InboundMessage, out *domain.OutboundMessage) *domain.OutboundMessage {
	if err := o.repo.StoreInboundMessageReply(ctx, msg.UserID, msg.MessageID, out.Text); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"failed to store reply for dedupe replay\" user_id=%s message_id=%s err=%v", msg.UserID, msg.MessageID, err)
	}
	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, o.cfg.OutboundExchange, rabbitmq.OutboundMessageRoutingKey, out); err != nil {
			log.Printf("level=warn component=orchestrator msg=\"failed to publish outbound message\" user_id=%s err=%v", msg.UserID, err)
		}
	}
	return out
}

func (o *Orchestrator) loadOrCreateSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	session, err := o.repo.GetSession(ctx, userID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return nil, err
	}
	fresh := domain.NewSession(userID)
	if err := o.repo.CreateSession(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// advance applies one inbound message to the session. All session writes go
// through persist; a returned ErrSessionConflict restarts the whole turn.
func (o *Orchestrator) advance(ctx context.Context, session *domain.Session, intent *domain.Intent, rawText string) (*domain.OutboundMessage, error) {
	now := time.Now().UTC()
	session.LastActivityAt = now

	// Lazy expiry: the sweep usually gets here first, but a reply that
	// arrives after the deadline must not act on a stale pending flow.
	if !session.State.Terminal() && session.State != domain.StateIdle &&
		session.ExpiresAt != nil && session.ExpiresAt.Before(now) {
		session.ResetToIdle()
		stateTransitionsTotal.WithLabelValues(string(domain.StateDeclined)).Inc()
	}

	// A session still EXECUTING means a prior attempt crashed after the
	// ledger claim. Re-enter the execution protocol instead of reprompting:
	// resolveOutcome reuses terminal entries and polls in-flight ones, so
	// the retry cannot double-charge.
	if session.State == domain.StateExecuting && session.PendingAction != nil {
		if o.binder.acceptable(intent) && intent.Transactional() && session.QueuedIntent == nil {
			session.QueuedIntent = &domain.Intent{Kind: intent.Kind, Slots: cloneSlots(intent.Slots), Confidence: intent.Confidence}
		}
		return o.recoverExecution(ctx, session)
	}

	result := o.binder.Bind(session, intent, rawText)

	switch result.Outcome {
	case BindInfo, BindReprompt, BindGathering:
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		return &domain.OutboundMessage{Text: result.Prompt, QuickReplyOptions: result.QuickReplies}, nil

	case BindSetPIN:
		return o.enrollPIN(ctx, session, result.PIN)

	case BindCancel:
		return o.decline(ctx, session, replyCancelled)

	case BindQueued:
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		return &domain.OutboundMessage{Text: "I'll get to that right after your current request. " + o.currentPrompt(session)}, nil

	case BindAction:
		return o.proposeAction(ctx, session, result.Action)

	case BindConfirm:
		return o.handleConfirm(ctx, session)

	case BindPIN:
		return o.handlePIN(ctx, session, result.PIN)
	}

	return &domain.OutboundMessage{Text: replyUnclear}, nil
}

func (o *Orchestrator) persist(ctx context.Context, session *domain.Session) error {
	return o.repo.UpdateSessionCAS(ctx, session, session.Version)
}

// currentPrompt re-renders the prompt the pending flow is waiting on.
func (o *Orchestrator) currentPrompt(session *domain.Session) string {
	switch session.State {
	case domain.StateAwaitingConfirmation:
		return confirmationPrompt(session.PendingAction)
	case domain.StateAwaitingPIN:
		return replyEnterPIN
	}
	return ""
}

func (o *Orchestrator) enrollPIN(ctx context.Context, session *domain.Session, pin string) (*domain.OutboundMessage, error) {
	if err := o.pins.SetPIN(ctx, session.UserID, pin); err != nil {
		if errors.Is(err, ErrPINFormat) || errors.Is(err, ErrPINWeak) {
			// Keep the enrollment sub-flow open for another try.
			session.GatheringIntent = &domain.Intent{Kind: domain.IntentSetPIN, Slots: map[string]string{}}
			if perr := o.persist(ctx, session); perr != nil {
				return nil, perr
			}
			return &domain.OutboundMessage{Text: replyPINFormat}, nil
		}
		return nil, fmt.Errorf("enrolling pin: %w", err)
	}
	if err := o.persist(ctx, session); err != nil {
		return nil, err
	}
	return &domain.OutboundMessage{Text: replyPINSet}, nil
}

// proposeAction either starts the confirmation flow or, for read-only kinds,
// serves the query immediately and leaves the session idle.
func (o *Orchestrator) proposeAction(ctx context.Context, session *domain.Session, action *domain.Action) (*domain.OutboundMessage, error) {
	if !action.Kind.RequiresConfirmation() {
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		return o.serveQuery(ctx, session, action)
	}

	expiresAt := time.Now().UTC().Add(o.cfg.FlowTimeout)
	session.State = domain.StateAwaitingConfirmation
	session.PendingAction = action
	session.FailedPinAttempts = 0
	session.RiskChallenged = false
	session.ExpiresAt = &expiresAt
	if err := o.persist(ctx, session); err != nil {
		return nil, err
	}
	stateTransitionsTotal.WithLabelValues(string(domain.StateAwaitingConfirmation)).Inc()
	return &domain.OutboundMessage{Text: confirmationPrompt(action), QuickReplyOptions: yesNoReplies}, nil
}

func (o *Orchestrator) serveQuery(ctx context.Context, session *domain.Session, action *domain.Action) (*domain.OutboundMessage, error) {
	switch action.Kind {
	case domain.ActionBalanceQuery:
		bal, err := o.gateway.GetBalance(ctx, session.UserID.String())
		if err != nil {
			log.Printf("level=error component=orchestrator msg=\"balance lookup failed\" user_id=%s err=%v", session.UserID, err)
			return &domain.OutboundMessage{Text: replyGenericError}, nil
		}
		return &domain.OutboundMessage{Text: balanceMessage(bal.AvailableBalance)}, nil

	case domain.ActionHistoryQuery:
		txs, err := o.repo.FindTransactionsByUserID(ctx, session.UserID, o.cfg.HistoryPageSize)
		if err != nil {
			log.Printf("level=error component=orchestrator msg=\"history lookup failed\" user_id=%s err=%v", session.UserID, err)
			return &domain.OutboundMessage{Text: replyGenericError}, nil
		}
		return &domain.OutboundMessage{Text: renderHistory(txs)}, nil
	}
	return &domain.OutboundMessage{Text: replyUnclear}, nil
}

func renderHistory(txs []domain.Transaction) string {
	if len(txs) == 0 {
		return replyHistoryEmpty
	}
	var b strings.Builder
	b.WriteString("Your recent transactions:\n")
	for _, tx := range txs {
		action := domain.Action{Kind: tx.Kind, Amount: tx.Amount, RecipientRef: tx.RecipientRef, Network: tx.Network}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", tx.RequestedAt.Format("02 Jan 15:04"), action.Describe(), tx.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) handleConfirm(ctx context.Context, session *domain.Session) (*domain.OutboundMessage, error) {
	action := session.PendingAction
	if action == nil {
		session.ResetToIdle()
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		return &domain.OutboundMessage{Text: replyUnclear}, nil
	}

	if action.Kind.RequiresPIN() {
		expiresAt := time.Now().UTC().Add(o.cfg.FlowTimeout)
		session.State = domain.StateAwaitingPIN
		session.ExpiresAt = &expiresAt
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		stateTransitionsTotal.WithLabelValues(string(domain.StateAwaitingPIN)).Inc()
		return &domain.OutboundMessage{Text: replyEnterPIN}, nil
	}

	return o.consultRiskAndExecute(ctx, session)
}

func (o *Orchestrator) handlePIN(ctx context.Context, session *domain.Session, pin string) (*domain.OutboundMessage, error) {
	verdict, remaining, err := o.pins.Verify(ctx, session.UserID, pin)
	if err != nil {
		return nil, fmt.Errorf("%w: verifying pin: %v", ErrEngineUnavailable, err)
	}

	switch verdict {
	case PinNotSet:
		return o.decline(ctx, session, replyPINNotSet)

	case PinLockedOut:
		return o.decline(ctx, session, replyLockedOut)

	case PinMismatch:
		session.FailedPinAttempts++
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		return &domain.OutboundMessage{Text: pinMismatchPrompt(remaining)}, nil

	case PinMatch:
		session.FailedPinAttempts = 0
		return o.consultRiskAndExecute(ctx, session)
	}

	return &domain.OutboundMessage{Text: replyGenericError}, nil
}

// consultRiskAndExecute runs the risk consult and, on Allow, the execution
// protocol. A Challenge loops back to confirmation at most once.
func (o *Orchestrator) consultRiskAndExecute(ctx context.Context, session *domain.Session) (*domain.OutboundMessage, error) {
	action := session.PendingAction

	assessment, err := o.risk.Assess(ctx, session.UserID, action)
	if err != nil {
		return nil, fmt.Errorf("%w: risk assessment: %v", ErrEngineUnavailable, err)
	}
	if assessment.Decision == domain.RiskChallenge && session.RiskChallenged {
		assessment.Decision = domain.RiskAllow
	}

	switch assessment.Decision {
	case domain.RiskDeny:
		log.Printf("level=info component=orchestrator msg=\"risk denied\" user_id=%s kind=%s amount=%d reason=%q", session.UserID, action.Kind, action.Amount, assessment.Reason)
		return o.decline(ctx, session, declineMessage(assessment.Reason))

	case domain.RiskChallenge:
		expiresAt := time.Now().UTC().Add(o.cfg.FlowTimeout)
		session.State = domain.StateAwaitingConfirmation
		session.RiskChallenged = true
		session.ExpiresAt = &expiresAt
		if err := o.persist(ctx, session); err != nil {
			return nil, err
		}
		stateTransitionsTotal.WithLabelValues(string(domain.StateAwaitingConfirmation)).Inc()
		return &domain.OutboundMessage{Text: replyChallengePrefix + confirmationPrompt(action), QuickReplyOptions: yesNoReplies}, nil
	}

	return o.execute(ctx, session)
}

// execute runs the idempotent execution protocol for the pending action.
// The session is persisted in EXECUTING before the gateway is called so a
// concurrent delivery observes the in-flight state instead of racing it.
func (o *Orchestrator) execute(ctx context.Context, session *domain.Session) (*domain.OutboundMessage, error) {
	action := session.PendingAction

	session.State = domain.StateExecuting
	session.ExpiresAt = nil
	if err := o.persist(ctx, session); err != nil {
		return nil, err
	}
	stateTransitionsTotal.WithLabelValues(string(domain.StateExecuting)).Inc()

	outcome, err := o.resolveOutcome(ctx, session.UserID, action)
	if err != nil {
		return nil, err
	}
	return o.settleFromOutcome(ctx, session, action, outcome)
}

// recoverExecution resumes an execution a prior attempt left mid-flight. The
// ledger entry for the pending action's idempotency key decides the outcome;
// no new charge is ever initiated for a key that was already claimed.
func (o *Orchestrator) recoverExecution(ctx context.Context, session *domain.Session) (*domain.OutboundMessage, error) {
	action := session.PendingAction
	log.Printf("level=warn component=orchestrator msg=\"resuming interrupted execution\" user_id=%s idempotency_key=%s", session.UserID, action.IdempotencyKey)

	outcome, err := o.resolveOutcome(ctx, session.UserID, action)
	if err != nil {
		return nil, err
	}
	return o.settleFromOutcome(ctx, session, action, outcome)
}

func (o *Orchestrator) settleFromOutcome(ctx context.Context, session *domain.Session, action *domain.Action, outcome *executionOutcome) (*domain.OutboundMessage, error) {
	switch outcome.status {
	case domain.StatusSucceeded:
		return o.settle(ctx, session, successMessage(action, outcome.gatewayRef))
	default:
		if outcome.unknown {
			return o.decline(ctx, session, replyCheckHistory)
		}
		return o.decline(ctx, session, declineMessage(outcome.failureReason))
	}
}

type executionOutcome struct {
	status        string
	gatewayRef    string
	failureReason string
	unknown       bool
}

// resolveOutcome produces a terminal outcome for the action's idempotency
// key, calling the gateway at most once. Prior terminal ledger entries are
// reused; in-flight entries (recorded by a crashed or concurrent attempt)
// are resolved by status polling only.
func (o *Orchestrator) resolveOutcome(ctx context.Context, userID uuid.UUID, action *domain.Action) (*executionOutcome, error) {
	entry, created, err := o.repo.CreateLedgerEntry(ctx, action.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: claiming ledger entry: %v", ErrEngineUnavailable, err)
	}

	if !created {
		if entry.Terminal() {
			// Crash-and-retry: reuse the recorded outcome, no gateway call.
			return outcomeFromLedger(entry), nil
		}
		// Another attempt is (or was) mid-call; status polling is the only
		// safe way to learn what happened.
		return o.pollForOutcome(ctx, action)
	}

	// Audit record first so an operator can always see what was attempted.
	tx := &domain.Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		Kind:           action.Kind,
		Amount:         action.Amount,
		RecipientRef:   action.RecipientRef,
		Network:        action.Network,
		IdempotencyKey: action.IdempotencyKey,
		Status:         domain.StatusInFlight,
		RequestedAt:    time.Now().UTC(),
	}
	if err := o.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: recording transaction: %v", ErrEngineUnavailable, err)
	}

	result, err := o.gateway.Execute(ctx, action.IdempotencyKey, string(action.Kind), action.Amount, action.RecipientRef, action.Network)
	if err != nil {
		if errors.Is(err, gatewayclient.ErrTimeoutUnknown) {
			gatewayCallsTotal.WithLabelValues("timeout_unknown").Inc()
			return o.pollForOutcome(ctx, action)
		}
		gatewayCallsTotal.WithLabelValues("error").Inc()
		// A definitive transport-level rejection: the charge was not made.
		reason := "gateway error"
		o.recordOutcome(ctx, action.IdempotencyKey, domain.StatusFailed, nil, &reason)
		return &executionOutcome{status: domain.StatusFailed, failureReason: reason}, nil
	}

	return o.finalizeChargeResult(ctx, action, result)
}

// pollForOutcome performs bounded idempotent status checks. If the gateway
// still has no definitive answer, the key is closed as failed(unknown).
func (o *Orchestrator) pollForOutcome(ctx context.Context, action *domain.Action) (*executionOutcome, error) {
	for i := 0; i < o.cfg.StatusPollCount; i++ {
		if i > 0 && o.cfg.StatusPollDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.cfg.StatusPollDelay):
			}
		}
		result, err := o.gateway.CheckStatus(ctx, action.IdempotencyKey)
		if err != nil {
			continue
		}
		if result.Status == gatewayclient.ChargeProcessing {
			continue
		}
		return o.finalizeChargeResult(ctx, action, result)
	}

	log.Printf("level=warn component=orchestrator msg=\"charge unresolved after status polls\" idempotency_key=%s polls=%d", action.IdempotencyKey, o.cfg.StatusPollCount)
	gatewayCallsTotal.WithLabelValues("unresolved").Inc()
	reason := "unknown"
	o.recordOutcome(ctx, action.IdempotencyKey, domain.StatusFailed, nil, &reason)
	return &executionOutcome{status: domain.StatusFailed, failureReason: reason, unknown: true}, nil
}

func (o *Orchestrator) finalizeChargeResult(ctx context.Context, action *domain.Action, result *gatewayclient.ChargeResult) (*executionOutcome, error) {
	switch result.Status {
	case gatewayclient.ChargeSucceeded:
		gatewayCallsTotal.WithLabelValues("succeeded").Inc()
		o.recordOutcome(ctx, action.IdempotencyKey, domain.StatusSucceeded, &result.Reference, nil)
		return &executionOutcome{status: domain.StatusSucceeded, gatewayRef: result.Reference}, nil
	case gatewayclient.ChargeProcessing:
		return o.pollForOutcome(ctx, action)
	default:
		gatewayCallsTotal.WithLabelValues("declined").Inc()
		reason := result.Reason
		var refPtr *string
		if result.Reference != "" {
			refPtr = &result.Reference
		}
		o.recordOutcome(ctx, action.IdempotencyKey, domain.StatusFailed, refPtr, &reason)
		return &executionOutcome{status: domain.StatusFailed, failureReason: reason}, nil
	}
}

// recordOutcome moves the ledger entry and audit transaction to a terminal
// status. The conditional ledger write makes concurrent resolvers
// single-writer; losing the race is not an error.
func (o *Orchestrator) recordOutcome(ctx context.Context, key, status string, gatewayRef, failureReason *string) {
	resolved, err := o.repo.ResolveLedgerEntry(ctx, key, status, gatewayRef, failureReason)
	if err != nil {
		log.Printf("level=error component=orchestrator msg=\"failed to resolve ledger entry\" idempotency_key=%s err=%v", key, err)
		return
	}
	if !resolved {
		return
	}
	settlementsTotal.WithLabelValues(status, "engine").Inc()
	if err := o.repo.SettleTransactionByKey(ctx, key, status, gatewayRef, failureReason); err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
		log.Printf("level=error component=orchestrator msg=\"failed to settle transaction\" idempotency_key=%s err=%v", key, err)
	}
}

func outcomeFromLedger(entry *domain.LedgerEntry) *executionOutcome {
	out := &executionOutcome{status: entry.Status}
	if entry.GatewayRef != nil {
		out.gatewayRef = *entry.GatewayRef
	}
	if entry.FailureReason != nil {
		out.failureReason = *entry.FailureReason
		out.unknown = *entry.FailureReason == "unknown"
	}
	return out
}

// settle emits the success message and resets the session, then binds any
// queued intent as the next flow.
func (o *Orchestrator) settle(ctx context.Context, session *domain.Session, text string) (*domain.OutboundMessage, error) {
	stateTransitionsTotal.WithLabelValues(string(domain.StateSettled)).Inc()
	return o.closeFlow(ctx, session, text)
}

// decline emits the decline message and resets the session, then binds any
// queued intent as the next flow.
func (o *Orchestrator) decline(ctx context.Context, session *domain.Session, text string) (*domain.OutboundMessage, error) {
	stateTransitionsTotal.WithLabelValues(string(domain.StateDeclined)).Inc()
	return o.closeFlow(ctx, session, text)
}

func (o *Orchestrator) closeFlow(ctx context.Context, session *domain.Session, text string) (*domain.OutboundMessage, error) {
	queued := session.QueuedIntent
	session.QueuedIntent = nil
	session.ResetToIdle()

	out := &domain.OutboundMessage{Text: text}

	if queued != nil {
		followUp, err := o.advance(ctx, session, queued, "")
		if err != nil {
			if errors.Is(err, store.ErrSessionConflict) {
				return nil, err
			}
			log.Printf("level=warn component=orchestrator msg=\"failed to bind queued intent\" user_id=%s err=%v", session.UserID, err)
			if perr := o.persist(ctx, session); perr != nil {
				return nil, perr
			}
			return out, nil
		}
		out.Text = text + "\n\n" + followUp.Text
		out.QuickReplyOptions = followUp.QuickReplyOptions
		return out, nil
	}

	if err := o.persist(ctx, session); err != nil {
		return nil, err
	}
	return out, nil
}
