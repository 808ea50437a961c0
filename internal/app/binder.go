/**
 * @description
 * The intent binder maps a structured intent plus the current session into a
 * binding decision the orchestrator acts on. Its central rule: replies are
 * tested against the pending flow's expected input shape BEFORE being treated
 * as a new intent, so a "1234" PIN entry is never misread as a new request
 * and a new request never corrupts an in-flight one.
 *
 * @notes
 * - Slot gathering is a sub-state: the session stays IDLE while
 *   GatheringIntent accumulates slots across turns.
 * - One queued-intent slot; a second unrelated intent mid-flow is rejected
 *   with a busy prompt.
 */
package app

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cyrax/conversation-service/internal/domain"
)

// BindOutcome classifies what the inbound message means for the session.
type BindOutcome string

const (
	BindAction    BindOutcome = "action"     // fully-specified Action ready to propose
	BindGathering BindOutcome = "gathering"  // partial intent; Prompt asks for missing slots
	BindConfirm   BindOutcome = "confirm"    // confirmation reply for the pending Action
	BindCancel    BindOutcome = "cancel"     // cancellation of the pending flow
	BindPIN       BindOutcome = "pin"        // PIN entry for the pending Action
	BindSetPIN    BindOutcome = "set_pin"    // PIN enrollment value submitted
	BindQueued    BindOutcome = "queued"     // new intent parked behind the pending one
	BindReprompt  BindOutcome = "reprompt"   // not actionable; Prompt re-asks
	BindInfo      BindOutcome = "info"       // greeting/help; Prompt is the answer
)

// BindResult is the binder's decision for one inbound message.
type BindResult struct {
	Outcome      BindOutcome
	Action       *domain.Action // set for BindAction
	PIN          string         // set for BindPIN / BindSetPIN
	Prompt       string         // set for prompting outcomes
	QuickReplies []string
}

// IntentBinder resolves intents against session context.
type IntentBinder struct {
	confidenceThreshold float64
}

func NewIntentBinder(confidenceThreshold float64) *IntentBinder {
	return &IntentBinder{confidenceThreshold: confidenceThreshold}
}

// Bind decides what the intent means given the session's state. It may
// mutate session.GatheringIntent and session.QueuedIntent; all other session
// mutation belongs to the orchestrator.
func (b *IntentBinder) Bind(session *domain.Session, intent *domain.Intent, rawText string) BindResult {
	switch session.State {
	case domain.StateAwaitingPIN:
		return b.bindAwaitingPIN(session, intent, rawText)
	case domain.StateAwaitingConfirmation:
		return b.bindAwaitingConfirmation(session, intent)
	case domain.StateExecuting:
		return BindResult{Outcome: BindReprompt, Prompt: replyBusyExecuting}
	default:
		return b.bindIdle(session, intent)
	}
}

func (b *IntentBinder) bindAwaitingPIN(session *domain.Session, intent *domain.Intent, rawText string) BindResult {
	// The expected input shape wins: digits are a PIN here, never an intent.
	if pin := strings.TrimSpace(rawText); isBarePIN(pin) {
		return BindResult{Outcome: BindPIN, PIN: pin}
	}
	if intent.Kind == domain.IntentCancel {
		return BindResult{Outcome: BindCancel}
	}
	if b.acceptable(intent) && intent.Transactional() {
		return b.queue(session, intent)
	}
	return BindResult{Outcome: BindReprompt, Prompt: replyEnterPIN}
}

func (b *IntentBinder) bindAwaitingConfirmation(session *domain.Session, intent *domain.Intent) BindResult {
	switch intent.Kind {
	case domain.IntentConfirm:
		return BindResult{Outcome: BindConfirm}
	case domain.IntentCancel:
		return BindResult{Outcome: BindCancel}
	}
	if b.acceptable(intent) && intent.Transactional() {
		return b.queue(session, intent)
	}
	return BindResult{
		Outcome:      BindReprompt,
		Prompt:       confirmationPrompt(session.PendingAction),
		QuickReplies: yesNoReplies,
	}
}

func (b *IntentBinder) bindIdle(session *domain.Session, intent *domain.Intent) BindResult {
	// A gathering sub-flow in progress absorbs the reply first.
	if session.GatheringIntent != nil {
		return b.continueGathering(session, intent)
	}

	switch intent.Kind {
	case domain.IntentGreeting:
		return BindResult{Outcome: BindInfo, Prompt: replyGreeting}
	case domain.IntentHelp:
		return BindResult{Outcome: BindInfo, Prompt: replyHelp}
	case domain.IntentSetPIN:
		// If the PIN came along ("set pin to 4591"), enroll directly.
		if pin := intent.Slot(domain.SlotPIN); pin != "" {
			return BindResult{Outcome: BindSetPIN, PIN: pin}
		}
		session.GatheringIntent = &domain.Intent{Kind: domain.IntentSetPIN, Slots: map[string]string{}}
		return BindResult{Outcome: BindGathering, Prompt: replySetPINPrompt}
	case domain.IntentCancel:
		// Nothing pending; treat as conversational noise.
		return BindResult{Outcome: BindInfo, Prompt: replyHelp}
	}

	if !b.acceptable(intent) || !intent.Transactional() {
		return BindResult{Outcome: BindReprompt, Prompt: replyUnclear}
	}

	merged := &domain.Intent{Kind: intent.Kind, Slots: cloneSlots(intent.Slots), Confidence: intent.Confidence}
	return b.resolveTransactional(session, merged)
}

// continueGathering merges the new turn's slots into the in-progress intent.
func (b *IntentBinder) continueGathering(session *domain.Session, intent *domain.Intent) BindResult {
	gathering := session.GatheringIntent

	if intent.Kind == domain.IntentCancel {
		session.GatheringIntent = nil
		return BindResult{Outcome: BindCancel}
	}

	if gathering.Kind == domain.IntentSetPIN {
		if pin := intent.Slot(domain.SlotPIN); pin != "" {
			session.GatheringIntent = nil
			return BindResult{Outcome: BindSetPIN, PIN: pin}
		}
		return BindResult{Outcome: BindGathering, Prompt: replySetPINPrompt}
	}

	// A confident new transactional intent of a different kind abandons the
	// half-gathered one rather than polluting its slots.
	if b.acceptable(intent) && intent.Transactional() && intent.Kind != gathering.Kind {
		session.GatheringIntent = nil
		merged := &domain.Intent{Kind: intent.Kind, Slots: cloneSlots(intent.Slots), Confidence: intent.Confidence}
		return b.resolveTransactional(session, merged)
	}

	for name, value := range intent.Slots {
		if value != "" {
			gathering.Slots[name] = value
		}
	}
	return b.resolveTransactional(session, gathering)
}

// resolveTransactional either produces a ready Action or parks the intent in
// the gathering sub-state with a prompt for what is still missing.
func (b *IntentBinder) resolveTransactional(session *domain.Session, intent *domain.Intent) BindResult {
	kind := actionKindFor(intent.Kind)
	missing := missingSlots(kind, intent)
	if len(missing) > 0 {
		session.GatheringIntent = intent
		return BindResult{Outcome: BindGathering, Prompt: gatheringPrompt(kind, missing)}
	}

	session.GatheringIntent = nil
	action := &domain.Action{
		Kind:           kind,
		RecipientRef:   recipientFor(kind, intent),
		Network:        intent.Slot(domain.SlotNetwork),
		IdempotencyKey: uuid.NewString(),
	}
	if raw := intent.Slot(domain.SlotAmount); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount <= 0 {
			session.GatheringIntent = intent
			delete(intent.Slots, domain.SlotAmount)
			return BindResult{Outcome: BindGathering, Prompt: gatheringPrompt(kind, []string{domain.SlotAmount})}
		}
		action.Amount = amount
	}
	return BindResult{Outcome: BindAction, Action: action}
}

// queue parks a new intent behind the pending flow; the slot holds one.
func (b *IntentBinder) queue(session *domain.Session, intent *domain.Intent) BindResult {
	if session.QueuedIntent != nil {
		return BindResult{Outcome: BindReprompt, Prompt: replyQueueFull}
	}
	session.QueuedIntent = &domain.Intent{Kind: intent.Kind, Slots: cloneSlots(intent.Slots), Confidence: intent.Confidence}
	return BindResult{Outcome: BindQueued}
}

func (b *IntentBinder) acceptable(intent *domain.Intent) bool {
	return intent.Confidence >= b.confidenceThreshold
}

func actionKindFor(intentKind string) domain.ActionKind {
	switch intentKind {
	case domain.IntentTransfer:
		return domain.ActionTransfer
	case domain.IntentBuyAirtime:
		return domain.ActionAirtimePurchase
	case domain.IntentBuyElectricity:
		return domain.ActionElectricityPurchase
	case domain.IntentCheckBalance:
		return domain.ActionBalanceQuery
	case domain.IntentHistory:
		return domain.ActionHistoryQuery
	}
	return domain.ActionKind(intentKind)
}

func recipientFor(kind domain.ActionKind, intent *domain.Intent) string {
	if kind == domain.ActionElectricityPurchase {
		return intent.Slot(domain.SlotMeter)
	}
	return intent.Slot(domain.SlotRecipient)
}

func missingSlots(kind domain.ActionKind, intent *domain.Intent) []string {
	var missing []string
	switch kind {
	case domain.ActionTransfer, domain.ActionAirtimePurchase:
		if intent.Slot(domain.SlotAmount) == "" {
			missing = append(missing, domain.SlotAmount)
		}
		if intent.Slot(domain.SlotRecipient) == "" {
			missing = append(missing, domain.SlotRecipient)
		}
	case domain.ActionElectricityPurchase:
		if intent.Slot(domain.SlotAmount) == "" {
			missing = append(missing, domain.SlotAmount)
		}
		if intent.Slot(domain.SlotMeter) == "" {
			missing = append(missing, domain.SlotMeter)
		}
	}
	return missing
}

func gatheringPrompt(kind domain.ActionKind, missing []string) string {
	asks := make([]string, 0, len(missing))
	for _, slot := range missing {
		switch slot {
		case domain.SlotAmount:
			asks = append(asks, "the amount (for example R50)")
		case domain.SlotRecipient:
			if kind == domain.ActionAirtimePurchase {
				asks = append(asks, "the phone number to load")
			} else {
				asks = append(asks, "the recipient's phone number")
			}
		case domain.SlotMeter:
			asks = append(asks, "the 11-digit meter number")
		}
	}
	return "Almost there. Please send " + strings.Join(asks, " and ") + "."
}

func cloneSlots(slots map[string]string) map[string]string {
	out := make(map[string]string, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	return out
}
