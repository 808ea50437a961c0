/**
 * @description
 * This file defines the message and intent models at the engine's boundary
 * with the messaging channel and NLU collaborators. Inbound messages carry a
 * channel-assigned message id used for delivery-duplicate suppression;
 * structured intents carry a confidence score in [0,1].
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Intent kinds produced by the NLU collaborator or the local rule-based
// classifier. Transaction kinds mirror ActionKind; the rest drive the
// conversational surface.
const (
	IntentTransfer       = "transfer"
	IntentBuyAirtime     = "buy_airtime"
	IntentBuyElectricity = "buy_electricity"
	IntentCheckBalance   = "check_balance"
	IntentHistory        = "history"
	IntentSetPIN         = "set_pin"
	IntentConfirm        = "confirm"
	IntentCancel         = "cancel"
	IntentGreeting       = "greeting"
	IntentHelp           = "help"
	IntentUnclear        = "unclear"
)

// Slot names carried by intents. The classifier fills them from regex
// extraction; the NLU collaborator uses the same vocabulary.
const (
	SlotAmount    = "amount" // minor units, decimal string
	SlotRecipient = "recipient"
	SlotMeter     = "meter"
	SlotNetwork   = "network"
	SlotPIN       = "pin"
)

// Intent is a structured interpretation of an inbound message.
type Intent struct {
	Kind       string            `json:"kind"`
	Slots      map[string]string `json:"slots,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Slot returns the named slot value, or "" when absent.
func (i *Intent) Slot(name string) string {
	if i == nil || i.Slots == nil {
		return ""
	}
	return i.Slots[name]
}

// Transactional reports whether the intent kind maps to an ActionKind.
func (i *Intent) Transactional() bool {
	if i == nil {
		return false
	}
	switch i.Kind {
	case IntentTransfer, IntentBuyAirtime, IntentBuyElectricity, IntentCheckBalance, IntentHistory:
		return true
	}
	return false
}

// InboundMessage is one message delivered by the messaging channel.
// Voice and image messages arrive already reduced to text by the external
// understanding collaborators.
type InboundMessage struct {
	UserID             uuid.UUID `json:"user_id"`
	MessageID          string    `json:"message_id"`
	Text               string    `json:"text,omitempty"`
	VoiceTranscript    string    `json:"voice_transcript,omitempty"`
	ImageExtractedText string    `json:"image_extracted_text,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	// Intent, when present, is the NLU collaborator's parse of the message.
	// When absent the engine classifies the text itself.
	Intent *Intent `json:"intent,omitempty"`
}

// Body returns whichever textual payload the message carries.
func (m InboundMessage) Body() string {
	if m.Text != "" {
		return m.Text
	}
	if m.VoiceTranscript != "" {
		return m.VoiceTranscript
	}
	return m.ImageExtractedText
}

// OutboundMessage is the engine's reply, one per inbound message plus
// unsolicited sweep-driven expiry notices.
type OutboundMessage struct {
	UserID            uuid.UUID `json:"user_id"`
	Text              string    `json:"text"`
	QuickReplyOptions []string  `json:"quick_reply_options,omitempty"`
}
