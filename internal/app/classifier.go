/**
 * @description
 * Rule-based intent classifier for inbound conversational text. The engine
 * never trusts the channel to pre-classify messages; raw text (or a voice
 * transcript / image-extracted text) is normalized, matched against keyword
 * patterns per intent kind, and slot values (amount, phone, meter, network)
 * are extracted with regular expressions tuned for South African formats.
 *
 * @notes
 * - Amounts are parsed into minor units (cents). "R100" => 10000.
 * - Confidence is coarse: strong keyword match 0.9, weak match 0.6,
 *   bare yes/no 0.95, nothing matched 0.0 with IntentUnclear.
 */
package app

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cyrax/conversation-service/internal/domain"
)

var (
	amountPattern = regexp.MustCompile(`(?i)\br?\s?(\d{1,3}(?:[ ,]\d{3})*|\d+)(?:[.,](\d{1,2}))?\b`)
	// SA mobile numbers: 0821234567, 27821234567, +27 82 123 4567
	phonePattern   = regexp.MustCompile(`(?:\+?27|0)\s?[1-9]\d(?:[ -]?\d){7}`)
	meterPattern   = regexp.MustCompile(`\b\d{11}\b`)
	pinPattern     = regexp.MustCompile(`\b\d{4,6}\b`)
	networkPattern = regexp.MustCompile(`(?i)\b(mtn|vodacom|cell\s?c|telkom)\b`)
	nonDigit       = regexp.MustCompile(`\D`)
)

type keywordRule struct {
	kind       string
	keywords   []string
	confidence float64
}

// Ordering matters: earlier rules win when multiple keyword sets match,
// so "buy airtime" is classified before the generic "send" rule fires.
var keywordRules = []keywordRule{
	{domain.IntentSetPIN, []string{"set pin", "change pin", "create pin", "new pin", "reset pin", "update pin"}, 0.9},
	{domain.IntentBuyAirtime, []string{"airtime", "air time", "recharge", "top up", "topup"}, 0.9},
	{domain.IntentBuyElectricity, []string{"electricity", "elektrisiteit", "prepaid power", "meter", "eskom", "units"}, 0.9},
	{domain.IntentCheckBalance, []string{"balance", "how much do i have", "available funds", "my money"}, 0.9},
	{domain.IntentHistory, []string{"history", "statement", "transactions", "last payments", "recent payments"}, 0.9},
	{domain.IntentTransfer, []string{"send", "transfer", "pay", "stuur", "send money"}, 0.85},
	{domain.IntentHelp, []string{"help", "what can you do", "menu", "options"}, 0.9},
	{domain.IntentGreeting, []string{"hi", "hello", "hey", "sawubona", "molo", "dumela", "good morning", "good afternoon", "good evening"}, 0.8},
}

var confirmWords = map[string]bool{
	"yes": true, "y": true, "yebo": true, "ja": true, "confirm": true,
	"ok": true, "okay": true, "sure": true, "proceed": true, "go ahead": true,
}

var cancelWords = map[string]bool{
	"no": true, "n": true, "cancel": true, "stop": true, "nee": true,
	"cha": true, "abort": true, "nevermind": true, "never mind": true,
}

// IntentClassifier turns free text into a structured Intent.
type IntentClassifier struct{}

func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{}
}

// Classify normalizes the text and returns the best-matching intent with any
// slot values found. It never returns nil.
func (c *IntentClassifier) Classify(text string) *domain.Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return &domain.Intent{Kind: domain.IntentUnclear, Slots: map[string]string{}}
	}

	// Bare confirmations/cancellations first; these are the most common
	// replies mid-flow and must not fall through to keyword rules.
	if confirmWords[normalized] {
		return &domain.Intent{Kind: domain.IntentConfirm, Slots: map[string]string{}, Confidence: 0.95}
	}
	if cancelWords[normalized] {
		return &domain.Intent{Kind: domain.IntentCancel, Slots: map[string]string{}, Confidence: 0.95}
	}

	// A message that is nothing but a 4-6 digit number is a PIN entry
	// candidate; the binder decides whether the state accepts it.
	if isBarePIN(normalized) {
		return &domain.Intent{
			Kind:       domain.IntentUnclear,
			Slots:      map[string]string{domain.SlotPIN: normalized},
			Confidence: 0.5,
		}
	}

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if containsWord(normalized, kw) {
				intent := &domain.Intent{Kind: rule.kind, Confidence: rule.confidence}
				intent.Slots = extractSlots(normalized, rule.kind)
				return intent
			}
		}
	}

	// No keyword hit. If the text carries an amount and a phone number we
	// treat it as a probable transfer with low confidence.
	slots := extractSlots(normalized, domain.IntentTransfer)
	if slots[domain.SlotAmount] != "" && slots[domain.SlotRecipient] != "" {
		return &domain.Intent{Kind: domain.IntentTransfer, Slots: slots, Confidence: 0.6}
	}

	return &domain.Intent{Kind: domain.IntentUnclear, Slots: map[string]string{}}
}

func isBarePIN(s string) bool {
	if len(s) < 4 || len(s) > 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// containsWord matches kw as a whole word (or phrase) inside text.
func containsWord(text, kw string) bool {
	idx := strings.Index(text, kw)
	for idx >= 0 {
		before := idx == 0 || !isAlnum(text[idx-1])
		afterIdx := idx + len(kw)
		after := afterIdx >= len(text) || !isAlnum(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], kw)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func extractSlots(text, kind string) map[string]string {
	slots := map[string]string{}

	if kind == domain.IntentSetPIN {
		if pin := pinPattern.FindString(text); pin != "" {
			slots[domain.SlotPIN] = pin
		}
		return slots
	}

	// Blank out the phone number before amount extraction so a spaced
	// "+27 82 ..." country code is never read as an amount.
	amountText := text
	if phoneRaw := phonePattern.FindString(text); phoneRaw != "" {
		amountText = strings.Replace(text, phoneRaw, " ", 1)
	}
	if cents, ok := extractAmount(amountText); ok {
		slots[domain.SlotAmount] = strconv.FormatInt(cents, 10)
	}

	switch kind {
	case domain.IntentTransfer, domain.IntentBuyAirtime:
		if phone := extractPhone(text); phone != "" {
			slots[domain.SlotRecipient] = phone
		}
	case domain.IntentBuyElectricity:
		if m := meterPattern.FindString(text); m != "" {
			slots[domain.SlotMeter] = m
		}
	}

	if kind == domain.IntentBuyAirtime {
		if nw := networkPattern.FindString(text); nw != "" {
			slots[domain.SlotNetwork] = strings.ReplaceAll(strings.ToLower(nw), " ", "")
		}
	}

	return slots
}

// extractAmount finds the first monetary amount in the text and returns it
// in cents. Phone numbers and meter numbers are skipped: a match whose raw
// digits run 9 or more characters is an identifier, not an amount.
func extractAmount(text string) (int64, bool) {
	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		whole := nonDigit.ReplaceAllString(m[1], "")
		if len(whole) == 0 || len(whole) >= 9 {
			continue
		}
		rands, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			continue
		}
		cents := rands * 100
		if m[2] != "" {
			frac := m[2]
			if len(frac) == 1 {
				frac += "0"
			}
			f, err := strconv.ParseInt(frac, 10, 64)
			if err != nil {
				continue
			}
			cents += f
		}
		if cents <= 0 {
			continue
		}
		return cents, true
	}
	return 0, false
}

// extractPhone normalizes the first SA mobile number found to 27XXXXXXXXX.
func extractPhone(text string) string {
	m := phonePattern.FindString(text)
	if m == "" {
		return ""
	}
	digits := nonDigit.ReplaceAllString(m, "")
	if strings.HasPrefix(digits, "0") {
		digits = "27" + digits[1:]
	}
	if len(digits) != 11 {
		return ""
	}
	return digits
}
