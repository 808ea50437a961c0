package app

import (
	"testing"

	"github.com/cyrax/conversation-service/internal/domain"
)

func TestClassify_TransferWithAmountAndPhone(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("Send R100 to 0821234567")
	if intent.Kind != domain.IntentTransfer {
		t.Fatalf("expected transfer, got %s", intent.Kind)
	}
	if got := intent.Slot(domain.SlotAmount); got != "10000" {
		t.Fatalf("expected 10000 cents, got %q", got)
	}
	if got := intent.Slot(domain.SlotRecipient); got != "27821234567" {
		t.Fatalf("expected normalized phone, got %q", got)
	}
	if intent.Confidence < 0.5 {
		t.Fatalf("expected confident classification, got %f", intent.Confidence)
	}
}

func TestClassify_AmountWithDecimals(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("transfer R50.50 to +27 82 123 4567")
	if got := intent.Slot(domain.SlotAmount); got != "5050" {
		t.Fatalf("expected 5050 cents, got %q", got)
	}
	if got := intent.Slot(domain.SlotRecipient); got != "27821234567" {
		t.Fatalf("expected normalized phone, got %q", got)
	}
}

func TestClassify_AirtimeWithNetwork(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("buy R50 MTN airtime for 0731112222")
	if intent.Kind != domain.IntentBuyAirtime {
		t.Fatalf("expected buy_airtime, got %s", intent.Kind)
	}
	if got := intent.Slot(domain.SlotNetwork); got != "mtn" {
		t.Fatalf("expected mtn, got %q", got)
	}
	if got := intent.Slot(domain.SlotRecipient); got != "27731112222" {
		t.Fatalf("expected normalized phone, got %q", got)
	}
}

func TestClassify_ElectricityWithMeter(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("R200 electricity for meter 01234567890")
	if intent.Kind != domain.IntentBuyElectricity {
		t.Fatalf("expected buy_electricity, got %s", intent.Kind)
	}
	if got := intent.Slot(domain.SlotMeter); got != "01234567890" {
		t.Fatalf("expected meter number, got %q", got)
	}
	if got := intent.Slot(domain.SlotAmount); got != "20000" {
		t.Fatalf("expected 20000 cents, got %q", got)
	}
}

func TestClassify_ConfirmAndCancelWords(t *testing.T) {
	c := NewIntentClassifier()
	for _, word := range []string{"yes", "YES", " Yebo ", "ok"} {
		if intent := c.Classify(word); intent.Kind != domain.IntentConfirm {
			t.Fatalf("expected %q to confirm, got %s", word, intent.Kind)
		}
	}
	for _, word := range []string{"no", "cancel", "STOP"} {
		if intent := c.Classify(word); intent.Kind != domain.IntentCancel {
			t.Fatalf("expected %q to cancel, got %s", word, intent.Kind)
		}
	}
}

func TestClassify_BarePINStaysUnclearWithSlot(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("4591")
	if intent.Kind != domain.IntentUnclear {
		t.Fatalf("expected unclear for bare digits, got %s", intent.Kind)
	}
	if got := intent.Slot(domain.SlotPIN); got != "4591" {
		t.Fatalf("expected pin slot, got %q", got)
	}
}

func TestClassify_SetPINCarriesValue(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("set pin to 4591")
	if intent.Kind != domain.IntentSetPIN {
		t.Fatalf("expected set_pin, got %s", intent.Kind)
	}
	if got := intent.Slot(domain.SlotPIN); got != "4591" {
		t.Fatalf("expected pin slot, got %q", got)
	}
}

func TestClassify_GibberishIsUnclear(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("flarp glorp")
	if intent.Kind != domain.IntentUnclear || intent.Confidence != 0 {
		t.Fatalf("expected unclear with zero confidence, got %s %f", intent.Kind, intent.Confidence)
	}
}

func TestClassify_PhoneNumberNeverReadAsAmount(t *testing.T) {
	c := NewIntentClassifier()
	intent := c.Classify("pay 0821234567")
	if got := intent.Slot(domain.SlotAmount); got != "" {
		t.Fatalf("expected no amount from a phone number, got %q", got)
	}
}
