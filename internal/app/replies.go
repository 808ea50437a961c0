/**
 * @description
 * User-facing conversational copy, centralized so the binder, orchestrator,
 * and sweep render consistent messages. Amounts render as rands from
 * minor-unit values.
 */
package app

import (
	"fmt"

	"github.com/cyrax/conversation-service/internal/domain"
)

var yesNoReplies = []string{"Yes", "No"}

const (
	replyHelp = "I can help you send money, buy airtime, buy electricity, check your balance, or show your recent transactions. " +
		"For example: \"Send R100 to 0821234567\"."
	replyGreeting        = "Hi! " + replyHelp
	replyUnclear         = "Sorry, I didn't understand that. " + replyHelp
	replyBusyExecuting   = "I'm still processing your last transaction. I'll be with you in a moment."
	replyQueueFull       = "I'm busy with your current request. Please finish or cancel it first, then try again."
	replyEnterPIN        = "Please enter your PIN to authorize this transaction."
	replyCancelled       = "No problem, I've cancelled that request."
	replyExpired         = "Your pending request expired, so I've cancelled it. Send a new message to start again."
	replyLockedOut       = "Too many incorrect PIN attempts. Your PIN is locked for a while; please try again later."
	replyPINNotSet       = "You don't have a transaction PIN yet. Reply \"SET PIN\" to create one first."
	replySetPINPrompt    = "Let's set your transaction PIN. Reply with a 4 to 6 digit PIN."
	replyPINFormat       = "That PIN won't work. Choose 4 to 6 digits, and avoid obvious ones like 1234."
	replyPINSet          = "Your PIN is set. You can now authorize transactions with it."
	replyCheckHistory    = "I couldn't confirm the result of your transaction. Please check your transaction history before retrying."
	replyRateLimited     = "You're sending messages a little too fast. Please wait a moment and try again."
	replyGenericError    = "Something went wrong on our side. Please try again in a moment."
	replyHistoryEmpty    = "You have no recent transactions."
	replyChallengePrefix = "Just to be safe, please confirm once more: "
)

func confirmationPrompt(action *domain.Action) string {
	return fmt.Sprintf("You want to %s. Should I go ahead?", action.Describe())
}

func pinMismatchPrompt(remaining int) string {
	if remaining == 1 {
		return "That PIN is incorrect. You have 1 attempt left."
	}
	return fmt.Sprintf("That PIN is incorrect. You have %d attempts left.", remaining)
}

func successMessage(action *domain.Action, gatewayRef string) string {
	switch action.Kind {
	case domain.ActionTransfer:
		return fmt.Sprintf("Done! R%.2f sent to %s. Reference: %s.", float64(action.Amount)/100, action.RecipientRef, gatewayRef)
	case domain.ActionAirtimePurchase:
		return fmt.Sprintf("Done! R%.2f airtime loaded for %s. Reference: %s.", float64(action.Amount)/100, action.RecipientRef, gatewayRef)
	case domain.ActionElectricityPurchase:
		return fmt.Sprintf("Done! R%.2f electricity bought for meter %s. Reference: %s.", float64(action.Amount)/100, action.RecipientRef, gatewayRef)
	}
	return fmt.Sprintf("Done! Reference: %s.", gatewayRef)
}

func declineMessage(reason string) string {
	if reason == "" {
		return "Sorry, that transaction was declined."
	}
	return fmt.Sprintf("Sorry, that transaction was declined: %s.", reason)
}

func balanceMessage(availableCents int64) string {
	return fmt.Sprintf("Your available balance is R%.2f.", float64(availableCents)/100)
}
