/**
 * @description
 * This file defines the Action model: an immutable, typed description of a
 * requested financial operation. An Action is created once by the intent
 * binder and carries its idempotency key from creation; the key is never
 * regenerated for retries of the same user request, which is what makes
 * repeated execution attempts against the gateway collapse to one effect.
 *
 * @notes
 * - Amounts are `int64` values in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 */

package domain

import "fmt"

// ActionKind identifies the type of financial operation requested.
type ActionKind string

const (
	ActionTransfer            ActionKind = "transfer"
	ActionAirtimePurchase     ActionKind = "airtime_purchase"
	ActionElectricityPurchase ActionKind = "electricity_purchase"
	ActionBalanceQuery        ActionKind = "balance_query"
	ActionHistoryQuery        ActionKind = "history_query"
)

// MovesMoney reports whether the kind debits the user's account.
func (k ActionKind) MovesMoney() bool {
	switch k {
	case ActionTransfer, ActionAirtimePurchase, ActionElectricityPurchase:
		return true
	}
	return false
}

// RequiresConfirmation reports whether the kind must pass through the
// confirmation prompt. Read-only queries bind and execute in one turn.
func (k ActionKind) RequiresConfirmation() bool { return k.MovesMoney() }

// RequiresPIN reports whether the kind must be PIN-authenticated.
func (k ActionKind) RequiresPIN() bool { return k.MovesMoney() }

// Action is an immutable description of a requested financial operation.
type Action struct {
	Kind           ActionKind `json:"kind"`
	Amount         int64      `json:"amount"` // in cents
	RecipientRef   string     `json:"recipient_ref"`
	Network        string     `json:"network,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// Describe renders a short human-readable summary used in confirmation
// prompts and final messages.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionTransfer:
		return fmt.Sprintf("send R%.2f to %s", float64(a.Amount)/100, a.RecipientRef)
	case ActionAirtimePurchase:
		if a.Network != "" {
			return fmt.Sprintf("buy R%.2f %s airtime for %s", float64(a.Amount)/100, a.Network, a.RecipientRef)
		}
		return fmt.Sprintf("buy R%.2f airtime for %s", float64(a.Amount)/100, a.RecipientRef)
	case ActionElectricityPurchase:
		return fmt.Sprintf("buy R%.2f electricity for meter %s", float64(a.Amount)/100, a.RecipientRef)
	case ActionBalanceQuery:
		return "check your balance"
	case ActionHistoryQuery:
		return "show your recent transactions"
	}
	return string(a.Kind)
}
