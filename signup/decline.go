package signup

import (
	"errors"

	"github.com/stripe/stripe-go/v72"
)

// The fixed set of user-facing messages for mapped payment declines.
// Anything the processor reports that does not classify lands on the
// generic message; raw gateway errors never reach the member.
const (
	MsgSourceLimitExceeded      = "Your bank account has exceeded its payment source limit."
	MsgTransactionLimitExceeded = "The amount exceeds the per-transaction limit of your bank account."
	MsgWeeklyLimitExceeded      = "Your bank account has exceeded its weekly payment limit."
	MsgAuthenticationFailed     = "We could not authenticate your payment method. Please try again."
	MsgPaymentMethodInactive    = "Your payment method has not been activated for payments yet."
	MsgPaymentAttemptFailed     = "The payment attempt failed. Please verify your details and try again."
	MsgProcessorError           = "Your payment could not be processed. Please try again later."
)

// classifyDecline maps a gateway decline to one of the fixed user-facing
// messages. The second return is false for anything that is not a decline
// (network failures, validation errors), which must propagate as errors
// instead of form messages.
func classifyDecline(err error) (string, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return "", false
	}

	switch string(stripeErr.Code) {
	case "charge_exceeds_source_limit":
		return MsgSourceLimitExceeded, true
	case "charge_exceeds_transaction_limit":
		return MsgTransactionLimitExceeded, true
	case "charge_exceeds_weekly_limit":
		return MsgWeeklyLimitExceeded, true
	case "payment_intent_authentication_failure", "setup_intent_authentication_failure":
		return MsgAuthenticationFailed, true
	case "payment_method_unactivated":
		return MsgPaymentMethodInactive, true
	case "payment_intent_payment_attempt_failed":
		return MsgPaymentAttemptFailed, true
	}

	// card-type errors are declines even when the code is unmapped;
	// everything else (validation, network, API) propagates as an error
	if stripeErr.Type == stripe.ErrorTypeCard {
		if len(stripeErr.DeclineCode) > 0 {
			return MsgPaymentAttemptFailed, true
		}
		return MsgProcessorError, true
	}

	return "", false
}
