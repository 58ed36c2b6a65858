package transfer

import (
	"fmt"
	"strings"
)

// ErrorKind is the executor's structured classification of a failed
// transfer. Structured kinds are always preferred over sniffing error text;
// the text heuristics in Classify exist only for errors that arrive without
// one.
type ErrorKind string

const (
	// ErrorKindDefiniteFailure: the transaction was rejected and funds did
	// not move.
	ErrorKindDefiniteFailure ErrorKind = "definite_failure"

	// ErrorKindTransient: a backend dependency was temporarily unavailable
	// and funds did not move; retrying shortly is safe.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindUncertain: the outcome could not be confirmed; funds may or
	// may not have moved.
	ErrorKindUncertain ErrorKind = "uncertain_success"
)

// Outcome is the executor's report of one execution attempt.
// TransactionSignature is present whenever the operation reached the
// ledger, even if Success is false.
type Outcome struct {
	Success              bool      `json:"success"`
	Message              string    `json:"message,omitempty"`
	Error                string    `json:"error,omitempty"`
	ErrorKind            ErrorKind `json:"error_kind,omitempty"`
	TransactionSignature string    `json:"transaction_signature,omitempty"`
}

// Classification is the orchestrator's final three-way-plus verdict on an
// attempt: money confirmed moved, confirmed not moved, or unknown.
type Classification string

const (
	ClassSuccess          Classification = "success"
	ClassDefiniteFailure  Classification = "definite_failure"
	ClassTransientFailure Classification = "transient_failure"
	ClassUncertain        Classification = "uncertain_success"
	ClassFailure          Classification = "failure"
)

// Terminal reports whether the classification needs no further
// reconciliation against the chain.
func (c Classification) Terminal() bool { return c != ClassUncertain }

// Result is the classified, user-presentable outcome of one attempt.
type Result struct {
	Class     Classification `json:"class"`
	Message   string         `json:"message"`
	Signature string         `json:"signature,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// Success reports whether the attempt is classified as a confirmed success.
func (r Result) Success() bool { return r.Class == ClassSuccess }

var timeoutVocabulary = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

// devToolingVocabulary matches client-side tooling crashes (bundler or
// dev-server connectivity). Those are orthogonal to on-chain state, so the
// message must not claim the transfer failed.
var devToolingVocabulary = []string{
	"could not load bundle",
	"could not connect to development server",
	"loading bundle failed",
}

// Classify maps an executor outcome, or the error a call site caught, to a
// Result. Precedence, per the rules the messaging depends on:
//
//  1. A true success flag is Success. A present transaction signature also
//     overrides a false success flag, but only when the executor supplied no
//     ErrorKind: a signature alongside ErrorKindUncertain means the
//     submission landed but was never confirmed, which is not a success.
//  2. A structured ErrorKind from the executor wins over any text.
//  3. Timeout vocabulary in an unstructured error means the submission may
//     have landed: uncertain success, never confirmed failure.
//  4. Dev-tooling crash text is normalized to a message that makes no claim
//     about the transfer.
//  5. Everything else is a generic failure carrying the raw message.
func Classify(outcome *Outcome, callErr error) Result {
	if outcome != nil && (outcome.Success || (outcome.TransactionSignature != "" && outcome.ErrorKind == "")) {
		msg := outcome.Message
		if msg == "" {
			msg = "Transfer complete."
		}
		return Result{
			Class:     ClassSuccess,
			Message:   msg,
			Signature: outcome.TransactionSignature,
		}
	}

	if outcome != nil && outcome.ErrorKind != "" {
		switch outcome.ErrorKind {
		case ErrorKindDefiniteFailure:
			return Result{
				Class:   ClassDefiniteFailure,
				Message: fmt.Sprintf("Your transaction was rejected: %s", orUnknown(outcome.Error)),
				Err:     outcome.Error,
			}
		case ErrorKindTransient:
			return Result{
				Class:   ClassTransientFailure,
				Message: "A backend service is temporarily unavailable. Your funds did not move; please try again in a moment.",
				Err:     outcome.Error,
			}
		case ErrorKindUncertain:
			return Result{
				Class:     ClassUncertain,
				Message:   uncertainMessage(outcome.TransactionSignature),
				Signature: outcome.TransactionSignature,
				Err:       outcome.Error,
			}
		}
	}

	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	} else if outcome != nil {
		errText = outcome.Error
	}
	lower := strings.ToLower(errText)

	if containsAny(lower, timeoutVocabulary) {
		// A timeout on a submission call does not prove the submission
		// failed.
		return Result{
			Class:   ClassUncertain,
			Message: "The request timed out before we received confirmation. Your transfer may still have completed; check your transaction history before retrying.",
			Err:     errText,
		}
	}

	if containsAny(lower, devToolingVocabulary) {
		return Result{
			Class:   ClassFailure,
			Message: "The app hit an internal loading error. This does not mean your transfer failed; check your transaction history before retrying.",
			Err:     errText,
		}
	}

	return Result{
		Class:   ClassFailure,
		Message: fmt.Sprintf("Transfer failed: %s", orUnknown(errText)),
		Err:     errText,
	}
}

func uncertainMessage(signature string) string {
	msg := "We could not confirm whether your transfer completed. Do not retry until you have checked your transaction history."
	if signature != "" {
		msg += fmt.Sprintf(" Transaction signature: %s", signature)
	}
	return msg
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
