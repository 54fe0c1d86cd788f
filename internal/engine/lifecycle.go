package engine

import (
	"fmt"

	"bountyline/internal/domain"
)

// TransitionContext carries everything the evaluator needs. Actor identity
// is always passed explicitly; the evaluator never reads ambient session
// state so it stays a pure, independently testable function.
type TransitionContext struct {
	ActorID         string
	IssuerID        string
	PerformerID     string // empty when unassigned
	CurrentStatus   string
	RequestedStatus string
	ProofRequired   bool
	HasProof        bool
}

// DenialKind separates who-may-not from what-may-not so callers can map
// denials onto error categories without parsing reason prose.
type DenialKind string

const (
	DenialNone  DenialKind = ""
	DenialActor DenialKind = "actor" // the acting identity lacks the right
	DenialState DenialKind = "state" // the transition itself is illegal
)

// Decision is the evaluator's verdict on a requested status change.
// AwardCredits is true exactly when the transition lands on completed and
// the contract was not already completed.
type Decision struct {
	Allowed      bool
	AwardCredits bool
	Reason       string
	Denial       DenialKind
}

// TransitionError is returned by engine operations when the evaluator
// rejects a status change.
type TransitionError struct {
	From   string
	To     string
	Reason string
	Denial DenialKind
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func deny(reason string) Decision {
	return Decision{Reason: reason, Denial: DenialState}
}

func denyActor(reason string) Decision {
	return Decision{Reason: reason, Denial: DenialActor}
}

// EvaluateStatusChange applies the contract lifecycle rules:
//
//	pending/in_progress/rejected -> review     performer, proof required and present
//	pending/in_progress/rejected -> completed  performer, no proof required
//	pending                      -> in_progress performer claim
//	review                       -> completed  issuer
//	review                       -> rejected   issuer
//	completed                    -> *          never
//
// A rejected contract behaves like pending for resubmission. Illegal
// combinations are rejected with a reason, never silently ignored.
func EvaluateStatusChange(tc TransitionContext) Decision {
	if tc.ActorID == "" {
		return denyActor("actor required")
	}
	isIssuer := tc.ActorID == tc.IssuerID
	isPerformer := tc.PerformerID != "" && tc.ActorID == tc.PerformerID
	// A claim targets an unassigned pending contract; there is no
	// performer yet, so the identity check cannot apply. Once a performer
	// is assigned, everyone else is a third party.
	claiming := tc.CurrentStatus == domain.StatusPending &&
		tc.RequestedStatus == domain.StatusInProgress &&
		tc.PerformerID == ""
	if !isIssuer && !isPerformer && !claiming {
		return denyActor("actor is neither issuer nor performer")
	}

	if tc.CurrentStatus == domain.StatusCompleted {
		if tc.RequestedStatus == domain.StatusCompleted {
			return deny("contract already completed")
		}
		return deny("completed is terminal")
	}
	if tc.CurrentStatus == domain.StatusArchived {
		return deny("archived is terminal")
	}

	switch tc.RequestedStatus {
	case domain.StatusInProgress:
		if tc.CurrentStatus != domain.StatusPending {
			return deny(fmt.Sprintf("cannot start from %s", tc.CurrentStatus))
		}
		if isIssuer && !isPerformer {
			return denyActor("only the performer may start a contract")
		}
		return Decision{Allowed: true}

	case domain.StatusReview:
		if !openForPerformer(tc.CurrentStatus) {
			return deny(fmt.Sprintf("cannot submit proof from %s", tc.CurrentStatus))
		}
		if !isPerformer {
			return denyActor("only the performer may submit for review")
		}
		if !tc.ProofRequired {
			return deny("contract does not require proof review")
		}
		if !tc.HasProof {
			return deny("proof required but none attached")
		}
		return Decision{Allowed: true}

	case domain.StatusCompleted:
		switch {
		case openForPerformer(tc.CurrentStatus):
			if !isPerformer {
				return denyActor("only the performer may complete a contract")
			}
			if tc.ProofRequired {
				return deny("proof required; submit for review instead")
			}
			return Decision{Allowed: true, AwardCredits: true}
		case tc.CurrentStatus == domain.StatusReview:
			if !isIssuer {
				return denyActor("only the issuer may approve a contract")
			}
			if tc.PerformerID == "" {
				return deny("no performer")
			}
			return Decision{Allowed: true, AwardCredits: true}
		default:
			return deny(fmt.Sprintf("cannot complete from %s", tc.CurrentStatus))
		}

	case domain.StatusRejected:
		if tc.CurrentStatus != domain.StatusReview {
			return deny(fmt.Sprintf("cannot reject from %s", tc.CurrentStatus))
		}
		if !isIssuer {
			return denyActor("only the issuer may reject a contract")
		}
		if tc.PerformerID == "" {
			return deny("no performer")
		}
		return Decision{Allowed: true}

	case domain.StatusPending:
		return deny("contracts do not return to pending")

	case domain.StatusArchived:
		return deny("archive is a dedicated operation, not a status change")

	default:
		return deny(fmt.Sprintf("unknown status %q", tc.RequestedStatus))
	}
}

// openForPerformer reports whether the performer may act on the contract
// (submit proof or complete). rejected counts: rejection clears proof and
// reopens the contract for a fresh submission cycle.
func openForPerformer(status string) bool {
	switch status {
	case domain.StatusPending, domain.StatusInProgress, domain.StatusRejected:
		return true
	}
	return false
}
