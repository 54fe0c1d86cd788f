package engine_test

import (
	"testing"

	"bountyline/internal/engine"
)

func evaluate(t *testing.T, tc engine.TransitionContext) engine.Decision {
	t.Helper()
	return engine.EvaluateStatusChange(tc)
}

func TestPerformerLifecyclePath(t *testing.T) {
	base := engine.TransitionContext{
		ActorID:       "bob",
		IssuerID:      "alice",
		PerformerID:   "bob",
		ProofRequired: true,
	}

	tc := base
	tc.CurrentStatus = "pending"
	tc.RequestedStatus = "in_progress"
	if d := evaluate(t, tc); !d.Allowed {
		t.Fatalf("claim denied: %s", d.Reason)
	}

	tc = base
	tc.CurrentStatus = "in_progress"
	tc.RequestedStatus = "review"
	tc.HasProof = true
	if d := evaluate(t, tc); !d.Allowed {
		t.Fatalf("submit for review denied: %s", d.Reason)
	}
	if d := evaluate(t, tc); d.AwardCredits {
		t.Fatalf("review must not award credits")
	}
}

func TestReviewRequiresProof(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "bob",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "in_progress",
		RequestedStatus: "review",
		ProofRequired:   true,
		HasProof:        false,
	})
	if d.Allowed {
		t.Fatalf("expected denial without proof")
	}
}

func TestFastPathCompletionAwardsCredits(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "bob",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "in_progress",
		RequestedStatus: "completed",
		ProofRequired:   false,
	})
	if !d.Allowed || !d.AwardCredits {
		t.Fatalf("expected allowed award, got %+v", d)
	}
}

func TestProofRequiredBlocksDirectCompletion(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "bob",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "in_progress",
		RequestedStatus: "completed",
		ProofRequired:   true,
		HasProof:        true,
	})
	if d.Allowed {
		t.Fatalf("performer must not skip review when proof is required")
	}
}

func TestIssuerApprovalAndRejection(t *testing.T) {
	base := engine.TransitionContext{
		ActorID:       "alice",
		IssuerID:      "alice",
		PerformerID:   "bob",
		CurrentStatus: "review",
		ProofRequired: true,
		HasProof:      true,
	}

	tc := base
	tc.RequestedStatus = "completed"
	if d := evaluate(t, tc); !d.Allowed || !d.AwardCredits {
		t.Fatalf("approve: %+v", d)
	}

	tc = base
	tc.RequestedStatus = "rejected"
	d := evaluate(t, tc)
	if !d.Allowed {
		t.Fatalf("reject denied: %s", d.Reason)
	}
	if d.AwardCredits {
		t.Fatalf("rejection must not award credits")
	}
}

func TestApprovalWithoutPerformerDenied(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "alice",
		IssuerID:        "alice",
		PerformerID:     "",
		CurrentStatus:   "review",
		RequestedStatus: "completed",
	})
	if d.Allowed {
		t.Fatalf("expected denial with no performer")
	}
	if d.Reason != "no performer" {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
}

func TestPerformerMayNotApproveOwnWork(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "bob",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "review",
		RequestedStatus: "completed",
		ProofRequired:   true,
		HasProof:        true,
	})
	if d.Allowed {
		t.Fatalf("performer approved own work")
	}
}

func TestThirdPartyAlwaysDenied(t *testing.T) {
	for _, from := range []string{"pending", "in_progress", "review"} {
		for _, to := range []string{"in_progress", "review", "completed", "rejected"} {
			d := evaluate(t, engine.TransitionContext{
				ActorID:         "mallory",
				IssuerID:        "alice",
				PerformerID:     "bob",
				CurrentStatus:   from,
				RequestedStatus: to,
				HasProof:        true,
			})
			if d.Allowed {
				t.Fatalf("third party allowed %s -> %s", from, to)
			}
			if d.Denial != engine.DenialActor {
				t.Fatalf("%s -> %s: expected actor denial, got %q (%s)", from, to, d.Denial, d.Reason)
			}
		}
	}
}

func TestClaimRequiresUnassignedContract(t *testing.T) {
	// Unassigned and pending: anyone but the issuer may claim.
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "carol",
		IssuerID:        "alice",
		CurrentStatus:   "pending",
		RequestedStatus: "in_progress",
	})
	if !d.Allowed {
		t.Fatalf("claim of unassigned contract denied: %s", d.Reason)
	}

	// Already assigned: starting it is reserved for that performer.
	d = evaluate(t, engine.TransitionContext{
		ActorID:         "carol",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "pending",
		RequestedStatus: "in_progress",
	})
	if d.Allowed {
		t.Fatalf("stranger started a contract assigned to another performer")
	}
	if d.Denial != engine.DenialActor {
		t.Fatalf("expected actor denial, got %q (%s)", d.Denial, d.Reason)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	for _, to := range []string{"pending", "in_progress", "review", "rejected", "completed"} {
		d := evaluate(t, engine.TransitionContext{
			ActorID:         "alice",
			IssuerID:        "alice",
			PerformerID:     "bob",
			CurrentStatus:   "completed",
			RequestedStatus: to,
		})
		if d.Allowed {
			t.Fatalf("completed -> %s allowed", to)
		}
		if to == "completed" && d.Reason != "contract already completed" {
			t.Fatalf("unexpected reason %q", d.Reason)
		}
	}
}

func TestRejectedReopensForPerformer(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "bob",
		IssuerID:        "alice",
		PerformerID:     "bob",
		CurrentStatus:   "rejected",
		RequestedStatus: "review",
		ProofRequired:   true,
		HasProof:        true,
	})
	if !d.Allowed {
		t.Fatalf("resubmission after rejection denied: %s", d.Reason)
	}
}

func TestArchiveNotReachableViaStatusChange(t *testing.T) {
	d := evaluate(t, engine.TransitionContext{
		ActorID:         "alice",
		IssuerID:        "alice",
		CurrentStatus:   "pending",
		RequestedStatus: "archived",
	})
	if d.Allowed {
		t.Fatalf("archive must be a dedicated operation")
	}
}
