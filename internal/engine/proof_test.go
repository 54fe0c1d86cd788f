package engine_test

import (
	"testing"

	"bountyline/internal/config"
	"bountyline/internal/engine"
)

func TestValidateTextProof(t *testing.T) {
	cfg := config.Default()
	check := engine.ValidateProofPayload(engine.ProofPayload{Kind: "text", Note: "deployed to staging"}, cfg)
	if !check.Valid {
		t.Fatalf("expected valid, got %v", check.Errors)
	}
	check = engine.ValidateProofPayload(engine.ProofPayload{Kind: "text", Note: "   "}, cfg)
	if check.Valid {
		t.Fatalf("whitespace-only note accepted")
	}
}

func TestValidateAttachmentProof(t *testing.T) {
	cfg := config.Default()
	ok := engine.ProofPayload{Kind: "attachment", Filename: "shot.png", Size: 1024, ContentType: "image/png"}
	if check := engine.ValidateProofPayload(ok, cfg); !check.Valid {
		t.Fatalf("expected valid, got %v", check.Errors)
	}

	cases := []engine.ProofPayload{
		{Kind: "attachment", Size: 1024, ContentType: "image/png"},
		{Kind: "attachment", Filename: "shot.png", Size: 0, ContentType: "image/png"},
		{Kind: "attachment", Filename: "big.png", Size: cfg.Proof.MaxAttachmentBytes + 1, ContentType: "image/png"},
		{Kind: "attachment", Filename: "clip.mp4", Size: 1024, ContentType: "video/mp4"},
		{Kind: "screenshot", Filename: "shot.png", Size: 1024, ContentType: "image/png"},
	}
	for i, p := range cases {
		if check := engine.ValidateProofPayload(p, cfg); check.Valid {
			t.Fatalf("case %d: expected invalid", i)
		}
	}
}

func TestValidatorCollectsAllErrors(t *testing.T) {
	check := engine.ValidateProofPayload(engine.ProofPayload{Kind: "attachment"}, config.Default())
	if check.Valid {
		t.Fatalf("expected invalid")
	}
	if len(check.Errors) < 2 {
		t.Fatalf("expected every violation reported, got %v", check.Errors)
	}
}

func TestStatusAfterProofSubmission(t *testing.T) {
	if got := engine.StatusAfterProofSubmission(true); got != "review" {
		t.Fatalf("proof required: got %s", got)
	}
	if got := engine.StatusAfterProofSubmission(false); got != "completed" {
		t.Fatalf("fast path: got %s", got)
	}
}
