package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/engine/auth"
	"bountyline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) newContract(t *testing.T, opts engine.ContractCreateOptions) string {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Take out the trash"
	}
	if opts.ActorID == "" {
		opts.ActorID = "alice"
	}
	c, err := env.Engine.CreateContract(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c.ID
}

func TestFullReviewCycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{
		ProofRequired: true,
		RewardAmount:  5,
	})

	c, err := env.Engine.ClaimContract(env.Ctx, id, "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c.Status != "in_progress" || c.PerformerID == nil || *c.PerformerID != "bob" {
		t.Fatalf("after claim: %+v", c)
	}

	c, _, err = env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID:      id,
		ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "done, photo attached to chat"},
	})
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if c.Status != "review" {
		t.Fatalf("expected review, got %s", c.Status)
	}
	if c.CompletedAt != nil {
		t.Fatalf("completed_at set before completion")
	}

	c, decision, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{
		ID: id, Status: "completed", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !decision.AwardCredits {
		t.Fatalf("approval must award credits")
	}
	if c.Status != "completed" || c.CompletedAt == nil {
		t.Fatalf("after approve: %+v", c)
	}

	// mint against the approval
	entry, err := env.Engine.MintCredit(env.Ctx, engine.MintOptions{
		PerformerID:      "bob",
		Amount:           5,
		SourceContractID: id,
		ActorID:          "alice",
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if entry.Amount != 5 || entry.Kind != "mint" {
		t.Fatalf("entry: %+v", entry)
	}
	balance, err := env.Engine.Repo.Balance(env.Ctx, "bob")
	if err != nil || balance != 5 {
		t.Fatalf("balance: %d %v", balance, err)
	}
}

func TestRepeatApprovalDenied(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{ProofRequired: true, RewardAmount: 3})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	_, _, _ = env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID: id, ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "done"},
	})
	if _, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "alice"}); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "alice"})
	var terr engine.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestRepeatMintDenied(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{RewardAmount: 4})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	if _, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "bob"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	opts := engine.MintOptions{PerformerID: "bob", Amount: 4, SourceContractID: id, ActorID: "alice"}
	if _, err := env.Engine.MintCredit(env.Ctx, opts); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if _, err := env.Engine.MintCredit(env.Ctx, opts); !errors.Is(err, engine.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestRejectionClearsProof(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{ProofRequired: true, RewardAmount: 2})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	_, _, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID: id, ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "see photo"},
	})
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}

	c, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "rejected", ActorID: "alice"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if c.Status != "rejected" || c.HasProof() {
		t.Fatalf("proof must be cleared on rejection: %+v", c)
	}

	// performer resubmits after rejection
	c, _, err = env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID: id, ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "redone properly"},
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if c.Status != "review" {
		t.Fatalf("expected review after resubmission, got %s", c.Status)
	}
}

func TestProofValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{ProofRequired: true})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	_, _, err := env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID: id, ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "  "},
	})
	var perr engine.ProofValidationError
	if !errors.As(err, &perr) {
		t.Fatalf("expected proof validation error, got %v", err)
	}
	c, err := env.Engine.Repo.GetContract(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != "in_progress" || c.HasProof() {
		t.Fatalf("rejected payload must leave contract untouched: %+v", c)
	}
}

func TestThirdPartyForbidden(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{PerformerID: "bob", RewardAmount: 1})

	_, err := env.Engine.UpdateContract(env.Ctx, engine.ContractUpdateOptions{ID: id, ActorID: "mallory"})
	var ferr auth.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("edit: expected forbidden, got %v", err)
	}

	_, err = env.Engine.ClaimContract(env.Ctx, id, "mallory")
	if !errors.As(err, &ferr) {
		t.Fatalf("claim: expected forbidden, got %v", err)
	}

	if err := env.Engine.DeleteContract(env.Ctx, id, "bob"); !errors.As(err, &ferr) {
		t.Fatalf("delete: expected forbidden, got %v", err)
	}
}

func TestIssuerCannotClaimOwnContract(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{})
	_, err := env.Engine.ClaimContract(env.Ctx, id, "alice")
	var ferr auth.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestArchiveContract(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{})
	c, err := env.Engine.ArchiveContract(env.Ctx, id, "alice")
	if err != nil || c.Status != "archived" {
		t.Fatalf("archive: %v %+v", err, c)
	}
	// archived contracts refuse further lifecycle changes
	_, _, err = env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "alice"})
	if err == nil {
		t.Fatalf("expected denial on archived contract")
	}
}

func TestRewardRedemption(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{RewardAmount: 10})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	_, _, _ = env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "bob"})
	if _, err := env.Engine.MintCredit(env.Ctx, engine.MintOptions{PerformerID: "bob", Amount: 10, SourceContractID: id, ActorID: "alice"}); err != nil {
		t.Fatalf("mint: %v", err)
	}

	rw, err := env.Engine.CreateReward(env.Ctx, engine.RewardCreateOptions{Title: "Movie night", Cost: 8, ActorID: "alice"})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	entry, err := env.Engine.RedeemReward(env.Ctx, rw.ID, "bob")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if entry.Amount != -8 || entry.Kind != "redeem" {
		t.Fatalf("entry: %+v", entry)
	}
	balance, _ := env.Engine.Repo.Balance(env.Ctx, "bob")
	if balance != 2 {
		t.Fatalf("balance after redeem: %d", balance)
	}
	// a second redemption exceeds the remaining balance
	if _, err := env.Engine.RedeemReward(env.Ctx, rw.ID, "bob"); !errors.Is(err, engine.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestStreakForReadsLedger(t *testing.T) {
	env := newTestEnv(t)
	// mint on three consecutive days ending at the fixed clock
	for i, day := range []int{8, 9, 10} {
		env.Engine.Now = func() time.Time { return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC) }
		id := env.newContract(t, engine.ContractCreateOptions{RewardAmount: 1})
		_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
		if _, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "bob"}); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		if _, err := env.Engine.MintCredit(env.Ctx, engine.MintOptions{PerformerID: "bob", Amount: 1, SourceContractID: id, ActorID: "alice"}); err != nil {
			t.Fatalf("mint %d: %v", i, err)
		}
	}
	streak, err := env.Engine.StreakFor(env.Ctx, "bob")
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if streak.Days != 3 {
		t.Fatalf("expected 3-day streak, got %d", streak.Days)
	}
}

func TestEventsAppendedOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{ProofRequired: true})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	_, _, _ = env.Engine.SubmitProof(env.Ctx, engine.ProofSubmitOptions{
		ID: id, ActorID: "bob",
		Payload: engine.ProofPayload{Kind: "text", Note: "done"},
	})
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, id)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected events for create, claim and proof, got %d", count)
	}
}

func TestStatusChangeClaimsUnassignedContract(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{RewardAmount: 2})

	c, decision, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{
		ID: id, Status: "in_progress", ActorID: "bob",
	})
	if err != nil {
		t.Fatalf("start unassigned: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("claim not allowed: %s", decision.Reason)
	}
	if c.Status != "in_progress" {
		t.Fatalf("status = %s", c.Status)
	}
	if c.PerformerID == nil || *c.PerformerID != "bob" {
		t.Fatalf("claim left contract without a performer: %+v", c)
	}
}

func TestStrangerCannotStartAssignedContract(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{PerformerID: "bob", RewardAmount: 2})

	_, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{
		ID: id, Status: "in_progress", ActorID: "mallory",
	})
	var terr engine.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if terr.Denial != engine.DenialActor {
		t.Fatalf("expected actor denial, got %q (%s)", terr.Denial, terr.Reason)
	}
	c, err := env.Engine.Repo.GetContract(env.Ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != "pending" || c.PerformerID == nil || *c.PerformerID != "bob" {
		t.Fatalf("contract mutated by denied actor: %+v", c)
	}
}

func TestMintAmountCeiling(t *testing.T) {
	env := newTestEnv(t)
	id := env.newContract(t, engine.ContractCreateOptions{RewardAmount: 4})
	_, _ = env.Engine.ClaimContract(env.Ctx, id, "bob")
	if _, _, err := env.Engine.SetContractStatus(env.Ctx, engine.StatusChangeOptions{ID: id, Status: "completed", ActorID: "bob"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// ceiling = reward plus the max streak bonus (50% of 4 rounds down to 2)
	if _, err := env.Engine.MintCredit(env.Ctx, engine.MintOptions{
		PerformerID: "bob", Amount: 7, SourceContractID: id, ActorID: "bob",
	}); err == nil {
		t.Fatalf("over-ceiling mint accepted")
	}
	balance, err := env.Engine.Repo.Balance(env.Ctx, "bob")
	if err != nil || balance != 0 {
		t.Fatalf("balance after denied mint: %d %v", balance, err)
	}

	entry, err := env.Engine.MintCredit(env.Ctx, engine.MintOptions{
		PerformerID: "bob", Amount: 6, SourceContractID: id, ActorID: "bob",
	})
	if err != nil {
		t.Fatalf("mint at ceiling: %v", err)
	}
	if entry.Amount != 6 {
		t.Fatalf("entry: %+v", entry)
	}
}
