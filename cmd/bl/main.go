package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
	"bountyline/internal/server"
	"bountyline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline runs contracts between an issuer and a performer and settles
completed work into a credit ledger.
Core concepts:
- Workspace: your .bountyline directory with the database and proof files;
  settlement policy lives in the DB and is imported explicitly.
- Contract: a posted piece of work; statuses go pending -> in_progress ->
  review -> completed (rejected reopens, archived is an exit).
- Proof: a note or file attached when the performer finishes; contracts that
  require proof route through review before the issuer approves.
- Credits: approval mints credits into an append-only ledger, at most once
  per contract; consecutive-day streaks add a bonus per policy.
- Rewards: catalog items credits are redeemed against ('bl reward redeem').
- Event log: diary of changes, view with 'bl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(proofCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(rewardCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	c.AddCommand(contractCreateCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractGetCmd())
	c.AddCommand(contractUpdateCmd())
	c.AddCommand(contractClaimCmd())
	c.AddCommand(contractStatusCmd())
	c.AddCommand(contractApproveCmd())
	c.AddCommand(contractRejectCmd())
	c.AddCommand(contractArchiveCmd())
	c.AddCommand(contractDeleteCmd())
	c.AddCommand(contractRetryMintCmd())
	return c
}

func contractCreateCmd() *cobra.Command {
	var opts store.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a new contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.ContractStore, e engine.Engine) error {
				c, err := st.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "contract title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "contract description")
	cmd.Flags().StringVar(&opts.PerformerID, "performer", "", "assign a performer up front")
	cmd.Flags().BoolVar(&opts.ProofRequired, "proof-required", false, "require proof before approval")
	cmd.Flags().StringVar(&opts.RewardKind, "reward-kind", domain.RewardCredit, "reward kind (credit|fixed)")
	cmd.Flags().IntVar(&opts.RewardAmount, "reward", 0, "base credit reward")
	cmd.Flags().StringVar(&opts.RewardLabel, "reward-label", "", "label for fixed rewards")
	return cmd
}

func contractListCmd() *cobra.Command {
	var status string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					contracts []domain.Contract
					err       error
				)
				if all {
					contracts, err = e.Repo.ListContracts(ctx, repo.ContractFilters{Status: status})
				} else {
					contracts, err = e.Repo.ListVisibleContracts(ctx, viper.GetString("actor-id"))
					if err == nil && status != "" {
						filtered := contracts[:0]
						for _, c := range contracts {
							if c.Status == status {
								filtered = append(filtered, c)
							}
						}
						contracts = filtered
					}
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contracts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Performer", "Reward"})
				for _, c := range contracts {
					performer := ""
					if c.PerformerID != nil {
						performer = *c.PerformerID
					}
					reward := fmt.Sprintf("%d credits", c.RewardAmount)
					if c.RewardKind == domain.RewardFixed && c.RewardLabel != nil {
						reward = *c.RewardLabel
					}
					tw.AppendRow(table.Row{c.ID, c.Title, c.Status, performer, reward})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().BoolVar(&all, "all", false, "list everyone's contracts, not just mine")
	return cmd
}

func contractGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractUpdateCmd() *cobra.Command {
	var title, description, performer, rewardLabel string
	var reward int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a contract (issuer only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts store.EditOptions
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("performer") {
				opts.PerformerProvided = true
				opts.PerformerID = optionalString(performer)
			}
			if cmd.Flags().Changed("reward") {
				opts.RewardAmount = &reward
			}
			if cmd.Flags().Changed("reward-label") {
				opts.RewardLabel = &rewardLabel
			}
			return withStore(cmd.Context(), func(ctx context.Context, st *store.ContractStore, e engine.Engine) error {
				c, err := st.Edit(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&performer, "performer", "", "new performer (empty to unassign)")
	cmd.Flags().IntVar(&reward, "reward", 0, "new base credit reward")
	cmd.Flags().StringVar(&rewardLabel, "reward-label", "", "new fixed reward label")
	return cmd
}

func contractClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a pending contract as its performer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], domain.StatusInProgress)
		},
	}
	return cmd
}

func contractStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Request a status change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func contractApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a contract and mint its credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], domain.StatusCompleted)
		},
	}
	return cmd
}

func contractRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject submitted work; proof is discarded and the contract reopens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeStatus(cmd.Context(), args[0], domain.StatusRejected)
		},
	}
	return cmd
}

func contractArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a contract (issuer only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ArchiveContract(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a contract (issuer only)",
		Long: `Delete a contract and any stored proof attachment. Deletion is
unconditional: completed contracts are deleted too, ledger entries stay.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.ContractStore, e engine.Engine) error {
				if err := st.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

// contractRetryMintCmd recomputes and retries settlement for a contract whose
// status change committed but whose mint failed.
func contractRetryMintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-mint <id>",
		Short: "Retry credit settlement for a completed contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				if c.PerformerID == nil {
					return fmt.Errorf("contract %s has no performer", c.ID)
				}
				streak, err := e.StreakFor(ctx, *c.PerformerID)
				if err != nil {
					return err
				}
				settlement := engine.DecideCredits(engine.SettlementInput{
					ContractID:  c.ID,
					PerformerID: *c.PerformerID,
					RewardKind:  c.RewardKind,
					BaseReward:  c.RewardAmount,
					Streak:      &streak,
				}, e.Config.Settlement.Streak)
				entry, err := e.MintCredit(ctx, engine.MintOptions{
					PerformerID:      *c.PerformerID,
					Amount:           settlement.Amount,
					SourceContractID: c.ID,
					StreakDays:       settlement.StreakDays,
					ActorID:          viper.GetString("actor-id"),
				})
				if errors.Is(err, engine.ErrAlreadySettled) {
					fmt.Println("contract already settled; nothing to do")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func changeStatus(ctx context.Context, id, status string) error {
	return withStore(ctx, func(ctx context.Context, st *store.ContractStore, e engine.Engine) error {
		c, err := st.ChangeStatus(ctx, id, status)
		var serr *store.Error
		if errors.As(err, &serr) && serr.Category == store.CategoryPartialSettlement {
			fmt.Printf("status change saved but credits were not minted: %v\n", serr)
			fmt.Printf("retry with: bl contract retry-mint %s\n", id)
			return nil
		}
		if err != nil {
			return err
		}
		return printJSONOrTable(c)
	})
}

func proofCmd() *cobra.Command {
	c := &cobra.Command{Use: "proof", Short: "Submit completion proof"}
	c.AddCommand(proofSubmitCmd())
	return c
}

func proofSubmitCmd() *cobra.Command {
	var note, file string
	cmd := &cobra.Command{
		Use:   "submit <contract-id>",
		Short: "Submit proof for a contract (--note or --file)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if note == "" && file == "" {
				return fmt.Errorf("either --note or --file is required")
			}
			if note != "" && file != "" {
				return fmt.Errorf("--note and --file are mutually exclusive")
			}
			return withStore(cmd.Context(), func(ctx context.Context, st *store.ContractStore, e engine.Engine) error {
				payload := engine.ProofPayload{Kind: engine.ProofText, Note: note}
				ref := ""
				if file != "" {
					var err error
					payload, ref, err = stageAttachment(args[0], file)
					if err != nil {
						return err
					}
				}
				c, err := st.SubmitProof(ctx, args[0], payload, ref, e.Config)
				var serr *store.Error
				if errors.As(err, &serr) && serr.Category == store.CategoryPartialSettlement {
					fmt.Printf("proof accepted but credits were not minted: %v\n", serr)
					fmt.Printf("retry with: bl contract retry-mint %s\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "text proof")
	cmd.Flags().StringVar(&file, "file", "", "path to a proof attachment")
	return cmd
}

// stageAttachment copies the file into the workspace proof directory and
// returns the payload describing it plus the stored reference.
func stageAttachment(contractID, path string) (engine.ProofPayload, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return engine.ProofPayload{}, "", err
	}
	src, err := os.Open(path)
	if err != nil {
		return engine.ProofPayload{}, "", err
	}
	defer src.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := src.Read(head)
		contentType = http.DetectContentType(head[:n])
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return engine.ProofPayload{}, "", err
		}
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}

	dir, err := db.ProofDir(viper.GetString("workspace"))
	if err != nil {
		return engine.ProofPayload{}, "", err
	}
	ref := contractID + "-" + filepath.Base(path)
	dst, err := os.Create(filepath.Join(dir, ref))
	if err != nil {
		return engine.ProofPayload{}, "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return engine.ProofPayload{}, "", err
	}
	payload := engine.ProofPayload{
		Kind:        engine.ProofAttachment,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
	}
	return payload, ref, nil
}

func ledgerCmd() *cobra.Command {
	c := &cobra.Command{Use: "ledger", Short: "Inspect the credit ledger"}
	c.AddCommand(ledgerListCmd())
	c.AddCommand(ledgerBalanceCmd())
	c.AddCommand(ledgerStreakCmd())
	return c
}

func ledgerListCmd() *cobra.Command {
	var actor, kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListCreditEntries(ctx, repo.LedgerFilters{ActorID: actor, Kind: kind, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Amount", "Kind", "Contract", "Streak", "Created"})
				for _, e := range entries {
					contract := ""
					if e.SourceContractID != nil {
						contract = *e.SourceContractID
					}
					tw.AppendRow(table.Row{e.ID, e.ActorID, e.Amount, e.Kind, contract, e.StreakDays, e.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (mint|redeem)")
	cmd.Flags().IntVar(&limit, "n", 50, "max entries")
	return cmd
}

func ledgerBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [actor-id]",
		Short: "Show an actor's credit balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if len(args) == 1 {
				actor = args[0]
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				balance, err := r.Balance(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"actor_id": actor, "balance": balance})
				}
				fmt.Printf("%s: %d credits\n", actor, balance)
				return nil
			})
		},
	}
	return cmd
}

func ledgerStreakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streak [actor-id]",
		Short: "Show an actor's consecutive-day mint streak",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if len(args) == 1 {
				actor = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				streak, err := e.StreakFor(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"actor_id": actor, "streak_days": streak.Days})
				}
				fmt.Printf("%s: %d day streak\n", actor, streak.Days)
				return nil
			})
		},
	}
	return cmd
}

func rewardCmd() *cobra.Command {
	c := &cobra.Command{Use: "reward", Short: "Manage the rewards catalog"}
	c.AddCommand(rewardAddCmd())
	c.AddCommand(rewardListCmd())
	c.AddCommand(rewardRedeemCmd())
	c.AddCommand(rewardRemoveCmd())
	return c
}

func rewardAddCmd() *cobra.Command {
	var title, description string
	var cost int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a reward to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rw, err := e.CreateReward(ctx, engine.RewardCreateOptions{
					Title:       title,
					Description: description,
					Cost:        cost,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rw)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "reward title")
	cmd.Flags().StringVar(&description, "description", "", "reward description")
	cmd.Flags().IntVar(&cost, "cost", 0, "cost in credits")
	return cmd
}

func rewardListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rewards, err := r.ListRewards(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rewards)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Cost"})
				for _, rw := range rewards {
					tw.AppendRow(table.Row{rw.ID, rw.Title, rw.Cost})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rewardRedeemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeem <reward-id>",
		Short: "Redeem a reward against your balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.RedeemReward(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func rewardRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <reward-id>",
		Short: "Remove a reward from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteReward(ctx, args[0])
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyDeleteCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	var saveEnv bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := uuid.New().String()
				record := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.EnsureActor(ctx, tx, actor, now); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, record); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if saveEnv {
					envPath := filepath.Join(viper.GetString("workspace"), ".env")
					if err := setEnvValue(envPath, "BOUNTYLINE_API_KEY", key); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": record.ID, "actor_id": actor, "key": key})
				}
				fmt.Printf("created key %s for %s\nkey: %s\n", record.ID, actor, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().BoolVar(&saveEnv, "save-env", false, "write the key to the workspace .env")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configImportCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the workspace DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				fmt.Println("config imported from", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the YAML config (defaults to bountyline.yml)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]bool{"valid": true})
			}
			fmt.Println("config is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the YAML config (defaults to bountyline.yml)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show contract counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountContractsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, status := range []string{
					domain.StatusPending, domain.StatusInProgress, domain.StatusReview,
					domain.StatusCompleted, domain.StatusRejected, domain.StatusArchived,
				} {
					tw.AppendRow(table.Row{status, counts[status]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.RemoveAttachment = attachmentRemover(workspace)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("BOUNTYLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BOUNTYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "trust the X-Actor-Id header (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.RemoveAttachment = attachmentRemover(workspace)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

// withStore runs fn against a contract store backed by the local engine. The
// store applies changes optimistically and settles credits after approvals.
func withStore(ctx context.Context, fn func(context.Context, *store.ContractStore, engine.Engine) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor := viper.GetString("actor-id")
		persist := store.EnginePersistence{Engine: e, ActorID: actor}
		st := store.New(store.Options{
			ActorID:     actor,
			Persistence: persist,
			Streaks:     persist.Streaks(),
			Policy:      e.Config.Settlement.Streak,
		})
		if err := st.Refresh(ctx); err != nil {
			return err
		}
		return fn(ctx, st, e)
	})
}

func attachmentRemover(workspace string) func(string) error {
	return func(ref string) error {
		dir, err := db.ProofDir(workspace)
		if err != nil {
			return err
		}
		err = os.Remove(filepath.Join(dir, filepath.Base(ref)))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
