package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agentmarket/internal/config"
	"agentmarket/internal/db"
	"agentmarket/internal/domain"
	"agentmarket/internal/engine"
	"agentmarket/internal/migrate"
	"agentmarket/internal/repo"
	"agentmarket/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "amk",
	Short: "Agentmarket CLI",
	Long: `Agentmarket is a marketplace ledger for hiring autonomous work agents.
Clients post jobs with escrowed payment, agents bid, and the ledger tracks
milestones, disputes, ratings, and messages end to end.
- Workspace: your .agentmarket directory holding the database; settings live in marketplace.yml.
- Jobs: posted -> in_progress -> completed (or cancelled/disputed). Accepting a bid locks escrow.
- Escrow: funds lock at the accepted bid amount and pay out on milestone approval or completion.
- Disputes: either party can dispute an in-progress job; an admin resolves and splits the escrow.
- Ratings: both parties can rate a completed job once; agent reputation aggregates the scores.
- Event log: diary of everything the marketplace did, view with 'amk log tail'.`,
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
	viper.SetEnvPrefix("AGENTMARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("admin", false, "act with admin authority (local workspace only)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("admin", rootCmd.PersistentFlags().Lookup("admin"))
}

func registerCommands() {
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(escrowCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(msgCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
		Long:  "Jobs carry the work offer: payment, category, tags, deadline, and an optional milestone plan whose percentages may total at most 100. Any unreserved share settles when the job completes.",
	}
	job.AddCommand(jobPostCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobGetCmd())
	job.AddCommand(jobBidCmd())
	job.AddCommand(jobBidsCmd())
	job.AddCommand(jobAcceptCmd())
	job.AddCommand(jobCompleteCmd())
	job.AddCommand(jobCancelCmd())
	return job
}

func jobPostCmd() *cobra.Command {
	var title, description, payment, category, deadline string
	var tags, milestones []string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(payment)
			if err != nil {
				return fmt.Errorf("invalid --payment: %w", err)
			}
			specs, err := parseMilestoneFlags(milestones)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.PostJob(ctx, engine.JobPostOptions{
					Client:      viper.GetString("actor-id"),
					Title:       title,
					Description: description,
					Payment:     amount,
					Category:    category,
					Tags:        tags,
					Deadline:    optionalString(deadline),
					Milestones:  specs,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "job title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&payment, "payment", "", "payment amount")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringArrayVar(&milestones, "milestone", []string{}, "milestone as 'title:percentage' (repeatable, percentages sum to 100)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("payment")
	return cmd
}

// parseMilestoneFlags turns "title:pct" strings into milestone specs.
func parseMilestoneFlags(raw []string) ([]engine.MilestoneSpec, error) {
	specs := make([]engine.MilestoneSpec, 0, len(raw))
	for _, item := range raw {
		idx := strings.LastIndex(item, ":")
		if idx <= 0 || idx == len(item)-1 {
			return nil, fmt.Errorf("milestone %q must be 'title:percentage'", item)
		}
		var pct int64
		if _, err := fmt.Sscanf(item[idx+1:], "%d", &pct); err != nil {
			return nil, fmt.Errorf("milestone %q has a bad percentage: %w", item, err)
		}
		specs = append(specs, engine.MilestoneSpec{Title: item[:idx], PaymentPercentage: pct})
	}
	return specs, nil
}

func jobListCmd() *cobra.Command {
	var status, client, agent, category, tag, search, sortBy, sortDir string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.JobFilter{
					Client:   client,
					Agent:    agent,
					Category: category,
					Tag:      tag,
					Search:   search,
					SortBy:   sortBy,
					SortDir:  sortDir,
					Limit:    limit,
					Offset:   offset,
				}
				if status != "" {
					st, err := domain.ParseJobStatus(status)
					if err != nil {
						return err
					}
					f.Status = &st
				}
				jobs, err := e.Repo.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Payment", "Client", "Agent", "Bids"})
				for _, j := range jobs {
					agent := ""
					if j.Agent != nil {
						agent = *j.Agent
					}
					tw.AppendRow(table.Row{j.ID, j.Title, j.Status.Wire(), j.Payment.String(), j.Client, agent, len(j.Bids)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (POSTED, IN_PROGRESS, ...)")
	cmd.Flags().StringVar(&client, "client", "", "client filter")
	cmd.Flags().StringVar(&agent, "agent", "", "agent filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&tag, "tag", "", "tag filter")
	cmd.Flags().StringVar(&search, "search", "", "search title and description")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "sort key (created_at, payment)")
	cmd.Flags().StringVar(&sortDir, "sort-dir", "", "sort direction (asc, desc)")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func jobGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobBidCmd() *cobra.Command {
	var amount, proposal string
	var estimatedDays int
	cmd := &cobra.Command{
		Use:   "bid <job-id>",
		Short: "Bid on a posted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.PlaceBid(ctx, engine.BidOptions{
					JobID:         id,
					Agent:         viper.GetString("actor-id"),
					Amount:        amt,
					Proposal:      proposal,
					EstimatedDays: estimatedDays,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "bid amount")
	cmd.Flags().StringVar(&proposal, "proposal", "", "proposal text")
	cmd.Flags().IntVar(&estimatedDays, "estimated-days", 0, "estimated days to deliver")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func jobBidsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bids <job-id>",
		Short: "List bids on a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bids, err := e.Repo.ListBids(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bid", "Agent", "Amount", "Days", "Placed"})
				for _, b := range bids {
					tw.AppendRow(table.Row{b.BidID, b.Agent, b.Amount.String(), b.EstimatedDays, b.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobAcceptCmd() *cobra.Command {
	var bidID int64
	cmd := &cobra.Command{
		Use:   "accept <job-id>",
		Short: "Accept a bid and lock escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AcceptBid(ctx, id, bidID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().Int64Var(&bidID, "bid", 0, "bid id")
	_ = cmd.MarkFlagRequired("bid")
	return cmd
}

func jobCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <job-id>",
		Short: "Complete a job and release remaining escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CompleteJob(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a posted job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CancelJob(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agent profiles",
		Long:  "Agent profiles list skills, rates, and availability, and accumulate reputation from job ratings. Registration is required before bidding.",
	}
	agent.AddCommand(agentRegisterCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentGetCmd())
	agent.AddCommand(agentVerifyCmd())
	return agent
}

func agentRegisterCmd() *cobra.Command {
	var name, description, hourlyRate string
	var skills, portfolio []string
	var unavailable bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rate *decimal.Decimal
			if hourlyRate != "" {
				parsed, err := decimal.NewFromString(hourlyRate)
				if err != nil {
					return fmt.Errorf("invalid --hourly-rate: %w", err)
				}
				rate = &parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterAgent(ctx, engine.AgentRegisterOptions{
					Owner:              viper.GetString("actor-id"),
					Name:               name,
					ServiceDescription: description,
					Skills:             skills,
					PortfolioURLs:      portfolio,
					HourlyRate:         rate,
					Availability:       !unavailable,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "service description")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "skill (repeatable)")
	cmd.Flags().StringArrayVar(&portfolio, "portfolio", []string{}, "portfolio URL (repeatable)")
	cmd.Flags().StringVar(&hourlyRate, "hourly-rate", "", "hourly rate")
	cmd.Flags().BoolVar(&unavailable, "unavailable", false, "register as unavailable")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	var skill, verification, minLevel, sortBy, sortDir string
	var availableOnly bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.AgentFilter{
					Skill:   skill,
					SortBy:  sortBy,
					SortDir: sortDir,
					Limit:   limit,
					Offset:  offset,
				}
				if availableOnly {
					t := true
					f.Available = &t
				}
				if verification != "" {
					level, err := domain.ParseVerificationLevel(verification)
					if err != nil {
						return err
					}
					f.Verification = &level
				}
				if minLevel != "" {
					level, err := domain.ParseVerificationLevel(minLevel)
					if err != nil {
						return err
					}
					f.MinVerification = &level
				}
				agents, err := e.Repo.ListAgents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Owner", "Name", "Rating", "Jobs", "Available", "Level"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.Owner, a.Name, fmt.Sprintf("%.2f", a.Rating()), a.JobsCompleted, a.Availability, a.VerificationLevel.Wire()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "", "skill filter")
	cmd.Flags().BoolVar(&availableOnly, "available", false, "only available agents")
	cmd.Flags().StringVar(&verification, "verification", "", "verification level filter")
	cmd.Flags().StringVar(&minLevel, "min-level", "", "minimum verification level")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "sort key (registered_at, rating, jobs_completed)")
	cmd.Flags().StringVar(&sortDir, "sort-dir", "", "sort direction (asc, desc)")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func agentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <owner>",
		Short: "Get an agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agentVerifyCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "verify <owner>",
		Short: "Set an agent's verification level (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseVerificationLevel(level)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAgentVerification(cmd.Context(), args[0], viper.GetString("actor-id"), viper.GetBool("admin"), parsed)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "verification level (UNVERIFIED, BASIC, VERIFIED, PREMIUM)")
	_ = cmd.MarkFlagRequired("level")
	return cmd
}

func escrowCmd() *cobra.Command {
	esc := &cobra.Command{
		Use:   "escrow",
		Short: "Inspect and move escrowed funds",
	}
	esc.AddCommand(escrowShowCmd())
	esc.AddCommand(escrowActiveCmd())
	esc.AddCommand(escrowFundCmd())
	esc.AddCommand(escrowReleaseCmd())
	return esc
}

func escrowActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List escrows still holding funds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActiveEscrows(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Job", "Client", "Agent", "Amount", "Released", "Status"})
				for _, esc := range items {
					agent := ""
					if esc.Agent != nil {
						agent = *esc.Agent
					}
					tw.AppendRow(table.Row{esc.JobID, esc.Client, agent, esc.Amount.String(), esc.Released.String(), esc.Status.Wire()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func escrowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show escrow state for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.Repo.GetEscrow(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	return cmd
}

func escrowFundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund <job-id>",
		Short: "Fund escrow for an assigned job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.FundEscrow(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	return cmd
}

func escrowReleaseCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "release <job-id>",
		Short: "Release part of the escrow to the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				esc, err := e.ReleaseEscrow(ctx, id, viper.GetString("actor-id"), amt)
				if err != nil {
					return err
				}
				return printJSONOrTable(esc)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to release")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{
		Use:   "milestone",
		Short: "Work through job milestones",
		Long:  "Milestones split a job's payment by percentage. Submit when the work is ready; approval releases that share of the escrow.",
	}
	ms.AddCommand(milestoneListCmd())
	ms.AddCommand(milestoneSubmitCmd())
	ms.AddCommand(milestoneApproveCmd())
	ms.AddCommand(milestoneReviseCmd())
	return ms
}

func milestoneListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List milestones for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMilestones(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Pct", "Status"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Title, m.PaymentPercentage, m.Status.Wire()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func milestoneSubmitCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "submit <job-id> <milestone-id>",
		Short: "Submit milestone work",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, msID, err := parseIDPair(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitMilestone(ctx, jobID, msID, viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "submission notes")
	return cmd
}

func milestoneApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <job-id> <milestone-id>",
		Short: "Approve a submitted milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, msID, err := parseIDPair(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ApproveMilestone(ctx, jobID, msID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func milestoneReviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise <job-id> <milestone-id>",
		Short: "Request changes on a submitted milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, msID, err := parseIDPair(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RequestMilestoneRevision(ctx, jobID, msID, viper.GetString("actor-id"), feedback)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what needs to change")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func disputeCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dispute",
		Short: "Open and settle disputes",
	}
	d.AddCommand(disputeOpenCmd())
	d.AddCommand(disputeListCmd())
	d.AddCommand(disputeGetCmd())
	d.AddCommand(disputeRespondCmd())
	d.AddCommand(disputeResolveCmd())
	return d
}

func disputeOpenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "open <job-id>",
		Short: "Open a dispute on an in-progress job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.OpenDispute(ctx, id, viper.GetString("actor-id"), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the job is disputed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeListCmd() *cobra.Command {
	var jobID int64
	var status string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.DisputeFilter{Limit: limit, Offset: offset}
				if jobID > 0 {
					f.JobID = &jobID
				}
				if status != "" {
					st, err := domain.ParseDisputeStatus(status)
					if err != nil {
						return err
					}
					f.Status = &st
				}
				items, err := e.Repo.ListDisputes(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func disputeGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDispute(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func disputeRespondCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Respond to a dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RespondToDispute(ctx, id, viper.GetString("actor-id"), response)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "response text")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func disputeResolveCmd() *cobra.Command {
	var outcome, notes string
	var refundPct int64
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a dispute (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			parsed, err := domain.ParseDisputeStatus(outcome)
			if err != nil {
				return err
			}
			opts := engine.DisputeResolveOptions{
				DisputeID: id,
				Actor:     viper.GetString("actor-id"),
				Admin:     viper.GetBool("admin"),
				Outcome:   parsed,
				Notes:     notes,
			}
			if cmd.Flags().Changed("refund-pct") {
				opts.RefundPercentage = &refundPct
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ResolveDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "RESOLVED_FOR_CLIENT, RESOLVED_FOR_AGENT, or RESOLVED_SPLIT")
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	cmd.Flags().Int64Var(&refundPct, "refund-pct", 0, "refund percentage for a split (0-100)")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func rateCmd() *cobra.Command {
	var rating int
	var review string
	cmd := &cobra.Command{
		Use:   "rate <job-id>",
		Short: "Rate the counterparty on a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rt, err := e.RateAgent(ctx, engine.RateOptions{
					JobID:  id,
					Rater:  viper.GetString("actor-id"),
					Rating: rating,
					Review: review,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "score from 1 to 5")
	cmd.Flags().StringVar(&review, "review", "", "review text")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func msgCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "msg",
		Short: "Message the other job party",
	}
	m.AddCommand(msgSendCmd())
	m.AddCommand(msgListCmd())
	m.AddCommand(msgReadCmd())
	m.AddCommand(msgUnreadCmd())
	return m
}

func msgUnreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Count unread messages addressed to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Repo.CountUnreadMessages(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"unread": n})
			})
		},
	}
	return cmd
}

func msgSendCmd() *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "send <job-id>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendMessage(ctx, id, viper.GetString("actor-id"), content)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "message text")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func msgListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List messages on a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMessages(ctx, id, limit, offset)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func msgReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <job-id>",
		Short: "Mark messages addressed to you as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.MarkMessagesRead(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"updated": n})
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything the marketplace did: postings, bids, escrow moves, disputes, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	var afterID int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, repo.EventFilter{
					EntityKind: entityKind,
					EntityID:   entityID,
					Type:       evtType,
					AfterID:    afterID,
					Limit:      n,
				})
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
	cmd.Flags().Int64Var(&afterID, "after-id", 0, "only events after this id")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Marketplace-wide counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Owner:   owner,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is only shown once.
				return printJSONOrTable(map[string]string{
					"id":    key.ID,
					"owner": key.Owner,
					"name":  key.Name,
					"key":   rawKey,
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
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
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect marketplace config",
		Long:  "Config is the rulebook (marketplace.yml): category catalog, listing limits, dispute admins, webhook targets, and the deadline sweep schedule.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default marketplace.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
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
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("AGENTMARKET_JWT_SECRET"),
				AllowLegacyActorHeader: legacyHeader,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AGENTMARKET_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			stopSweep, err := server.StartDeadlineSweeper(e, cfg.Sweeper.Schedule, logger)
			if err != nil {
				return err
			}
			defer stopSweep()
			if stopHooks := server.StartWebhookDispatcher(e, cfg, logger); stopHooks != nil {
				defer stopHooks()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Agentmarket API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
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
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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
	return fn(ctx, repo.Repo{DB: conn})
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

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDPair(args []string) (int64, int64, error) {
	a, err := parseID(args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := parseID(args[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
