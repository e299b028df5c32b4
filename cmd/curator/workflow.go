package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/berntpopp/gene-curator-sub000/internal/app"
	"github.com/berntpopp/gene-curator-sub000/internal/domain"
	"github.com/berntpopp/gene-curator-sub000/internal/engine"
	"github.com/berntpopp/gene-curator-sub000/internal/repo"
)

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Create and inspect work items"}
	item.AddCommand(itemCreatePrecurationCmd())
	item.AddCommand(itemCreateCurationCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemEvidenceCmd())
	return item
}

func itemCreatePrecurationCmd() *cobra.Command {
	var opts engine.PrecurationCreateOptions
	var stage string
	cmd := &cobra.Command{
		Use:   "create-precuration",
		Short: "Create a precuration in entry (default) or precuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				opts.ActorID = actor
				opts.Stage = domain.Stage(stage)
				p, err := rt.Engine.CreatePrecuration(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "scope id")
	cmd.Flags().StringVar(&opts.GeneID, "gene", "", "gene id, e.g. HGNC:1100")
	cmd.Flags().StringVar(&opts.DiseaseName, "disease", "", "disease name")
	cmd.Flags().StringVar(&opts.ModeOfInheritance, "moi", "", "mode of inheritance")
	cmd.Flags().StringVar(&opts.Rationale, "rationale", "", "lumping/splitting rationale")
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage: entry or precuration")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("gene")
	return cmd
}

func itemCreateCurationCmd() *cobra.Command {
	var opts engine.CurationCreateOptions
	var stage string
	var score float64
	cmd := &cobra.Command{
		Use:   "create-curation",
		Short: "Create a curation in entry (default) or precuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				opts.ActorID = actor
				opts.Stage = domain.Stage(stage)
				if cmd.Flags().Changed("score") {
					opts.ComputedScore = &score
				}
				c, err := rt.Engine.CreateCuration(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (generated when empty)")
	cmd.Flags().StringVar(&opts.ScopeID, "scope", "", "scope id")
	cmd.Flags().StringVar(&opts.GeneID, "gene", "", "gene id")
	cmd.Flags().StringVar(&opts.PrecurationID, "precuration", "", "originating precuration id")
	cmd.Flags().StringVar(&opts.DiseaseName, "disease", "", "disease name")
	cmd.Flags().StringVar(&opts.ModeOfInheritance, "moi", "", "mode of inheritance")
	cmd.Flags().StringVar(&opts.EvidenceJSON, "evidence-json", "", "evidence document as JSON")
	cmd.Flags().StringVar(&opts.EvidenceSummary, "summary", "", "evidence summary")
	cmd.Flags().Float64Var(&score, "score", 0, "computed score")
	cmd.Flags().StringVar(&opts.Classification, "classification", "", "classification, e.g. Definitive")
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage: entry or precuration")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("gene")
	return cmd
}

func itemEvidenceCmd() *cobra.Command {
	var upd engine.EvidenceUpdate
	var evidence, summary, classification string
	var score float64
	cmd := &cobra.Command{
		Use:   "evidence <curation-id>",
		Short: "Edit a curation's evidence before it is submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			upd.CurationID = args[0]
			upd.ActorID = actor
			if cmd.Flags().Changed("evidence-json") {
				upd.EvidenceJSON = &evidence
			}
			if cmd.Flags().Changed("summary") {
				upd.EvidenceSummary = &summary
			}
			if cmd.Flags().Changed("classification") {
				upd.Classification = &classification
			}
			if cmd.Flags().Changed("score") {
				upd.ComputedScore = &score
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				c, err := rt.Engine.UpdateEvidence(ctx, upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&evidence, "evidence-json", "", "evidence document as JSON")
	cmd.Flags().StringVar(&summary, "summary", "", "evidence summary")
	cmd.Flags().StringVar(&classification, "classification", "", "classification")
	cmd.Flags().Float64Var(&score, "score", 0, "computed score")
	return cmd
}

func itemShowCmd() *cobra.Command {
	var itemType string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.Repo.GetItem(ctx, domain.ItemRef{ID: args[0], Type: t})
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&itemType, "type", string(domain.ItemCuration), "precuration, curation or active")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	var itemType, stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List curations or precurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage != "" {
				s, err := domain.ParseStage(stage)
				if err != nil {
					return err
				}
				f.Stage = s
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				switch domain.ItemType(itemType) {
				case domain.ItemPrecuration:
					items, err := rt.Engine.Repo.ListPrecurations(ctx, f)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw := newTable("ID", "Scope", "Gene", "Stage", "Status", "Created by")
					for _, p := range items {
						tw.AppendRow([]any{p.ID, p.ScopeID, p.GeneID, p.Stage, p.Status, p.CreatedBy})
					}
					tw.Render()
					return nil
				case domain.ItemCuration:
					items, err := rt.Engine.Repo.ListCurations(ctx, f)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(items)
					}
					tw := newTable("ID", "Scope", "Gene", "Stage", "Status", "Classification", "Created by")
					for _, c := range items {
						tw.AppendRow([]any{c.ID, c.ScopeID, c.GeneID, c.Stage, c.Status, derefString(c.Classification), c.CreatedBy})
					}
					tw.Render()
					return nil
				}
				return fmt.Errorf("list supports precuration or curation, got %q", itemType)
			})
		},
	}
	cmd.Flags().StringVar(&itemType, "type", string(domain.ItemCuration), "precuration or curation")
	cmd.Flags().StringVar(&f.ScopeID, "scope", "", "scope filter")
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func addItemFlags(cmd *cobra.Command, itemType *string) {
	cmd.Flags().StringVar(itemType, "type", string(domain.ItemCuration), "precuration, curation or active")
}

func validateCmd() *cobra.Command {
	var itemType, target string
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Check a transition without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			to, err := domain.ParseStage(target)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.Repo.GetItem(ctx, domain.ItemRef{ID: args[0], Type: t})
				if err != nil {
					return err
				}
				res, err := rt.Engine.Validate(ctx, item.CurrentStage(), to, actor, item)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s -> %s: valid=%t\n", item.CurrentStage(), to, res.IsValid)
				tw := newTable("Kind", "Message")
				for i, msg := range res.Errors {
					tw.AppendRow([]any{res.ErrorKinds[i], msg})
				}
				for _, msg := range res.Warnings {
					tw.AppendRow([]any{"warning", msg})
				}
				for _, msg := range res.Requirements {
					tw.AppendRow([]any{"requirement", msg})
				}
				tw.Render()
				return nil
			})
		},
	}
	addItemFlags(cmd, &itemType)
	cmd.Flags().StringVar(&target, "to", "", "target stage")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func transitionCmd() *cobra.Command {
	var itemType, target, notes string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move an item to another stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			to, err := domain.ParseStage(target)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rec, err := rt.Engine.Execute(ctx, engine.ExecuteRequest{ItemID: args[0], ItemType: t, Target: to, ActorID: actor, Notes: notes})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	addItemFlags(cmd, &itemType)
	cmd.Flags().StringVar(&target, "to", "", "target stage")
	cmd.Flags().StringVar(&notes, "notes", "", "audit note")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func stateCmd() *cobra.Command {
	var itemType string
	cmd := &cobra.Command{
		Use:   "state <id>",
		Short: "Show stage, next stages, history and pending reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := rt.Engine.GetState(ctx, args[0], t)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("%s: %s (%.0f%%), next: %v, pending reviews: %d\n", st.Item, st.CurrentStage, st.Progress, st.NextStages, len(st.PendingReviews))
				tw := newTable("#", "From", "To", "By", "At", "Notes")
				for _, h := range st.History {
					tw.AppendRow([]any{h.ID, h.FromStage, h.ToStage, h.ExecutedBy, h.ExecutedAt, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	addItemFlags(cmd, &itemType)
	return cmd
}

func reviewCmd() *cobra.Command {
	rv := &cobra.Command{Use: "review", Short: "Peer review assignment and decisions"}
	rv.AddCommand(reviewAssignCmd())
	rv.AddCommand(reviewSubmitCmd())
	rv.AddCommand(reviewEligibleCmd())
	rv.AddCommand(reviewListCmd())
	return rv
}

func reviewAssignCmd() *cobra.Command {
	var itemType, reviewer string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a reviewer to an item in review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.AssignReviewer(ctx, engine.AssignRequest{ItemID: args[0], ItemType: t, ReviewerID: reviewer, AssignedBy: actor})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	addItemFlags(cmd, &itemType)
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer user id")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func reviewSubmitCmd() *cobra.Command {
	var decision, comments, suggested string
	cmd := &cobra.Command{
		Use:   "submit <review-id>",
		Short: "Submit a decision as the assigned reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Engine.SubmitReview(ctx, engine.SubmitRequest{
					ReviewID:         args[0],
					ReviewerID:       actor,
					Decision:         domain.Recommendation(decision),
					Comments:         comments,
					SuggestedChanges: optionalString(suggested),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve, request_changes or reject")
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	cmd.Flags().StringVar(&suggested, "suggested-changes", "", "suggested changes")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func reviewEligibleCmd() *cobra.Command {
	var scope, exclude string
	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List review-capable scope members, least loaded first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.GetEligibleReviewers(ctx, scope, exclude)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("User", "Name", "Role", "Pending")
				for _, c := range items {
					tw.AppendRow([]any{c.UserID, c.Name, c.Role, c.PendingReviews})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id")
	cmd.Flags().StringVar(&exclude, "exclude", "", "user id to leave out")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func reviewListCmd() *cobra.Command {
	var itemType string
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List reviews of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseItemType(itemType)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListReviews(ctx, domain.ItemRef{ID: args[0], Type: t})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Reviewer", "Status", "Recommendation", "Assigned", "Reviewed")
				for _, r := range items {
					rec := ""
					if r.Recommendation != nil {
						rec = string(*r.Recommendation)
					}
					tw.AppendRow([]any{r.ID, r.ReviewerID, r.Status, rec, r.AssignedAt, derefString(r.ReviewedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	addItemFlags(cmd, &itemType)
	return cmd
}

func statsCmd() *cobra.Command {
	var q engine.StatisticsQuery
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Stage counts, review throughput, dwell times and bottleneck",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := rt.Engine.GetStatistics(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Window: %d days, reviews %d (%d completed, %d pending), approval rate %.1f%%, bottleneck: %s\n",
					st.WindowDays, st.TotalReviews, st.CompletedReviews, st.PendingReviews, st.ApprovalRate*100, bottleneckLabel(st.BottleneckStage))
				tw := newTable("Stage", "Items", "Avg dwell (h)")
				for _, s := range domain.Stages {
					tw.AppendRow([]any{s, st.StageCounts[s], fmt.Sprintf("%.1f", st.AverageDwellHours[s])})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.ScopeID, "scope", "", "scope id (all scopes when empty)")
	cmd.Flags().IntVar(&q.WindowDays, "window", 30, "window in days")
	return cmd
}

func bottleneckLabel(s domain.Stage) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
