package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/gap"
	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

type outcomeView struct {
	Outcome  string      `json:"outcome"`
	Hole     *holes.Hole `json:"hole,omitempty"`
	Filled   *holes.Hole `json:"filled,omitempty"`
	Messages int         `json:"messages"`
	Attempts int         `json:"attempts,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func newOutcomeView(outcome gap.Outcome) outcomeView {
	view := outcomeView{
		Outcome:  outcome.Kind.String(),
		Messages: outcome.Messages,
		Attempts: outcome.Attempts,
	}
	if !outcome.Hole.Empty() {
		hole := outcome.Hole
		view.Hole = &hole
	}
	if !outcome.Filled.Empty() {
		filled := outcome.Filled
		view.Filled = &filled
	}
	if outcome.Err != nil {
		view.Error = outcome.Err.Error()
	}
	return view
}

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <conversation-id>",
		Short: "Fetch missing history from the remote service",
		Long: `Resolve the hole nearest to --near (default: the newest end of the
conversation). With --all, keep resolving until no holes remain or a round
makes no progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			nearValue, _ := cmd.Flags().GetString("near")
			all, _ := cmd.Flags().GetBool("all")

			near := newestIndex(scopeID)
			if nearValue != "" {
				near, err = types.ParseIndex(scopeID, nearValue)
				if err != nil {
					return writeCommandError(cmd, err)
				}
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if _, err := requireConversation(cmd.Context(), ctx, scopeID); err != nil {
				return writeCommandError(cmd, err)
			}
			client, err := ctx.Client(nil)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			resolver := ctx.NewResolver(client)
			defer resolver.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var views []outcomeView
			var last gap.Outcome
			for {
				last = waitResolution(runCtx, resolver, scopeID, near)
				views = append(views, newOutcomeView(last))
				if !ctx.JSONMode {
					printOutcome(cmd, last)
				}
				if !all || last.Kind != gap.OutcomeResolved || last.Filled.Empty() {
					break
				}
			}

			if ctx.JSONMode {
				if err := writeJSON(cmd, map[string]any{"scope_id": scopeID, "rounds": views}); err != nil {
					return err
				}
			}
			switch last.Kind {
			case gap.OutcomeDegraded:
				return writeCommandError(cmd, fmt.Errorf("resolution of %d gave up: %v", scopeID, last.Err))
			case gap.OutcomeCancelled:
				return writeCommandError(cmd, fmt.Errorf("resolution of %d cancelled", scopeID))
			}
			return nil
		},
	}
	cmd.Flags().String("near", "", "resolve the hole nearest to ID or ID:TS")
	cmd.Flags().Bool("all", false, "resolve until no holes remain")
	return cmd
}

// waitResolution requests a resolution and waits for it. When ctx ends the
// resolution is cancelled and its final outcome still awaited.
func waitResolution(ctx context.Context, resolver *gap.Resolver, scopeID int64, near types.MessageIndex) gap.Outcome {
	ticket := resolver.RequestResolution(scopeID, near)
	outcome, err := ticket.Wait(ctx)
	if err == nil {
		return outcome
	}
	resolver.Cancel(scopeID)
	outcome, _ = ticket.Wait(context.Background())
	return outcome
}

func printOutcome(cmd *cobra.Command, outcome gap.Outcome) {
	out := cmd.OutOrStdout()
	switch outcome.Kind {
	case gap.OutcomeResolved:
		if outcome.Filled.Empty() {
			fmt.Fprintf(out, "No progress on %s\n", formatHole(outcome.Hole))
			return
		}
		fmt.Fprintf(out, "Filled %s with %d messages\n", formatHole(outcome.Filled), outcome.Messages)
	case gap.OutcomeNoHole:
		fmt.Fprintln(out, "No holes to resolve")
	case gap.OutcomeDegraded:
		if !outcome.Hole.Empty() {
			fmt.Fprintf(out, "Gave up on %s after %d attempts\n", formatHole(outcome.Hole), outcome.Attempts)
		}
	case gap.OutcomeCancelled:
		fmt.Fprintln(out, "Cancelled")
	}
}
