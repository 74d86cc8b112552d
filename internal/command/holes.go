package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

// NewHolesCmd creates the holes command group.
func NewHolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holes",
		Short: "Inspect and edit the missing ranges of a conversation",
	}
	cmd.AddCommand(newHolesLsCmd(), newHolesAtCmd(), newHolesMarkCmd(true), newHolesMarkCmd(false))
	return cmd
}

func newHolesLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <conversation-id>",
		Short: "List holes in ascending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if _, err := requireConversation(cmd.Context(), ctx, scopeID); err != nil {
				return writeCommandError(cmd, err)
			}

			resolver := ctx.NewResolver(nil)
			defer resolver.Close()
			set, err := resolver.Holes(scopeID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeHoles(cmd, ctx.JSONMode, scopeID, set)
		},
	}
}

func newHolesAtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "at <conversation-id> <ID[:TS]>",
		Short: "Show the hole containing a message position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			idx, err := types.ParseIndex(scopeID, args[1])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			resolver := ctx.NewResolver(nil)
			defer resolver.Close()
			hole, ok, err := resolver.HoleContaining(idx)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				result := map[string]any{"missing": ok}
				if ok {
					result["hole"] = hole
				}
				return writeJSON(cmd, result)
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not inside a hole\n", formatPosition(idx))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is missing: %s\n", formatPosition(idx), formatHole(hole))
			return nil
		},
	}
}

// newHolesMarkCmd builds "holes missing" or "holes fill".
func newHolesMarkCmd(missing bool) *cobra.Command {
	use, short, verb := "fill", "Mark [LOW, HIGH) as present locally", "Filled"
	if missing {
		use, short, verb = "missing", "Mark [LOW, HIGH) as missing", "Marked missing"
	}
	return &cobra.Command{
		Use:   use + " <conversation-id> <LOW> <HIGH>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			scopeID, err := parseScope(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			low, err := types.ParseIndex(scopeID, args[1])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			high, err := types.ParseIndex(scopeID, args[2])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if !low.Less(high) {
				return writeCommandError(cmd, fmt.Errorf("empty range [%s, %s)", formatPosition(low), formatPosition(high)))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if _, err := requireConversation(cmd.Context(), ctx, scopeID); err != nil {
				return writeCommandError(cmd, err)
			}

			resolver := ctx.NewResolver(nil)
			defer resolver.Close()
			if missing {
				err = resolver.MarkRangeMissing(cmd.Context(), low, high)
			} else {
				err = resolver.MarkRangeFilled(cmd.Context(), low, high)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}
			set, err := resolver.Holes(scopeID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if !ctx.JSONMode {
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s, %s)\n", verb, formatPosition(low), formatPosition(high))
			}
			return writeHoles(cmd, ctx.JSONMode, scopeID, set)
		},
	}
}

func writeHoles(cmd *cobra.Command, jsonMode bool, scopeID int64, set []holes.Hole) error {
	if jsonMode {
		if set == nil {
			set = []holes.Hole{}
		}
		return writeJSON(cmd, map[string]any{"scope_id": scopeID, "holes": set})
	}
	out := cmd.OutOrStdout()
	if len(set) == 0 {
		fmt.Fprintf(out, "Conversation %d has no holes\n", scopeID)
		return nil
	}
	fmt.Fprintf(out, "Holes in %d (%d):\n", scopeID, len(set))
	for _, hole := range set {
		fmt.Fprintf(out, "  %s\n", formatHole(hole))
	}
	return nil
}
