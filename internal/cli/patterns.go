package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/memory"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns [name or id]",
	Short: "Show habits learned for a user (default: current user)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			owner := ""
			if len(args) == 1 {
				p, err := eng.FindUser(args[0])
				if err != nil {
					return err
				}
				owner = p.ID
			}
			ps, err := eng.Patterns(owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatPatterns(ps))
			return nil
		})
	},
}

var (
	actionOwner string
	actionAt    string
)

var actionCmd = &cobra.Command{
	Use:   "action [name]",
	Short: "Record something the user did",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseWhen(actionAt, time.Now())
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		return withSession(func(eng *engine.Engine) error {
			owner := actionOwner
			if owner != "" && owner != memory.GlobalOwner {
				p, err := eng.FindUser(owner)
				if err != nil {
					return err
				}
				owner = p.ID
			}
			name := strings.Join(args, "_")
			if err := eng.RecordAction(owner, name, at); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s\n", name)
			return nil
		})
	},
}

func init() {
	actionCmd.Flags().StringVar(&actionOwner, "user", "", `user name, id or "global" (default: current user)`)
	actionCmd.Flags().StringVar(&actionAt, "at", "", "when it happened (RFC 3339, or a duration ago such as 2h)")
}
