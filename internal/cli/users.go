package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/memory"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage known users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known users, most recently seen first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			users := eng.ListUsers()
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users yet.")
				return nil
			}
			cur, _ := eng.CurrentUser()
			for _, p := range users {
				fmt.Fprintln(cmd.OutOrStdout(), formatProfile(p, p.ID == cur.ID))
			}
			return nil
		})
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a named user",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			p, err := eng.CreateUser(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", p.CanonicalName, p.ID)
			return nil
		})
	},
}

var usersSwitchCmd = &cobra.Command{
	Use:   "switch [name or id]",
	Short: "Make a user current",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			p, err := eng.SwitchUser(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "now talking to %s\n", p.DisplayName())
			return nil
		})
	},
}

var usersCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			p, ok := eng.CurrentUser()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nobody is current.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatProfile(p, true))
			for _, k := range slices.Sorted(maps.Keys(p.Facts)) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", k, p.Facts[k])
			}
			return nil
		})
	},
}

var (
	deleteReplacement string
	deleteReassignTo  string
)

var usersDeleteCmd = &cobra.Command{
	Use:   "delete [name or id]",
	Short: "Delete a user and their memories",
	Long: `Delete a user. Their memories and activity are deleted too, unless
--reassign-to names another user or "global". Deleting the current user
requires --replacement.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			p, err := eng.FindUser(strings.Join(args, " "))
			if err != nil {
				return err
			}
			opts := engine.DeleteOptions{}
			if deleteReplacement != "" {
				r, err := eng.FindUser(deleteReplacement)
				if err != nil {
					return fmt.Errorf("replacement: %w", err)
				}
				opts.Replacement = r.ID
			}
			switch deleteReassignTo {
			case "", memory.GlobalOwner:
				opts.ReassignTo = deleteReassignTo
			default:
				r, err := eng.FindUser(deleteReassignTo)
				if err != nil {
					return fmt.Errorf("reassign-to: %w", err)
				}
				opts.ReassignTo = r.ID
			}

			rep, err := eng.DeleteUser(p.ID, opts)
			if err != nil {
				return err
			}
			if rep.ReassignedTo != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s; %d memories moved to %s\n", p.DisplayName(), rep.Memories, rep.ReassignedTo)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s and %d memories\n", p.DisplayName(), rep.Memories)
			}
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete the current user and everything about them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			p, rep, err := eng.ForgetCurrent()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s and %d memories\n", p.DisplayName(), rep.Memories)
			return nil
		})
	},
}

func init() {
	usersDeleteCmd.Flags().StringVar(&deleteReplacement, "replacement", "", "user to make current when deleting the current user")
	usersDeleteCmd.Flags().StringVar(&deleteReassignTo, "reassign-to", "", `user (or "global") that receives the memories`)

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersSwitchCmd)
	usersCmd.AddCommand(usersCurrentCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}
