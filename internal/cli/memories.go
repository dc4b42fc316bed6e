package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/memory"
)

var (
	rememberType       string
	rememberImportance string
	rememberTags       []string
	rememberOwner      string
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := memory.ParseType(rememberType)
		if err != nil {
			return err
		}
		var imp memory.Importance
		if rememberImportance != "" {
			if imp, err = memory.ParseImportance(rememberImportance); err != nil {
				return err
			}
		}
		return withSession(func(eng *engine.Engine) error {
			m, err := eng.Remember(memory.Input{
				Content:    strings.Join(args, " "),
				Type:       typ,
				Importance: imp,
				Tags:       rememberTags,
				Owner:      rememberOwner,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatEntry(m))
			return nil
		})
	},
}

var (
	recallLimit   int
	recallType    string
	recallTag     string
	recallOwner   string
	recallSince   string
	recallUntil   string
	recallMinimum float64
	recallList    bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Recall memories relevant to a query",
	Long:  "Rank memories by term overlap, importance, recency and use. With --list, print an owner's memories unranked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			if recallList {
				mems := eng.Memories(recallOwner)
				for _, m := range mems {
					fmt.Fprintln(cmd.OutOrStdout(), formatEntry(m))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d memories\n", len(mems))
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("a query is required unless --list is set")
			}

			f := memory.Filter{
				Owner:        recallOwner,
				Tag:          recallTag,
				MinRelevance: recallMinimum,
			}
			if recallType != "" {
				typ, err := memory.ParseType(recallType)
				if err != nil {
					return err
				}
				f.Type = typ
			}
			now := time.Now()
			var err error
			if f.Since, err = parseWhen(recallSince, now); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if f.Until, err = parseWhen(recallUntil, now); err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			res, err := eng.Recall(strings.Join(args, " "), f, recallLimit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResults(res))
			return nil
		})
	},
}

var associateCmd = &cobra.Command{
	Use:   "associate [id] [id]",
	Short: "Link two memories",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			if err := eng.Associate(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "linked %s and %s\n", args[0], args[1])
			return nil
		})
	},
}

var consolidateThreshold float64

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge near-duplicate memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			aged := eng.Decay(time.Now())
			rep, err := eng.Consolidate(consolidateThreshold)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d memories aged, %d clusters merged, %d removed (%d -> %d)\n",
				aged, rep.Clusters, len(rep.Removed), rep.Before, rep.After)
			return nil
		})
	},
}

var statsOwner string

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Inspect stored memories",
}

var memoriesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count memories by type and importance and rate their health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(eng *engine.Engine) error {
			sum, err := eng.MemorySummary(statsOwner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatSummary(sum))
			return nil
		})
	},
}

func init() {
	memoriesCmd.AddCommand(memoriesStatsCmd)
	memoriesStatsCmd.Flags().StringVar(&statsOwner, "owner", "", `owning user id or "global" (default: every memory)`)

	rememberCmd.Flags().StringVarP(&rememberType, "type", "t", "", "episodic, semantic, procedural or emotional")
	rememberCmd.Flags().StringVarP(&rememberImportance, "importance", "i", "", "trivial, low, medium, high or critical (default: inferred)")
	rememberCmd.Flags().StringSliceVar(&rememberTags, "tag", nil, "tag (repeatable)")
	rememberCmd.Flags().StringVar(&rememberOwner, "owner", "", `owning user id or "global" (default: current user)`)

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 0, "maximum number of results (default from config)")
	recallCmd.Flags().StringVarP(&recallType, "type", "t", "", "only this memory type")
	recallCmd.Flags().StringVar(&recallTag, "tag", "", "only memories with this tag")
	recallCmd.Flags().StringVar(&recallOwner, "owner", "", "owning user id or \"global\" (default: current user)")
	recallCmd.Flags().StringVar(&recallSince, "since", "", "created at or after (RFC 3339, or a duration such as 72h)")
	recallCmd.Flags().StringVar(&recallUntil, "until", "", "created at or before (RFC 3339, or a duration)")
	recallCmd.Flags().Float64Var(&recallMinimum, "min-relevance", 0, "drop results scoring below this")
	recallCmd.Flags().BoolVar(&recallList, "list", false, "list memories instead of ranking them")

	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0, "similarity threshold in (0,1] (default from config)")
}
