package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/transcript"
)

var importCmd = &cobra.Command{
	Use:   "import [jsonl]",
	Short: "Replay a JSONL utterance log",
	Long: `Replay a JSONL log through identification and memory. Each line may
carry "text" (an utterance), "action", and "remember" with "type",
"importance" and "tags". Lines without an "at" timestamp are spaced one
second apart. Malformed lines are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	records, skipped, err := transcript.ParseFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if skipped > 0 {
		fmt.Fprintf(out, "skipped %s malformed lines\n", humanize.Comma(int64(skipped)))
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "Nothing to import.")
		return nil
	}

	return withSession(func(eng *engine.Engine) error {
		start := time.Now()
		st := transcript.Replay(eng, records, start, func(i int, err error) {
			fmt.Fprintf(out, "record %d: %v\n", i+1, err)
		})
		eng.Flush()

		fmt.Fprintf(out, "Imported %s records in %s: %s utterances (%d ambiguous), %d memories, %d actions, %d failed\n",
			humanize.Comma(int64(len(records))), time.Since(start).Round(time.Millisecond),
			humanize.Comma(int64(st.Utterances)), st.Ambiguous, st.Memories, st.Actions, st.Failed)
		fmt.Fprintf(out, "%d users, %d memories\n", len(eng.ListUsers()), eng.MemoryCount())
		return nil
	})
}
