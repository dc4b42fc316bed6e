package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/lazypower/familiar/internal/client"
	"github.com/lazypower/familiar/internal/engine"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/memory"
)

// talker is what a conversation needs: the engine in-process, or a server.
type talker interface {
	Command(text string) (engine.CommandResult, bool, error)
	Utterance(text string) (identity.Match, error)
	Remember(content string, typ memory.Type, imp memory.Importance, tags []string) (memory.Entry, error)
	Recall(query string, limit int) ([]memory.Result, error)
}

type local struct{ eng *engine.Engine }

func (l local) Command(text string) (engine.CommandResult, bool, error) {
	return l.eng.HandleCommand(text)
}

func (l local) Utterance(text string) (identity.Match, error) {
	return l.eng.ProcessUtterance(text)
}

func (l local) Remember(content string, typ memory.Type, imp memory.Importance, tags []string) (memory.Entry, error) {
	return l.eng.Remember(memory.Input{Content: content, Type: typ, Importance: imp, Tags: tags})
}

func (l local) Recall(query string, limit int) ([]memory.Result, error) {
	return l.eng.Recall(query, memory.Filter{}, limit)
}

var (
	chatRemote    bool
	chatServerURL string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to familiar interactively",
	Long: `Start an interactive session. Each line is checked for an identity command
("switch to Ana", "who am I", "forget me") and otherwise identified as an
utterance. Lines starting with /remember or /recall manage memories.`,
	RunE: runChat,
}

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Identify the speaker of one utterance",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTalker(func(t talker) error {
			reply, err := converse(t, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, sayCmd} {
		c.Flags().BoolVar(&chatRemote, "remote", false, "talk to a running server instead of opening the database")
		c.Flags().StringVar(&chatServerURL, "server", "", "server URL for --remote (default $FAMILIAR_URL or http://127.0.0.1:37778)")
	}
}

func withTalker(fn func(talker) error) error {
	if chatRemote {
		c := client.New(chatServerURL)
		if !c.Healthy() {
			return errors.New("familiar server is not reachable; start it with `familiar serve`")
		}
		return fn(c)
	}
	return withSession(func(eng *engine.Engine) error {
		return fn(local{eng})
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	return withTalker(func(t talker) error {
		home, _ := os.UserHomeDir()
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "familiar> ",
			HistoryFile:     filepath.Join(home, ".familiar", "history"),
			HistoryLimit:    500,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("init readline: %w", err)
		}
		defer rl.Close()

		fmt.Fprintln(rl.Stdout(), "Interactive mode (Ctrl+D to exit)")
		for {
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" {
				return nil
			}

			reply, err := converse(t, input)
			if err != nil {
				fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
				continue
			}
			fmt.Fprintln(rl.Stdout(), reply)
		}
	})
}

// converse handles one line of conversation and returns the reply to show.
func converse(t talker, input string) (string, error) {
	switch {
	case strings.HasPrefix(input, "/remember "):
		m, err := t.Remember(strings.TrimSpace(strings.TrimPrefix(input, "/remember ")), "", 0, nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("remembered %s", m.ID), nil

	case strings.HasPrefix(input, "/recall "):
		res, err := t.Recall(strings.TrimSpace(strings.TrimPrefix(input, "/recall ")), 5)
		if err != nil {
			return "", err
		}
		return formatResults(res), nil
	}

	res, handled, err := t.Command(input)
	if err != nil {
		return "", err
	}
	if handled {
		return res.Message, nil
	}

	m, err := t.Utterance(input)
	if err != nil {
		return "", err
	}
	return formatMatch(m), nil
}
