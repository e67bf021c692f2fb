package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/agent"
	"github.com/beaconhq/beacon/internal/tools"
)

func buildChatCmd() *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent",
		Long: "With a message argument, runs one exchange and exits. Without arguments,\n" +
			"starts an interactive session; exit with /quit or Ctrl-D.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := context.Background()
			sessionID := "chat:" + time.Now().Format("2006-01-02T15:04:05")

			if len(args) > 0 {
				return runExchange(ctx, rt, sessionID, strings.Join(args, " "), localOnly)
			}

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("beacon ready (" + rt.cfg.Providers.Local.Model + "); /quit to exit")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					break
				}
				if err := runExchange(ctx, rt, sessionID, line, localOnly); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "Never escalate to the remote tier")
	return cmd
}

func runExchange(ctx context.Context, rt *runtime, sessionID, message string, localOnly bool) error {
	res, err := rt.loop.Run(ctx, sessionID, message, agent.RunOptions{
		LocalOnly: localOnly,
		Sink:      &chatSink{},
	})
	if err != nil {
		return err
	}
	fmt.Println(res.Content)
	if res.Escalated {
		rt.logger.Debug("escalated to remote tier", "provider", res.Provider)
	}
	if err := rt.ws.AppendDailyLog("chat: " + firstLine(message)); err != nil {
		rt.logger.Warn("daily log append failed", "error", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// chatSink surfaces tool activity while the model works.
type chatSink struct{}

func (chatSink) Thinking(string) {}

func (chatSink) ToolStart(name string, _ map[string]any) {
	fmt.Fprintf(os.Stderr, "  [%s...]\n", name)
}

func (chatSink) ToolDone(name string, result *tools.Result) {
	if result != nil && !result.Success {
		fmt.Fprintf(os.Stderr, "  [%s failed]\n", name)
	}
}

func (chatSink) Token(string) {}
