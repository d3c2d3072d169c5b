package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roam/internal/app"
	"roam/internal/config"
	"roam/internal/infra"
	"roam/internal/modules/session"
	"roam/internal/service"
	"roam/internal/types"
)

var (
	chatLoggedIn bool
	chatVerified bool
	chatEmail    string
	chatVerbose  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation using the configured stores and extractor",
	Long: `Reads one message per line from stdin and prints the concierge's reply.
Type /restart to start over, /session to dump the session, /quit to exit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatLoggedIn, "logged-in", false, "caller is logged in")
	chatCmd.Flags().BoolVar(&chatVerified, "verified", false, "caller is verified")
	chatCmd.Flags().StringVar(&chatEmail, "email", "", "caller account email")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "print the full turn response as JSON")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if !chatVerbose {
		level = "warn"
	}
	log, err := infra.NewLogger("development", level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	caller := session.Caller{LoggedIn: chatLoggedIn, Verified: chatVerified, Email: chatEmail}
	return chatLoop(cmd, a.Concierge, caller, log)
}

func chatLoop(cmd *cobra.Command, c *service.Concierge, caller session.Caller, log *zap.Logger) error {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	var id types.ID

	fmt.Fprint(out, "> ")
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/restart":
			if id != "" {
				if _, err := c.Restart(cmd.Context(), id); err != nil {
					fmt.Fprintln(out, "restart failed:", err)
				} else {
					fmt.Fprintln(out, "(started over)")
				}
			}
		case "/session":
			if id == "" {
				fmt.Fprintln(out, "(no session yet)")
				break
			}
			s, err := c.Session(cmd.Context(), id)
			if err != nil {
				fmt.Fprintln(out, "load failed:", err)
				break
			}
			printJSON(out, s)
		default:
			resp, err := c.HandleTurn(cmd.Context(), service.TurnRequest{Message: line, SessionID: id, Caller: caller})
			if err != nil {
				log.Debug("turn failed", zap.Error(err))
				fmt.Fprintln(out, "error:", err)
				break
			}
			id = resp.SessionID
			printTurn(out, resp)
		}
		fmt.Fprint(out, "> ")
	}
	return in.Err()
}

func printTurn(out io.Writer, resp service.TurnResponse) {
	if chatVerbose {
		printJSON(out, resp)
		return
	}
	fmt.Fprintf(out, "roam: %s\n", resp.Reply)
	for _, v := range resp.Cards {
		fmt.Fprintf(out, "  - %s  %d %s %s  $%.0f/day  %.1f★  %s\n", v.ID, v.Year, v.Make, v.Model, v.DailyRate, v.Rating, v.City)
	}
	fmt.Fprintf(out, "  [%s", resp.NextState)
	if resp.Action != session.ActionNone {
		fmt.Fprintf(out, " → %s", resp.Action)
	}
	fmt.Fprintln(out, "]")
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
