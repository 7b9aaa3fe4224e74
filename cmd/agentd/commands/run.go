package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/permission"
	"github.com/opencode-ai/agentd/internal/session"
	"github.com/opencode-ai/agentd/pkg/types"
)

var (
	runText     string
	runSession  string
	runMode     string
	runNoColor  bool
	runVerbose  bool
	runProvider string
	runModel    string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Reply to one message from the terminal",
	Long: `Send one message to the agent and print the reply. Passing an existing
--session continues its transcript; the result is persisted either way.

In approve and smart_approve modes tool confirmations are asked on stdin.

Examples:
  agentd run "what is 6 * 7?"
  agentd run --session 20250101_120000_abcdefgh "and times 2?"
  agentd run --mode approve --text "list the files here"`,
	RunE: runReply,
}

func init() {
	runCmd.Flags().StringVarP(&runText, "text", "t", "", "Message text (alternative to positional args)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to create or continue")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Mode (auto|approve|smart_approve|chat)")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show thinking, tool output and notifications")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Provider to use for this reply")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use for this reply")
}

func runReply(cmd *cobra.Command, args []string) error {
	text := runText
	if text == "" {
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message required. Usage: agentd run \"your message\"")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runProvider != "" {
		os.Setenv("AGENTD_PROVIDER", runProvider)
	}
	if runModel != "" {
		os.Setenv("AGENTD_MODEL", runModel)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prov, err := a.agent.Provider()
	if err != nil {
		return fmt.Errorf("%w: run 'agentd configure set AGENTD_PROVIDER <name>'", err)
	}

	id := runSession
	if id == "" {
		id = session.NewSessionID()
	}
	history, err := a.sessions.Load(ctx, id)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}
	history = append(history, types.UserText(text))

	r := newRenderer(os.Stdout, runNoColor, runVerbose)
	r.Banner(id, prov.Metadata().Name, prov.ModelConfig().Model)
	r.User(text)

	q := a.transport.Stream(ctx, session.ReplyRequest{
		Messages:   history,
		SessionID:  id,
		WorkingDir: a.workDir,
		Mode:       runMode,
	})
	defer q.Close()

	stdin := bufio.NewReader(os.Stdin)
	var failure string
	for ev := range q.Events() {
		switch ev.Type {
		case session.EventMessage:
			r.Message(ev.Message)
			for _, c := range ev.Message.Content {
				if req, ok := c.(*types.ToolConfirmationRequest); ok {
					a.agent.HandleConfirmation(id, req.ID, askConfirmation(r, stdin, req))
				}
			}
		case session.EventModelChange:
			r.ModelChange(ev.Model, ev.Mode)
		case session.EventNotification:
			r.Notification(ev.Notification)
		case session.EventError:
			failure = ev.Error
			r.Error(ev.Error)
		case session.EventFinish:
			a.transport.Wait()
			if failure != "" {
				return errors.New(failure)
			}
			return nil
		}
	}
	return ctx.Err()
}

// askConfirmation reads the user's decision for a tool call from stdin.
// Anything but y or a denies the call.
func askConfirmation(r *renderer, in *bufio.Reader, req *types.ToolConfirmationRequest) permission.Confirmation {
	r.Prompt(fmt.Sprintf("Allow %s %s? [y]es / [a]lways / [N]o: ", req.ToolName, compactJSON(req.Arguments)))
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		line = ""
	}
	c := permission.Confirmation{PrincipalType: permission.PrincipalTool, Permission: permission.DenyOnce}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		c.Permission = permission.AllowOnce
	case "a", "always":
		c.Permission = permission.AlwaysAllow
	}
	return c
}
