package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"localchat/internal/session"
)

func newAskCmd(o *options) *cobra.Command {
	var (
		chatID  int64
		modelID int64
	)
	cmd := &cobra.Command{
		Use:     "ask <query>",
		Short:   "Answer one query and stream the reply to stdout",
		Example: "  localchat ask --model 3 \"How do I reset the device?\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := o.newApp(ctx, o.cfg, o.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.WaitRetrieval(ctx); err != nil {
				return fmt.Errorf("retrieval: %w", err)
			}
			if chatID != 0 {
				if err := a.SwitchChat(ctx, chatID); err != nil {
					return err
				}
			}
			if modelID != 0 {
				if err := a.SelectModel(ctx, modelID); err != nil {
					return err
				}
			}

			sess := a.Session()
			_, events, cancel := sess.Subscribe(0)
			defer cancel()
			g, err := a.Ask(ctx, 0, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return stream(ctx, cmd, sess, g, events)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Chat to answer in (defaults to the most recently used)")
	cmd.Flags().Int64Var(&modelID, "model", 0, "Model to assign to the chat before asking")
	return cmd
}

// stream prints fragments of g as they arrive and reports how it ended.
func stream(ctx context.Context, cmd *cobra.Command, sess *session.Session, g *session.Generation, events <-chan session.Event) error {
	out := cmd.OutOrStdout()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			sess.Stop()
			done = true
		case ev, ok := <-events:
			if !ok {
				// dropped as a slow subscriber; the outcome is still reported below
				done = true
				break
			}
			switch ev.Name {
			case session.EventFragment:
				if s, ok := ev.Fields["fragment"].(string); ok {
					fmt.Fprint(out, s)
				}
			case session.EventGenerating:
				if id, _ := ev.Fields["generation_id"].(string); id == g.ID() {
					if v, _ := ev.Fields["generating"].(bool); !v && ev.Fields["outcome"] != nil {
						done = true
					}
				}
			}
		case <-g.Done():
			if len(events) == 0 {
				done = true
			}
		}
	}
	outcome, err := g.Wait()
	fmt.Fprintln(out)
	switch outcome {
	case session.OutcomeCompleted:
		snap := sess.Snapshot()
		fmt.Fprintf(cmd.ErrOrStderr(), "%.1f tok/s, %ds\n", snap.LastSpeed, snap.LastSeconds)
		return nil
	case session.OutcomeCancelled:
		return errors.New("cancelled")
	case session.OutcomeNotStarted:
		if session.IsSelectionRequired(err) {
			return fmt.Errorf("%w; pass --model <id> (see `localchat models`)", err)
		}
		return err
	default:
		if e := sess.Snapshot().Err; e != nil {
			return fmt.Errorf("%s: %s", e.Title, e.Body)
		}
		return err
	}
}
