package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagecraft/internal/dispatch"
)

var actionCmd = &cobra.Command{
	Use:   "action <plan|preview|apply|deploy|rollback|status>",
	Short: "Run an action through the confirmed-execution dispatcher",
	Long: `Run an action through the dispatcher: idempotency ledger, token
check, execution, event log. The JSON response is printed to stdout.

Every invocation needs an idempotency key (--key). Re-running with the
same key replays the recorded response without re-executing. The
mutating actions (apply, deploy, rollback) additionally need the
single-use confirmation token minted by a preview (--token).

Examples:
  # Plan edits from a free-text command
  stagecraft action plan --key k1 --command "update the pricing table"

  # Preview: returns preview URLs and a confirmation token
  stagecraft action preview --key k2 --command "update the pricing table"

  # Apply with the token from the preview
  stagecraft action apply --key k2 --token <token>`,
	Args: cobra.ExactArgs(1),
	RunE: runAction,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the overlay index and recent activity",
	Long: `Show the staged overlay index and the most recent dispatcher events.

Examples:
  stagecraft status`,
	RunE: runStatus,
}

var (
	actionKey     string
	actionCommand string
	actionTarget  string
	actionToken   string
	actionMessage string
)

func init() {
	actionCmd.Flags().StringVar(&actionKey, "key", "", "Idempotency key (required)")
	actionCmd.Flags().StringVar(&actionCommand, "command", "", "Free-text edit command for plan and preview")
	actionCmd.Flags().StringVar(&actionTarget, "target", "", "Optional target hint for the planner")
	actionCmd.Flags().StringVar(&actionToken, "token", "", "Confirmation token for apply, deploy, and rollback")
	actionCmd.Flags().StringVarP(&actionMessage, "message", "m", "", "Commit message for apply and deploy")
	_ = actionCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(actionCmd)

	rootCmd.AddCommand(statusCmd)
}

func runAction(cmd *cobra.Command, args []string) error {
	if err := requireTokenSecret(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.dispatcher.Dispatch(cmd.Context(), dispatch.Payload{
		Action:         args[0],
		IdempotencyKey: actionKey,
		Command:        actionCommand,
		Target:         actionTarget,
		ConfirmToken:   actionToken,
		Message:        actionMessage,
	})
	if err != nil {
		return err
	}

	if outcome.Replayed {
		fmt.Fprintln(os.Stderr, "(replayed from ledger)")
	}
	var pretty json.RawMessage = outcome.Body
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		_, werr := os.Stdout.Write(outcome.Body)
		return werr
	}
	fmt.Println(string(indented))

	if outcome.Status >= 400 {
		return fmt.Errorf("action %s failed with status %d", args[0], outcome.Status)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	index, err := a.overlay.List(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Staged edits: %d\n", len(index))

	events, err := a.db.ListRecentActionEvents(cmd.Context(), 10)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No recorded actions")
		return nil
	}
	fmt.Println("Recent actions:")
	for _, event := range events {
		fmt.Printf("  %-8s %-8s trace=%s\n", event.Action, event.EventType, event.TraceID)
	}
	return nil
}
