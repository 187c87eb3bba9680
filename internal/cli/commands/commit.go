package commands

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"stagecraft/internal/config"
	"stagecraft/internal/publish"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a commit would change",
	Long: `Show the ordered list of remote operations a commit would perform,
without touching the remote repository or the overlay.

Examples:
  stagecraft plan`,
	RunE: runPlan,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Publish staged edits to the remote repository",
	Long: `Publish every staged edit and deletion to the remote repository.

Each file is written or deleted individually. If any step fails, the
already-applied steps stay applied, the overlay keeps every staged
edit, and the outcome reports how far the commit got. The overlay is
cleared only after every step succeeds.

Protected paths (worker scripts, platform config, the admin surface)
abort the whole commit unless overridden with --override-protected
and the matching --phrase.

Examples:
  stagecraft commit -m "Update pricing page"
  stagecraft commit -m "Replace worker" --override-protected --phrase "..."`,
	RunE: runCommit,
}

var (
	commitMessage  string
	commitOverride bool
	commitPhrase   string
)

func init() {
	rootCmd.AddCommand(planCmd)

	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message recorded on each remote write")
	commitCmd.Flags().BoolVar(&commitOverride, "override-protected", false, "Allow commits that touch protected paths")
	commitCmd.Flags().StringVar(&commitPhrase, "phrase", "", "Confirmation phrase required with --override-protected")
	rootCmd.AddCommand(commitCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	steps, err := a.engine.Plan(cmd.Context())
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		fmt.Println("Nothing to commit")
		return nil
	}
	for _, step := range steps {
		fmt.Printf("  %-6s %s\n", step.Op, step.Path)
	}
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	// One commit at a time per config dir. The lock serializes local
	// publishes so two CLI invocations cannot interleave remote writes.
	lock := flock.New(config.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire commit lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another commit is in progress (lock: %s)", config.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.Commit(cmd.Context(), publish.Request{
		Message:           commitMessage,
		OverrideProtected: commitOverride,
		Phrase:            commitPhrase,
	})
	if err != nil {
		fmt.Printf("Commit %s: %d step(s) applied\n", result.Outcome, len(result.Applied))
		return err
	}

	if len(result.Applied) == 0 {
		fmt.Println("Nothing to commit")
		return nil
	}
	fmt.Printf("Commit %s: %d step(s) applied\n", result.Outcome, len(result.Applied))
	for _, step := range result.Applied {
		fmt.Printf("  %-6s %s\n", step.Op, step.Path)
	}
	return nil
}
