package commands

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage <remote-path> [local-file]",
	Short: "Stage a file edit in the overlay",
	Long: `Stage a file edit in the overlay.

The remote path names a text file in the remote repository layout, for
example blog/post.html. Content is read from the local file argument,
or from stdin when no file is given. Nothing touches the remote
repository until 'stagecraft commit'.

Examples:
  # Stage a file from disk
  stagecraft stage pricing.html ./drafts/pricing.html

  # Stage from stdin
  cat pricing.html | stagecraft stage pricing.html`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStage,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <remote-path>",
	Short: "Stage a file deletion",
	Long: `Stage a deletion of a remote file.

The file stays in the remote repository until commit; the overlay
records a tombstone and previews treat the file as gone.

Examples:
  stagecraft delete blog/old-post.html`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var unstageCmd = &cobra.Command{
	Use:   "unstage <remote-path>",
	Short: "Discard a staged edit",
	Long: `Discard a staged edit or deletion without touching the remote file.

Unstaging a path with no staged edit is not an error.

Examples:
  stagecraft unstage pricing.html`,
	Args: cobra.ExactArgs(1),
	RunE: runUnstage,
}

var stagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "List staged edits",
	Long: `List the overlay index: every staged edit and deletion with its size
and timestamp.

Examples:
  stagecraft staged`,
	RunE: runStaged,
}

func init() {
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(unstageCmd)
	rootCmd.AddCommand(stagedCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	if len(args) == 2 {
		content, err = os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
	} else {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.overlay.Write(cmd.Context(), args[0], content); err != nil {
		return err
	}
	fmt.Printf("Staged %s (%d bytes)\n", args[0], len(content))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.overlay.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Staged deletion of %s\n", args[0])
	return nil
}

func runUnstage(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.overlay.Unstage(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Unstaged %s\n", args[0])
	return nil
}

func runStaged(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	index, err := a.overlay.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(index) == 0 {
		fmt.Println("No staged edits")
		return nil
	}

	paths := make([]string, 0, len(index))
	for path := range index {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := index[path]
		if entry.Deleted {
			fmt.Printf("  deleted  %s\n", path)
			continue
		}
		fmt.Printf("  edited   %s (%d bytes, %s)\n", path, entry.ByteSize, entry.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
