package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"stagecraft/internal/overlay"
	"stagecraft/internal/resolve"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <remote-path>",
	Short: "Print a file as the preview would see it",
	Long: `Print the content of a file through the resolver chain: staged
overlay first, then the remote repository, then the fallback pages.

The source is reported on stderr so stdout stays pipeable.

Examples:
  stagecraft resolve pricing.html
  stagecraft resolve pricing.html > /tmp/pricing.html`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var previewCmd = &cobra.Command{
	Use:   "preview [route...]",
	Short: "Print preview URLs for staged changes",
	Long: `Print watermarked preview URLs.

With no arguments, lists a preview URL for every staged edit. With
route arguments, lists URLs for those routes only.

Examples:
  stagecraft preview
  stagecraft preview /pricing /blog/post`,
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(previewCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.resolver.Resolve(cmd.Context(), args[0], resolve.Options{})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "source: %s\n", res.Source)
	_, err = os.Stdout.Write(res.Content)
	return err
}

func runPreview(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var files []string
	if len(args) == 0 {
		index, err := a.overlay.List(cmd.Context())
		if err != nil {
			return err
		}
		files = stagedFiles(index)
		if len(files) == 0 {
			fmt.Println("No staged edits to preview")
			return nil
		}
	}

	entries := a.renderer.BuildPreview(args, files, nil)
	for _, entry := range entries {
		fmt.Printf("  %-24s %s\n", entry.Route, entry.URL)
	}
	return nil
}

// stagedFiles returns the live (non-deleted) staged paths, sorted.
func stagedFiles(index map[string]overlay.IndexEntry) []string {
	files := make([]string, 0, len(index))
	for path, entry := range index {
		if !entry.Deleted {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files
}
