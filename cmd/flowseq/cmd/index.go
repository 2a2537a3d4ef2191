package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abramin/flowseq/internal/index"
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a Go project for diagram generation",
	Long: `Analyze a Go project and persist every function body with its ordered
call sites.

The index command:
- Loads Go packages using go/packages
- Builds the SSA form to resolve static calls
- Records interface and function-value calls as unresolved
- Persists results to .flowseq/index.db

Open sessions of a running server go stale when the index is rebuilt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}

		cfg := GetConfig()
		fmt.Printf("Indexing project at: %s\n", path)
		fmt.Printf("Config loaded with %d excluded dirs\n", len(cfg.Exclude.Dirs))

		indexer := index.NewIndexer(cfg, path)
		result, err := indexer.Run()
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}

		fmt.Println()
		fmt.Printf("Indexing complete!\n")
		fmt.Printf("  Packages:   %d\n", result.PackageCount)
		fmt.Printf("  Symbols:    %d\n", result.SymbolCount)
		fmt.Printf("  Bodies:     %d\n", result.BodyCount)
		fmt.Printf("  Call sites: %d\n", result.CallSiteCount)
		fmt.Printf("  Generation: %d\n", result.Generation)
		fmt.Printf("  Duration:   %s\n", result.Duration.Round(time.Millisecond))
		fmt.Printf("  Database:   %s\n", result.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
