package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"leadgate/internal/kb"
	"leadgate/internal/progress"
	"leadgate/internal/vectordb"
	"leadgate/internal/walker"
)

var kbExclude []string

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base index",
}

var kbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index knowledge base markdown files into the vector store",
	Long:  `Scans the configured kb_dir for markdown documents, splits them into heading-bounded snippets and indexes them for semantic search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		embedder, err := createEmbedderFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		store, err := vectordb.NewChromemStore(embedder)
		if err != nil {
			return fmt.Errorf("creating vector store: %w", err)
		}

		ctx := context.Background()
		vectorDir := filepath.Join(cfg.DataDir, "vectordb")

		// Re-index on top of the existing store so unchanged documents from
		// earlier runs survive.
		if err := store.Load(ctx, vectorDir); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "starting fresh vector store: %v\n", err)
		}

		files, err := walker.Walk(walker.WalkerConfig{
			RootDir: cfg.KBDir,
			Exclude: kbExclude,
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", cfg.KBDir, err)
		}
		if len(files) == 0 {
			return fmt.Errorf("no markdown documents found under %s", cfg.KBDir)
		}

		knowledge := kb.New(store, nil, "")

		reporter := progress.NewReporter("Indexing knowledge base")
		reporter.Start(len(files))
		snippets := 0
		for i, f := range files {
			content, err := os.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.RelPath, err)
			}
			n, err := knowledge.IndexDocument(ctx, f.RelPath, content)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", f.RelPath, err)
			}
			snippets += n
			reporter.Update(i+1, f.RelPath)
		}
		reporter.Finish()

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		if err := store.Persist(ctx, vectorDir); err != nil {
			return fmt.Errorf("persisting vector store: %w", err)
		}

		fmt.Printf("Indexed %d snippets from %d documents into %s\n", snippets, len(files), vectorDir)
		return nil
	},
}

var kbQueryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Search the knowledge base from the command line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		embedder, err := createEmbedderFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		store, err := vectordb.NewChromemStore(embedder)
		if err != nil {
			return fmt.Errorf("creating vector store: %w", err)
		}
		ctx := context.Background()
		if err := store.Load(ctx, filepath.Join(cfg.DataDir, "vectordb")); err != nil {
			return fmt.Errorf("loading vector store (run `leadgate kb index` first): %w", err)
		}

		knowledge := kb.New(store, nil, "")
		results, err := knowledge.Query(ctx, args[0], 5)
		if err != nil {
			return fmt.Errorf("querying: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. [%.2f] %s — %s\n", i+1, r.Similarity, r.Document.Metadata.Source, r.Document.Metadata.Heading)
			if verbose {
				fmt.Printf("   %s\n", r.Document.Content)
			}
		}
		return nil
	},
}

func init() {
	kbIndexCmd.Flags().StringSliceVar(&kbExclude, "exclude", nil, "glob patterns to skip")
	kbCmd.AddCommand(kbIndexCmd)
	kbCmd.AddCommand(kbQueryCmd)
	rootCmd.AddCommand(kbCmd)
}
