package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/internal/database"
	"github.com/askdoc/askdoc/internal/embedding"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/rag"
)

var (
	askK       int
	askJSON    bool
	searchK    int
	searchJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "askdoc",
	Short: "Ask questions about a single document from the terminal",
	Long: `askdoc indexes one document at a time and answers questions about it,
citing the chunks each answer is grounded on. Indexing a new document
replaces the previous one.`,
	SilenceUsage: true,
}

var indexCmd = &cobra.Command{
	Use:   "index [file]",
	Short: "Index a document, replacing the current one",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Show the chunks retrieval would hand to the model",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the indexed document, if any",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the indexed document",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	askCmd.Flags().IntVarP(&askK, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	searchCmd.Flags().IntVarP(&searchK, "top-k", "k", 0, "number of chunks to retrieve (0 uses the configured default)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	rootCmd.AddCommand(indexCmd, askCmd, searchCmd, statusCmd, clearCmd)
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildPipeline assembles the local stack against the configured corpus
// store. Commands that call a provider pass validate so missing API keys
// fail before any work is done; status and clear run without credentials.
func buildPipeline(ctx context.Context, validate bool) (*rag.Pipeline, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	var store corpus.Store
	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err = corpus.NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	} else {
		store, err = corpus.NewSQLiteStore(cfg.Ingest.DataDir)
		if err != nil {
			return nil, nil, err
		}
	}

	gateway := llm.NewGateway(cfg.LLM)
	embedder := embedding.NewService(gateway, cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingDim)
	generator := rag.NewGenerator(gateway, cfg.LLM.CompletionModel, cfg.RAG.Temperature, cfg.RAG.MaxTokens)

	p, err := rag.NewPipeline(cfg, embedder, generator, store, slog.Default())
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	if err := p.Restore(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	return p, func() { store.Close() }, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, done, err := buildPipeline(ctx, true)
	if err != nil {
		return err
	}
	defer done()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	res, err := p.Ingest(ctx, rag.IngestInput{Filename: filepath.Base(args[0]), Data: data})
	if err != nil {
		return err
	}

	if res.Replaced {
		cmd.Println("Replaced the previous document.")
	}
	cmd.Printf("Indexed %s: %d pages, %d chunks (%.1fs)\n",
		res.Document.Filename, res.Document.Pages, res.Chunks, float64(res.DurationMs)/1000)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, done, err := buildPipeline(ctx, true)
	if err != nil {
		return err
	}
	defer done()

	res, err := p.Ask(ctx, rag.AskInput{Question: args[0], K: askK})
	if err != nil {
		return err
	}

	if askJSON {
		return printJSON(cmd, res)
	}

	cmd.Println(res.Answer)
	if res.Refused || len(res.Sources) == 0 {
		return nil
	}

	cmd.Println()
	cmd.Println("Sources:")
	for _, h := range res.Sources {
		cmd.Printf("  [Chunk %d (Page %d)] score %.3f\n", h.Rank, h.Chunk.Page, h.Score)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, done, err := buildPipeline(ctx, true)
	if err != nil {
		return err
	}
	defer done()

	hits, err := p.Search(ctx, args[0], searchK)
	if err != nil {
		return err
	}

	if searchJSON {
		return printJSON(cmd, hits)
	}

	if len(hits) == 0 {
		cmd.Println("No results.")
		return nil
	}

	for _, h := range hits {
		cmd.Printf("  [%d] page %d  score %.3f\n      %s\n", h.Rank, h.Chunk.Page, h.Score, snippet(h.Chunk.Text))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, done, err := buildPipeline(ctx, false)
	if err != nil {
		return err
	}
	defer done()

	st := p.Status()
	if st.Corpus == nil {
		cmd.Println("No document indexed.")
		return nil
	}

	s := st.Corpus
	cmd.Printf("State:    %s\n", st.State)
	cmd.Printf("Document: %s (%d pages, %d bytes)\n", s.Document.Filename, s.Document.Pages, s.Document.SizeBytes)
	cmd.Printf("Chunks:   %d\n", s.Chunks)
	cmd.Printf("Index:    %s, %d dimensions, %s\n", s.EmbeddingModel, s.EmbeddingDim, s.Metric)
	cmd.Printf("Built:    %s\n", s.BuiltAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, done, err := buildPipeline(ctx, false)
	if err != nil {
		return err
	}
	defer done()

	if err := p.Clear(ctx); err != nil {
		if errors.Is(err, rag.ErrNoCorpus) {
			cmd.Println("Nothing to clear.")
			return nil
		}
		return err
	}

	cmd.Println("Cleared.")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// snippet flattens a chunk onto one line and trims it for display.
func snippet(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) > 120 {
		flat = flat[:120] + "..."
	}
	return flat
}
