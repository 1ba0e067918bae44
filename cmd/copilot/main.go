// Command copilot is a small CLI around the answering engine: upload
// documents, ask questions, and inspect recorded runs.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/siherrmann/copilot"
	"github.com/siherrmann/copilot/core/answer"
	"github.com/siherrmann/copilot/core/pipeline"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	strategyFlag   string
	modeFlag       string
	topKFlag       int
	documentFlag   string
	idempotencyKey string
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Retrieval augmented answering over uploaded documents",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env files are fine, the environment may already be set.
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [title] [file]",
	Short: "Upload a document and ingest it",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpload,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status [doc-id]",
	Short: "Show the ingestion status of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded runs, or show one run with its steps",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "copilot.yaml", "path to the YAML configuration")
	askCmd.Flags().StringVar(&strategyFlag, "retriever", "auto", "retrieval strategy: keyword, vector, hybrid, auto")
	askCmd.Flags().StringVar(&modeFlag, "mode", "sources_only", "answer mode: sources_only, deterministic, generative")
	askCmd.Flags().IntVar(&topKFlag, "top-k", 0, "number of sources to return")
	askCmd.Flags().StringVar(&documentFlag, "document", "", "restrict retrieval to one document ID")
	askCmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "deduplication key for retries")
	rootCmd.AddCommand(uploadCmd, askCmd, statusCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newCopilot builds the engine from the environment. DB_HOST selects
// the Postgres store; COPILOT_EMBEDDER selects the embedder backend.
func newCopilot() (*copilot.Copilot, error) {
	config, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	var embedder pipeline.Embedder
	switch strings.ToLower(os.Getenv("COPILOT_EMBEDDER")) {
	case "", "hash":
		embedder = pipeline.NewHashEmbedder(64)
	case "local":
		embedder, err = pipeline.NewLocalEmbedder()
		if err != nil {
			return nil, err
		}
	case "openai":
		embedder, err = pipeline.NewOpenAIEmbedder()
		if err != nil {
			return nil, err
		}
	case "none":
	default:
		return nil, fmt.Errorf("unknown COPILOT_EMBEDDER %q", os.Getenv("COPILOT_EMBEDDER"))
	}

	var generator answer.GenerationProvider
	if os.Getenv("OPENAI_API_KEY") != "" {
		generator, err = answer.NewOpenAIGenerator()
		if err != nil {
			return nil, err
		}
	}

	if os.Getenv("DB_HOST") != "" {
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return nil, err
		}
		return copilot.NewPostgres(dbConfig, embedder, generator, config)
	}
	return copilot.NewMemory(embedder, generator, config)
}

func runUpload(cmd *cobra.Command, args []string) error {
	engine, err := newCopilot()
	if err != nil {
		return err
	}
	defer engine.Close()

	content, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	document, err := engine.UploadAndWait(cmd.Context(), args[0], string(content))
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  %d chunks\n", document.ID, document.Status, document.ChunkCount)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	engine, err := newCopilot()
	if err != nil {
		return err
	}
	defer engine.Close()

	req := &model.AskRequest{
		Question:       strings.Join(args, " "),
		Strategy:       model.Strategy(strategyFlag),
		Mode:           model.AnswerMode(modeFlag),
		TopK:           topKFlag,
		IdempotencyKey: idempotencyKey,
	}
	if documentFlag != "" {
		id, err := uuid.Parse(documentFlag)
		if err != nil {
			return fmt.Errorf("invalid document ID %q: %w", documentFlag, err)
		}
		req.DocumentID = &id
	}

	response, err := engine.Ask(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("run %s  route=%s  retriever=%s", response.RunID, response.Route, response.Retriever)
	if response.Degraded {
		fmt.Print("  (degraded)")
	}
	if response.Replayed {
		fmt.Print("  (replayed)")
	}
	fmt.Println()
	if response.Answer != "" {
		fmt.Println(response.Answer)
	}
	for i, source := range response.Sources {
		fmt.Printf("[%d] %s #%d (%.3f) %s\n", i+1, source.DocumentTitle, source.ChunkIndex, source.Score, source.Snippet)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	engine, err := newCopilot()
	if err != nil {
		return err
	}
	defer engine.Close()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", args[0], err)
	}
	document, err := engine.GetDocument(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s  %d chunks\n", document.ID, document.Status, document.ChunkCount)
	if document.Error != "" {
		fmt.Printf("error: %s\n", document.Error)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	engine, err := newCopilot()
	if err != nil {
		return err
	}
	defer engine.Close()

	if len(args) == 0 {
		runs, err := engine.ListRuns(cmd.Context(), 20)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("%s  %s  %s  %q\n", run.ID, run.Status, run.Route, run.Question)
		}
		return nil
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}
	run, err := engine.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s  route=%s  retriever=%s\n", run.ID, run.Status, run.Route, run.Retriever)
	fmt.Printf("question: %s\n", run.Question)
	if run.Answer != "" {
		fmt.Printf("answer: %s\n", run.Answer)
	}
	for step, err := range engine.RunSteps(cmd.Context(), id) {
		if err != nil {
			return err
		}
		fmt.Printf("  %d  %s  %s\n", step.Seq, step.Name, step.Status)
	}
	return nil
}
