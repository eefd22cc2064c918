package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory-mcp/internal/embedder"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed stored contexts that have no embedding yet, once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.backfill.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var statsProject string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print context, naming and decision statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		a.withContextStore(nil)

		projectID := ""
		if statsProject != "" {
			p, err := a.storage.GetProjectByName(ctx, statsProject)
			if err != nil {
				return err
			}
			projectID = p.ID
		}

		contextStats, err := a.contexts.Stats(ctx, projectID)
		if err != nil {
			return err
		}
		namingStats, err := a.naming.Stats(ctx, projectID)
		if err != nil {
			return err
		}
		decisionStats, err := a.decisions.Stats(ctx, projectID)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Project   string               `json:"project,omitempty"`
			Contexts  *types.ContextStats  `json:"contexts"`
			Naming    *types.NamingStats   `json:"naming"`
			Decisions *types.DecisionStats `json:"decisions"`
		}{statsProject, contextStats, namingStats, decisionStats})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed <text> [other-text]",
	Short: "Embed text with the configured provider and print the result",
	Long: "Embed text with the configured provider and print its dimension.\n" +
		"With a second argument, also print the cosine similarity of the two texts.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := embedder.NewServiceFromConfig(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.EmbedTimeout)
		defer cancel()

		first, err := svc.GenerateEmbedding(ctx, args[0])
		if err != nil {
			return err
		}
		out := struct {
			Provider   string    `json:"provider"`
			Model      string    `json:"model"`
			Dimension  int       `json:"dimension"`
			Valid      bool      `json:"valid"`
			Preview    []float32 `json:"preview"`
			Similarity *float64  `json:"similarity,omitempty"`
		}{
			Provider:  embedder.DetectProvider(cfg),
			Model:     svc.Model(),
			Dimension: len(first),
			Valid:     svc.ValidateEmbedding(first),
			Preview:   first[:min(5, len(first))],
		}
		if len(args) == 2 {
			second, err := svc.GenerateEmbedding(ctx, args[1])
			if err != nil {
				return err
			}
			sim := svc.CosineSimilarity(first, second)
			out.Similarity = &sim
		}
		return printJSON(out)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devmemory %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsProject, "project", "", "project name; all projects when empty")
}
