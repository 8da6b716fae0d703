package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"snap2serve/internal/api"
	"snap2serve/internal/config"
	"snap2serve/internal/failure"
	"snap2serve/internal/imagesource"
	"snap2serve/internal/pipeline"
	"snap2serve/internal/platform/detection"
	"snap2serve/internal/platform/gemini"
	"snap2serve/internal/platform/localllm"
	"snap2serve/internal/platform/recommend"
	"snap2serve/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "snap2serve",
		Short:        "Turn a photo of ingredients into recipes and a shopping list",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the session API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newScanCmd(&configPath))
	return root
}

// backends holds the collaborators selected by config.
type backends struct {
	detector    pipeline.Detector
	recommender pipeline.Recommender
	close       func() error
}

func buildBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	switch cfg.Backend {
	case config.BackendGemini:
		geminiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, fmt.Errorf("error creating gemini client: %w", err)
		}
		return &backends{detector: geminiClient, recommender: geminiClient, close: geminiClient.Close}, nil
	case config.BackendLocal:
		localLLMClient := localllm.NewClient(cfg.LocalLLMURL, cfg.LocalLLMModel, log)
		return &backends{detector: localLLMClient, recommender: localLLMClient, close: func() error { return nil }}, nil
	default:
		shape, err := recommend.ParseShape(cfg.RecommendShape)
		if err != nil {
			return nil, err
		}
		return &backends{
			detector:    detection.NewClient(cfg.DetectionBaseURL, cfg.DetectionPath, log),
			recommender: recommend.NewClient(cfg.RecommendBaseURL, cfg.RecommendPath, shape, log),
			close:       func() error { return nil },
		}, nil
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	b, err := buildBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	storeFor := func(string) session.Store { return session.NewMemoryStore() }
	if cfg.DatabaseURL != "" {
		dbStore, err := session.NewPostgresBackend(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("error creating postgres session store: %w", err)
		}
		defer dbStore.Close()
		storeFor = dbStore.Session
	}

	handler := api.NewHandler(func(id string) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Config{
			Detector:    b.detector,
			Recommender: b.recommender,
			Session:     storeFor(id),
			Logger:      log.With("session", id),
		})
	}, log)

	log.Info("listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
	return newRouter(handler, cfg.AllowOrigins).Run(cfg.ListenAddr)
}

func newRouter(handler *api.Handler, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Configure CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": handler.Len()})
	})
	return r
}

func newScanCmd(configPath *string) *cobra.Command {
	var prefer string
	var addMissing bool

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Run the pipeline once on an image file and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := cfg.NewLogger()

			ctx := cmd.Context()
			b, err := buildBackends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.close()

			p, err := imagesource.FromFile(args[0])
			if err != nil {
				return err
			}

			o := pipeline.New(pipeline.Config{Detector: b.detector, Recommender: b.recommender, Logger: log})
			if prefer != "" {
				if err := o.SetPreference(ctx, prefer); err != nil {
					return err
				}
			}
			if err := o.Run(ctx, p); err != nil {
				return fmt.Errorf("%s", failure.Message(err))
			}
			if addMissing {
				for i := range o.State().Recipes {
					if _, err := o.AddMissing(i); err != nil {
						return err
					}
				}
			}
			printState(cmd.OutOrStdout(), o.State())
			return nil
		},
	}
	cmd.Flags().StringVar(&prefer, "prefer", "", "what you feel like eating")
	cmd.Flags().BoolVar(&addMissing, "add-missing", false, "add every recipe's missing items to the shopping list")
	return cmd
}

func printState(w io.Writer, st pipeline.State) {
	fmt.Fprintln(w, "Ingredients:")
	for _, ing := range st.Ingredients {
		if ing.Confidence != nil {
			fmt.Fprintf(w, "  - %s (%.0f%%)\n", ing.Name, *ing.Confidence*100)
		} else {
			fmt.Fprintf(w, "  - %s\n", ing.Name)
		}
	}

	fmt.Fprintln(w, "Recipes:")
	if len(st.Recipes) == 0 {
		fmt.Fprintln(w, "  No recipes found")
	}
	for i, r := range st.Recipes {
		fmt.Fprintf(w, "  %d. %s", i+1, r.Title)
		if r.TimeMins != nil {
			fmt.Fprintf(w, " (%d min)", *r.TimeMins)
		}
		if r.Difficulty != "" {
			fmt.Fprintf(w, " [%s]", r.Difficulty)
		}
		fmt.Fprintln(w)
		for _, m := range r.MissingItems {
			fmt.Fprintf(w, "     missing: %s\n", m)
		}
	}

	switch sl := st.ShoppingList; {
	case sl.Categorized():
		for _, name := range sl.CategoryNames() {
			fmt.Fprintf(w, "Suggested %s: %s\n", name, strings.Join(sl.Categories[name], ", "))
		}
	case sl != nil && len(sl.Items) > 0:
		fmt.Fprintf(w, "Suggested: %s\n", strings.Join(sl.Items, ", "))
	}

	if len(st.Shopping) > 0 {
		fmt.Fprintln(w, "Shopping list:")
		for _, it := range st.Shopping {
			fmt.Fprintf(w, "  - %s\n", it)
		}
	}
}
