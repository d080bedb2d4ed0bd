package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskgenie/internal/config"
	"taskgenie/internal/db"
	"taskgenie/internal/devops"
	"taskgenie/internal/domain"
	"taskgenie/internal/llm"
	"taskgenie/internal/metrics"
	"taskgenie/internal/migrate"
	"taskgenie/internal/pipeline"
	"taskgenie/internal/server"
	"taskgenie/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "taskgenie",
	Short: "Task Genie CLI",
	Long: `Task Genie decomposes work items from the tracking system into child items.
Each run evaluates the item first: complete items get decomposed into ordered
children, incomplete ones get improvement feedback as a comment. Every run
leaves an execution record that webhooks can poll.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKGENIE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("username", "local-user", "username recorded on prompt changes")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(executionCmd())
	rootCmd.AddCommand(promptCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config lives in taskgenie.yml: tracking system credentials, the model to use, and metrics settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var organization string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(organization)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&organization, "organization", "", "tracking system organization")
	_ = cmd.MarkFlagRequired("organization")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if file != "" {
				cfg, err = config.FromFile(file)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	return cmd
}

func runCmd() *cobra.Command {
	var teamProject, prompt, executionID string
	cmd := &cobra.Command{
		Use:   "run <work-item-id>",
		Short: "Process one work item",
		Long:  "Runs the full pipeline synchronously: evaluate the item, then either decompose it into children or comment improvement feedback on it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				rec, err := p.Run(ctx, pipeline.Request{
					ExecutionID:    executionID,
					TeamProject:    teamProject,
					WorkItemID:     args[0],
					PromptOverride: prompt,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&teamProject, "team-project", "", "team project holding the work item")
	cmd.Flags().StringVar(&prompt, "prompt", "", "generation prompt override")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "execution id (generated if omitted)")
	return cmd
}

func executionCmd() *cobra.Command {
	exec := &cobra.Command{
		Use:   "execution",
		Short: "Inspect execution records",
	}
	exec.AddCommand(executionGetCmd())
	exec.AddCommand(executionListCmd())
	exec.AddCommand(executionEventsCmd())
	return exec
}

func executionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				rec, err := s.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func executionListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				recs, err := s.ListExecutions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Execution", "Work Item", "Outcome", "Result", "Children", "Timestamp"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.ExecutionID, r.WorkItemID, r.Outcome, r.ExecutionResult, r.ChildItemsCount, r.Timestamp})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

func executionEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <execution-id>",
		Short: "Show the stage log for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				events, err := s.RunEvents(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	return cmd
}

func promptCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "prompt",
		Short: "Manage generation prompts",
		Long:  "Prompt configs override the built-in generation prompt per area path, business unit, and system.",
	}
	p.AddCommand(promptSetCmd())
	p.AddCommand(promptGetCmd())
	p.AddCommand(promptListCmd())
	p.AddCommand(promptDeleteCmd())
	return p
}

func promptSetCmd() *cobra.Command {
	var cfg domain.PromptConfig
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a prompt config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				saved, err := s.UpsertPromptConfig(ctx, cfg, viper.GetString("username"), time.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.AreaPath, "area-path", "", "area path")
	cmd.Flags().StringVar(&cfg.BusinessUnit, "business-unit", "", "business unit")
	cmd.Flags().StringVar(&cfg.System, "system", "", "system")
	cmd.Flags().StringVar(&cfg.Prompt, "prompt", "", "generation prompt")
	_ = cmd.MarkFlagRequired("area-path")
	_ = cmd.MarkFlagRequired("business-unit")
	_ = cmd.MarkFlagRequired("system")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func promptGetCmd() *cobra.Command {
	var areaPath, businessUnit, system string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a prompt config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				cfg, err := s.GetPromptConfig(ctx, areaPath, businessUnit, system)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&areaPath, "area-path", "", "area path")
	cmd.Flags().StringVar(&businessUnit, "business-unit", "", "business unit")
	cmd.Flags().StringVar(&system, "system", "", "system")
	_ = cmd.MarkFlagRequired("area-path")
	_ = cmd.MarkFlagRequired("business-unit")
	_ = cmd.MarkFlagRequired("system")
	return cmd
}

func promptListCmd() *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompt configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				items, err := s.ListPromptConfigs(ctx, limit, cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Area Path", "Business Unit", "System", "Updated By", "Updated At"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.AreaPath, c.BusinessUnit, c.System, c.UpdatedBy, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor (last key of previous page)")
	return cmd
}

func promptDeleteCmd() *cobra.Command {
	var areaPath, businessUnit, system string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a prompt config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
				return s.DeletePromptConfig(ctx, domain.PromptKey(areaPath, businessUnit, system))
			})
		},
	}
	cmd.Flags().StringVar(&areaPath, "area-path", "", "area path")
	cmd.Flags().StringVar(&businessUnit, "business-unit", "", "business unit")
	cmd.Flags().StringVar(&system, "system", "", "system")
	_ = cmd.MarkFlagRequired("area-path")
	_ = cmd.MarkFlagRequired("business-unit")
	_ = cmd.MarkFlagRequired("system")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			provider, err := metrics.NewProvider(cmd.Context(), metrics.Config{
				Enabled:      cfg.Metrics.Enabled,
				OTLPEndpoint: cfg.Metrics.OTLPEndpoint,
				Insecure:     cfg.Metrics.Insecure,
			})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				provider.Shutdown(ctx)
			}()
			p, err := newPipeline(cfg, conn, provider)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Pipeline:      p,
				Store:         store.Store{DB: conn},
				BasePath:      basePath,
				WebhookSecret: cfg.DevOps.WebhookSecret,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Task Genie API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, store.Store{DB: conn})
}

func withPipeline(ctx context.Context, fn func(context.Context, *pipeline.Pipeline) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	provider, err := metrics.NewProvider(ctx, metrics.Config{
		Enabled:      cfg.Metrics.Enabled,
		OTLPEndpoint: cfg.Metrics.OTLPEndpoint,
		Insecure:     cfg.Metrics.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		provider.Shutdown(shutdownCtx)
	}()
	p, err := newPipeline(cfg, conn, provider)
	if err != nil {
		return err
	}
	return fn(ctx, p)
}

func newPipeline(cfg *config.Config, conn *sql.DB, provider *metrics.Provider) (*pipeline.Pipeline, error) {
	model, err := llm.NewClient(llm.ClientConfig{
		Model:       anthropic.Model(cfg.LLM.Model),
		APIKey:      cfg.LLM.APIKey,
		UseBedrock:  cfg.LLM.UseBedrock,
		AWSRegion:   cfg.LLM.AWSRegion,
		AWSProfile:  cfg.LLM.AWSProfile,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, err
	}
	tracker := devops.NewClient(devops.Config{
		Organization: cfg.DevOps.Organization,
		TenantID:     cfg.DevOps.TenantID,
		ClientID:     cfg.DevOps.ClientID,
		ClientSecret: cfg.DevOps.ClientSecret,
		Scope:        cfg.DevOps.Scope,
		MentionUser:  cfg.DevOps.MentionUser,
	})
	st := store.Store{DB: conn}
	return pipeline.New(tracker, model, st, store.EventWriter{DB: conn}, provider), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
