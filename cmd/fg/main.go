package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forgegate/internal/config"
	"forgegate/internal/db"
	"forgegate/internal/domain"
	"forgegate/internal/engine"
	"forgegate/internal/migrate"
	"forgegate/internal/ratelimit"
	"forgegate/internal/repo"
	"forgegate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fg",
	Short: "Forgegate CLI",
	Long: `Forgegate is the governance control plane for a code-generation pipeline.
It mints scoped access tokens, gates artifact uploads and downloads behind
presigned URLs, issues single-use apply approvals, and keeps an append-only
audit trail of every state change.`,
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
	viper.SetEnvPrefix("FORGEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-admin", "actor subject for audit entries")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
}

// cliActor is the implicit admin identity for local commands. It carries no
// project scope, so it can see every session in the workspace store.
func cliActor() engine.Actor {
	return engine.Actor{Sub: viper.GetString("actor"), Role: domain.RoleAdmin}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			applyEnvOverrides(cfg)
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					Issuer:    cfg.Auth.Issuer,
					Audience:  cfg.Auth.Audience,
					APIKey:    cfg.Auth.APIKey,
				},
				Limiter:   newLimiter(cfg),
				RateLimit: cfg.RateLimit.Requests,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Forgegate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func applyEnvOverrides(cfg *config.Config) {
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
}

func newLimiter(cfg *config.Config) ratelimit.Limiter {
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		return ratelimit.NewRedis(client, window)
	}
	return ratelimit.NewInMemory(window)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			applyEnvOverrides(c)
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default forgegate.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (set auth.jwt_secret and auth.api_key before serving)\n", path)
			return nil
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sessionCmd() *cobra.Command {
	ses := &cobra.Command{Use: "session", Short: "Manage pipeline sessions"}
	ses.AddCommand(sessionCreateCmd())
	ses.AddCommand(sessionListCmd())
	return ses
}

func sessionCreateCmd() *cobra.Command {
	var id, projectID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSession(ctx, projectID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (generated if omitted)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSessions(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Status", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.ProjectID, s.Status, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage session tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var sessionID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, cliActor(), sessionID, title)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Updated"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var sessionID, taskID, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Set task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, cliActor(), sessionID, taskID, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&taskID, "id", "", "task id")
	cmd.Flags().StringVar(&status, "set", "", "status (planned, in_progress, done, canceled)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func gateCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the readiness gate for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eval, err := e.EvaluateGate(ctx, cliActor(), sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eval)
				}
				verdict := "FAIL"
				if eval.OK {
					verdict = "PASS"
				}
				fmt.Printf("Gate: %s (session %s)\n", verdict, eval.SessionID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check", "OK", "Details"})
				for _, c := range eval.Checks {
					details := ""
					if len(c.Details) > 0 {
						b, _ := json.Marshal(c.Details)
						details = string(b)
					}
					tw.AppendRow(table.Row{c.Name, c.OK, details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{Use: "artifact", Short: "Inspect artifacts"}
	var sessionID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List session artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListArtifacts(ctx, sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Status", "Type", "Size", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Key, a.Status, a.ContentType, a.SizeBytes, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = list.MarkFlagRequired("session")
	art.AddCommand(list)
	return art
}

func approvalCmd() *cobra.Command {
	appr := &cobra.Command{Use: "approval", Short: "Inspect apply approvals"}
	var sessionID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List approval tokens for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListApprovalTokens(ctx, sessionID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Issued To", "Expires", "Consumed"})
				for _, t := range items {
					consumed := ""
					if t.ConsumedAt != nil {
						consumed = *t.ConsumedAt
					}
					tw.AppendRow(table.Row{t.ID, t.Status, t.IssuedToSub, t.ExpiresAt, consumed})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&sessionID, "session", "", "session id")
	_ = list.MarkFlagRequired("session")
	appr.AddCommand(list)
	return appr
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	var n int
	var sessionID, action string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAuditEntries(ctx, repo.AuditFilters{
					SessionID: sessionID,
					Action:    action,
					Limit:     n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Actor", "Action", "Session", "Resource"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.ActorSub, e.Action, e.SessionID, e.Resource})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	tail.Flags().StringVar(&sessionID, "session", "", "session id filter")
	tail.Flags().StringVar(&action, "action", "", "action filter")
	audit.AddCommand(tail)
	return audit
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Mint access tokens locally"}
	var role, projectID, sessionID, subject string
	var ttl int
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a scoped access token using the workspace secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			applyEnvOverrides(cfg)
			if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
				return fmt.Errorf("auth.jwt_secret is required (set FORGEGATE_JWT_SECRET or forgegate.yml)")
			}
			auth := server.AuthConfig{
				JWTSecret: cfg.Auth.JWTSecret,
				Issuer:    cfg.Auth.Issuer,
				Audience:  cfg.Auth.Audience,
				APIKey:    cfg.Auth.APIKey,
			}
			token, ttlOut, err := auth.MintToken(cfg.Auth.APIKey, role, projectID, sessionID, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"access_token": token,
				"token_type":   "Bearer",
				"expires_in":   ttlOut,
			})
		},
	}
	mint.Flags().StringVar(&role, "role", domain.RoleAdmin, "role (admin, runner, user)")
	mint.Flags().StringVar(&projectID, "project", "", "project scope")
	mint.Flags().StringVar(&sessionID, "session", "", "session scope")
	mint.Flags().StringVar(&subject, "subject", "", "subject override")
	mint.Flags().IntVar(&ttl, "ttl", 0, "ttl in seconds (default 900, clamped to [60,3600])")
	tok.AddCommand(mint)
	return tok
}

const configTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api/v1
auth:
  jwt_secret: ""
  issuer: forgegate
  audience: forgegate
  api_key: ""
artifacts:
  allowed_content_types:
    - application/json
    - application/gzip
    - application/zip
    - text/plain
  max_upload_bytes: 134217728
  presign_expiry_seconds: 900
  storage_base_url: http://127.0.0.1:9000/forgegate
rate_limit:
  requests: 120
  window_seconds: 60
  redis_addr: ""
gate:
  coverage_threshold: 80
  require_pass_for_approval: false
`

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	applyEnvOverrides(cfg)
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
