package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"facilitrack/internal/app"
	"facilitrack/internal/config"
	"facilitrack/internal/domain"
	"facilitrack/internal/relations"
	"facilitrack/internal/server"
	"facilitrack/internal/subtasks"
	ftsdk "facilitrack/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "ft",
	Short: "Facilitrack CLI",
	Long: `Facilitrack manages the relationships and subtasks of facilities-management tasks.
- Board: the tasks of a milestone sorted into Main Task, Predecessor, Successor and List of Tasks relative to one focal task; moving a card creates or flips a dependency record.
- Subtasks: the editable grid of a task's subtasks with dates checked against the parent's window.
- Tags: the global catalog subtasks are labelled with.
- serve runs the API backed by the workspace database.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("FACILITRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory (holds facilitrack.yml and .facilitrack/)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base-url", "", "API base URL including the base path (overrides client.base_url)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides client.token)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(tagCmd())
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage facilitrack.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default facilitrack.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Server.JWTSecret = redact(cfg.Server.JWTSecret)
			cfg.Client.Token = redact(cfg.Client.Token)
			return printJSON(cfg)
		},
	}
	cfgCmd.AddCommand(initCmd, showCmd)
	return cfgCmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := jwtSecret(cfg)
			if secret == "" {
				return fmt.Errorf("server.jwt_secret or FACILITRACK_JWT_SECRET is required for bearer auth")
			}
			e, closeDB, err := app.OpenEngine(cmd.Context(), serverWorkspace(cfg))
			if err != nil {
				return err
			}
			defer closeDB()
			logger := log.New(os.Stderr, "", log.LstdFlags)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Facilitrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the server secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.SignToken(jwtSecret(cfg), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "actor recorded on writes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func taskCmd() *cobra.Command {
	tc := &cobra.Command{Use: "task", Short: "Manage tasks"}
	var in ftsdk.CreateTaskInput
	var milestone, pm, start, end string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a milestone task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.MilestoneID = domain.ID(milestone)
			in.ProjectManagementID = domain.ID(pm)
			var err error
			if in.StartDate, err = domain.ParseDate(start); err != nil {
				return err
			}
			if in.EndDate, err = domain.ParseDate(end); err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, _ *config.Config, c *ftsdk.Client) error {
				t, err := c.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "task title")
	create.Flags().StringVar(&milestone, "milestone", "", "milestone id")
	create.Flags().StringVar(&pm, "project-management", "", "project management id")
	create.Flags().StringVar(&in.Status, "status", "", "status (default open)")
	create.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	create.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	_ = create.MarkFlagRequired("title")
	_ = create.MarkFlagRequired("milestone")

	var id string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a task with its dependency records and subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *config.Config, c *ftsdk.Client) error {
				t, err := c.Task(ctx, domain.ID(id))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	show.Flags().StringVar(&id, "id", "", "task id")
	_ = show.MarkFlagRequired("id")
	tc.AddCommand(create, show)
	return tc
}

func boardCmd() *cobra.Command {
	bc := &cobra.Command{Use: "board", Short: "Relationship board of a focal task"}
	var milestone, focal string
	bc.PersistentFlags().StringVar(&milestone, "milestone", "", "milestone id")
	bc.PersistentFlags().StringVar(&focal, "focal", "", "focal task id")
	_ = bc.MarkPersistentFlagRequired("milestone")
	_ = bc.MarkPersistentFlagRequired("focal")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print every task of the milestone with its section",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), milestone, focal, func(ctx context.Context, b *relations.Board) error {
				printBoard(b.Classification())
				return nil
			})
		},
	}

	var taskID, to string
	move := &cobra.Command{
		Use:   "move",
		Short: "Drop a task onto a section (Predecessor or Successor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd.Context(), milestone, focal, func(ctx context.Context, b *relations.Board) error {
				target, err := parseSection(to)
				if err != nil {
					return err
				}
				from, _ := b.Classification().Section(domain.ID(taskID))
				res, err := b.Drop(ctx, relations.DragEvent{TaskID: domain.ID(taskID), From: from, To: target})
				if err != nil {
					return err
				}
				if res.Action == relations.ActionNone {
					fmt.Fprintf(os.Stderr, "%s does not accept drops; nothing changed\n", target)
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printBoard(b.Classification())
				return nil
			})
		},
	}
	move.Flags().StringVar(&taskID, "task", "", "task to move")
	move.Flags().StringVar(&to, "to", "", "target section: predecessor, successor, main, list")
	_ = move.MarkFlagRequired("task")
	_ = move.MarkFlagRequired("to")
	bc.AddCommand(show, move)
	return bc
}

func subtaskCmd() *cobra.Command {
	sc := &cobra.Command{Use: "subtask", Short: "Subtask grid of a parent task"}
	var parent string
	sc.PersistentFlags().StringVar(&parent, "parent", "", "parent task id")
	_ = sc.MarkPersistentFlagRequired("parent")

	list := &cobra.Command{
		Use:   "list",
		Short: "List subtasks with durations and tag names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrid(cmd.Context(), parent, func(ctx context.Context, g *subtasks.Grid) error {
				printRows(g.Rows())
				return nil
			})
		},
	}

	var id, field, value string
	set := &cobra.Command{
		Use:   "set",
		Short: "Commit one field of a subtask",
		Long:  "Fields: title, status, priority, responsible_person_id, started_at, target_date, task_tag_ids (comma separated tag names).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGrid(cmd.Context(), parent, func(ctx context.Context, g *subtasks.Grid) error {
				if err := setField(ctx, g, domain.ID(id), domain.SubtaskField(field), value); err != nil {
					return err
				}
				printRows(g.Rows())
				return nil
			})
		},
	}
	set.Flags().StringVar(&id, "id", "", "subtask id")
	set.Flags().StringVar(&field, "field", "", "field to change")
	set.Flags().StringVar(&value, "value", "", "new value")
	_ = set.MarkFlagRequired("id")
	_ = set.MarkFlagRequired("field")

	var d subtasks.Draft
	var status, priority, responsible, start, end, tagList string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a subtask through the draft row",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if d.StartDate, err = domain.ParseDate(start); err != nil {
				return err
			}
			if d.EndDate, err = domain.ParseDate(end); err != nil {
				return err
			}
			return withGrid(cmd.Context(), parent, func(ctx context.Context, g *subtasks.Grid) error {
				if err := g.OpenDraft(); err != nil {
					return err
				}
				err := g.EditDraft(func(draft *subtasks.Draft) {
					draft.Title = d.Title
					draft.StartDate, draft.EndDate = d.StartDate, d.EndDate
					draft.ResponsiblePersonID = domain.ID(responsible)
					draft.TagNames = splitList(tagList)
					if status != "" {
						draft.Status = domain.SubtaskStatus(status)
					}
					if priority != "" {
						draft.Priority = domain.Priority(priority)
					}
				})
				if err != nil {
					return err
				}
				st, err := g.SaveDraft(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printRows(g.Rows())
				return nil
			})
		},
	}
	add.Flags().StringVar(&d.Title, "title", "", "subtask title")
	add.Flags().StringVar(&status, "status", "", "open, in_progress, completed, on_hold")
	add.Flags().StringVar(&priority, "priority", "", "None, Low, Medium, High, Urgent")
	add.Flags().StringVar(&responsible, "responsible", "", "responsible person id")
	add.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	add.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	add.Flags().StringVar(&tagList, "tags", "", "comma separated tag names")
	sc.AddCommand(list, set, add)
	return sc
}

func tagCmd() *cobra.Command {
	tc := &cobra.Command{Use: "tag", Short: "Tag catalog"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *config.Config, c *ftsdk.Client) error {
				items, err := c.Tags(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Add a tag to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *config.Config, c *ftsdk.Client) error {
				t, err := c.CreateTag(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "tag name")
	_ = create.MarkFlagRequired("name")
	tc.AddCommand(list, create)
	return tc
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

func serverWorkspace(cfg *config.Config) string {
	if cfg.Server.Workspace == "" || cfg.Server.Workspace == "." {
		return viper.GetString("workspace")
	}
	return cfg.Server.Workspace
}

func jwtSecret(cfg *config.Config) string {
	if v := viper.GetString("jwt-secret"); v != "" {
		return v
	}
	return cfg.Server.JWTSecret
}

func withClient(ctx context.Context, fn func(context.Context, *config.Config, *ftsdk.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := app.Client(cfg, app.Overrides{BaseURL: viper.GetString("base-url"), Token: viper.GetString("token")})
	if err != nil {
		return err
	}
	return fn(ctx, cfg, c)
}

func withBoard(ctx context.Context, milestone, focal string, fn func(context.Context, *relations.Board) error) error {
	return withClient(ctx, func(ctx context.Context, cfg *config.Config, c *ftsdk.Client) error {
		b, err := app.OpenBoard(ctx, cfg, c, domain.ID(milestone), domain.ID(focal), nil)
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(ctx, b)
	})
}

func withGrid(ctx context.Context, parent string, fn func(context.Context, *subtasks.Grid) error) error {
	return withClient(ctx, func(ctx context.Context, cfg *config.Config, c *ftsdk.Client) error {
		g, err := app.OpenGrid(ctx, cfg, c, domain.ID(parent), nil)
		if err != nil {
			return err
		}
		defer g.Close()
		err = fn(ctx, g)
		printNotices(g.Notices())
		return err
	})
}

func setField(ctx context.Context, g *subtasks.Grid, id domain.ID, field domain.SubtaskField, value string) error {
	switch field {
	case domain.FieldTitle:
		if err := g.BeginEdit(id, field); err != nil {
			return err
		}
		if err := g.TypeTitle(id, value); err != nil {
			return err
		}
		return g.PressEnter(ctx, id)
	case domain.FieldStatus:
		return g.SelectStatus(ctx, id, domain.SubtaskStatus(value))
	case domain.FieldPriority:
		return g.SelectPriority(ctx, id, domain.Priority(value))
	case domain.FieldResponsible:
		return g.SelectResponsible(ctx, id, domain.ID(value))
	case domain.FieldStartDate, domain.FieldEndDate:
		d, err := domain.ParseDate(value)
		if err != nil {
			return err
		}
		if field == domain.FieldStartDate {
			return g.ChangeStartDate(ctx, id, d)
		}
		return g.ChangeEndDate(ctx, id, d)
	case domain.FieldTags:
		_, err := g.ChangeTags(ctx, id, splitList(value))
		return err
	}
	return fmt.Errorf("unknown field %q", field)
}

func parseSection(s string) (domain.Section, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "predecessor":
		return domain.SectionPredecessor, nil
	case "successor":
		return domain.SectionSuccessor, nil
	case "main", "main task":
		return domain.SectionMainTask, nil
	case "list", "list of tasks":
		return domain.SectionListOfTasks, nil
	}
	sec := domain.Section(s)
	if sec.Valid() {
		return sec, nil
	}
	return "", fmt.Errorf("%w: %q", relations.ErrUnknownSection, s)
}

func printBoard(c relations.Classification) {
	if viper.GetBool("json") {
		_ = printJSON(c.Placements())
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Section", "ID", "Title", "Note"})
	for _, sec := range domain.Sections {
		for _, p := range c.Placements() {
			if p.Section != sec {
				continue
			}
			note := ""
			if p.Ambiguous {
				note = "also listed as successor"
			}
			tw.AppendRow(table.Row{sec, p.TaskID, p.Title, note})
		}
		tw.AppendSeparator()
	}
	tw.Render()
}

func printRows(rows []subtasks.Row) {
	if viper.GetBool("json") {
		_ = printJSON(rows)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Responsible", "Start", "End", "Duration", "Priority", "Tags"})
	for _, r := range rows {
		st := r.Subtask
		tw.AppendRow(table.Row{st.ID, st.Title, st.Status, st.ResponsiblePersonID, st.StartDate, st.EndDate, r.Duration, st.Priority, strings.Join(r.TagNames, ", ")})
	}
	tw.Render()
}

func printNotices(notices []subtasks.Notice) {
	for _, n := range notices {
		fmt.Fprintf(os.Stderr, "%s: %s\n", n.Kind, n.Message)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
