package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlassist/pkg/matcher"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/pipeline"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the permission, checkpoint and vector tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, _, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := a.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newCheckSQLCmd(opts *options) *cobra.Command {
	var username, sql string
	cmd := &cobra.Command{
		Use:   "check-sql",
		Short: "Validate a statement against a user's permissions and show the scoping rewrite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, _, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			auth, err := resolveAuth(ctx, a.Users(), a.Validator, username)
			if err != nil {
				return err
			}
			decision, err := a.Validator.Check(ctx, auth, sql)
			if err != nil {
				return fmt.Errorf("failed to check statement: %w", err)
			}

			out := cmd.OutOrStdout()
			if !decision.Approved {
				fmt.Fprintf(out, "denied: no access to %s\n", strings.Join(decision.Unauthorized, ", "))
				return nil
			}
			diff := renderDiff(sql, decision.SQL)
			if diff == "" {
				fmt.Fprintln(out, "approved: statement unchanged")
				return nil
			}
			fmt.Fprintf(out, "approved: scoped %s\n%s", strings.Join(decision.Scoped, ", "), diff)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username to check as")
	cmd.Flags().StringVar(&sql, "sql", "", "statement to validate")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func newExecCmd(opts *options) *cobra.Command {
	var username, sql string
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a read-only statement through the executor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, _, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			if username != "" {
				auth, err := resolveAuth(ctx, a.Users(), a.Validator, username)
				if err != nil {
					return err
				}
				decision, err := a.Validator.Check(ctx, auth, sql)
				if err != nil {
					return fmt.Errorf("failed to check statement: %w", err)
				}
				if !decision.Approved {
					return fmt.Errorf("permission denied: no access to %s", strings.Join(decision.Unauthorized, ", "))
				}
				sql = decision.SQL
			}

			res := a.Executor.Execute(ctx, sql)
			if !res.Success {
				return fmt.Errorf("statement failed: %s", res.Error)
			}
			out := cmd.OutOrStdout()
			renderTable(out, res.Columns, stringRows(res.Rows))
			fmt.Fprintf(out, "%d rows in %dms", res.RowCount, res.ElapsedMs)
			if res.Truncated {
				fmt.Fprint(out, " (truncated)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "", "statement to run")
	cmd.Flags().StringVar(&username, "user", "", "apply this user's permissions before running")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	var username, sessionID string
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "ask QUERY",
		Short: "Run a full question turn and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, log, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			var userID int64
			if users := a.Users(); users != nil {
				user, err := users.LookupUser(ctx, username)
				if err != nil {
					return fmt.Errorf("failed to resolve user %q: %w", username, err)
				}
				userID = user.ID
			}

			o, err := a.Orchestrator(ctx)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, opts.cfg.TurnTimeout)
			defer cancel()
			answer, err := o.Run(ctx, pipeline.Turn{
				SessionID: sessionID,
				UserID:    userID,
				Query:     strings.Join(args, " "),
			}, func(p pipeline.Progress) {
				log.Info("ask: progress", "stage", p.Stage, "retry_count", p.RetryCount)
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\nsession: %s\noutcome: %s\n", answer.Message, answer.SessionID, answer.Outcome)
			if showSQL && answer.State.ExecutionResult != nil {
				res := answer.State.ExecutionResult
				fmt.Fprintf(out, "\n%s\n", res.ExecutedSQL)
				if res.Success {
					renderTable(out, res.Columns, stringRows(res.Rows))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username the query runs as")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the executed statement and its rows")
	return cmd
}

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [TABLE]",
		Short: "List tables, or the columns of one table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, _, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tables, err := a.Inspector.Tables(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(tables))
				for _, t := range tables {
					rows = append(rows, []string{t.Name, t.Comment})
				}
				renderTable(out, []string{"Table", "Comment"}, rows)
				return nil
			}

			st, err := a.Inspector.Structure(ctx, args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(st.Columns))
			for _, c := range st.Columns {
				rows = append(rows, []string{c.Name, c.Type, c.Comment})
			}
			renderTable(out, []string{"Column", "Type", "Comment"}, rows)
			return nil
		},
	}
}

func newIndexCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Embed the catalog into the pgvector matcher tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.CatalogPath == "" {
				return errors.New("--catalog is required")
			}
			ctx, a, log, done, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer done()
			if a.Pool == nil {
				return errors.New("indexing requires --postgres-dsn")
			}

			catalog, err := matcher.LoadCatalog(opts.cfg.CatalogPath)
			if err != nil {
				return err
			}
			emb, err := a.Embedder()
			if err != nil {
				return err
			}
			if err := matcher.Index(ctx, emb, matcher.NewPostgresStore(a.Pool), catalog); err != nil {
				return err
			}
			log.Info("index: catalog indexed", "terms", len(catalog.Terms), "tables", len(catalog.Tables))
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d terms and %d tables\n", len(catalog.Terms), len(catalog.Tables))
			return nil
		},
	}
}

type authLoader interface {
	AuthContext(ctx context.Context, userID int64) (permission.AuthContext, error)
}

// resolveAuth loads the auth context of username. Without a user store access control is off
// and an empty context is returned.
func resolveAuth(ctx context.Context, users permission.Store, v authLoader, username string) (permission.AuthContext, error) {
	if users == nil {
		return v.AuthContext(ctx, 0)
	}
	user, err := users.LookupUser(ctx, username)
	if err != nil {
		return permission.AuthContext{}, fmt.Errorf("failed to resolve user %q: %w", username, err)
	}
	return v.AuthContext(ctx, user.ID)
}
