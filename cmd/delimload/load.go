package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/delimload/internal/admin"
	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/store"
)

func newLoadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Store every valid record of FILE in the database",
		Long: `load parses FILE and upserts one document per valid row, keyed by its
URI. Rejected rows are listed after the summary. Requires DATABASE_URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ingCfg, job, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, closeDB, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return err
			}

			bar := opts.newBar(cmd.ErrOrStderr(), filepath.Base(path))
			svc := ingest.NewService(st, *ingCfg)
			res, err := svc.Run(ctx, ingest.Request{
				FileName: filepath.Base(path),
				Body:     f,
				Size:     info.Size(),
				Job:      job,
			}, func(p ingest.Progress) {
				bar.Set(p.Percent())
			})
			bar.Finish()

			if res != nil {
				printSummary(cmd.OutOrStdout(), res)
				log.Info("load finished", "ingest_id", res.IngestID, "phase", res.Phase, "written", res.Written)
			}
			return err
		},
	}
}

func newRollbackCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback INGEST_ID",
		Short: "Delete every document last written by an ingest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ingCfg, _, _, err := opts.settings(cmd)
			if err != nil {
				return err
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: %q", ingest.ErrInvalidID, args[0])
			}

			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := ingest.NewService(st, *ingCfg).Rollback(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents from ingest %s\n", n, id)
			return nil
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored document and the ingest history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("reset deletes all documents; pass --yes to confirm")
			}
			if _, _, _, err := opts.settings(cmd); err != nil {
				return err
			}

			st, closeDB, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			res, err := admin.ResetAll(cmd.Context(), st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents and %d ingest records\n", res.Documents, res.Ingests)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the reset")
	return cmd
}

// openStore connects using the DATABASE_* settings and makes sure the
// schema exists.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func printSummary(w io.Writer, res *ingest.Result) {
	fmt.Fprintf(w, "ingest   %s\n", res.IngestID)
	fmt.Fprintf(w, "file     %s\n", res.FileName)
	fmt.Fprintf(w, "status   %s\n", res.Phase)
	fmt.Fprintf(w, "id       %s\n", res.IDColumn)
	fmt.Fprintf(w, "records  %d (valid %d, invalid %d)\n", res.Records, res.Valid, res.Invalid)
	fmt.Fprintf(w, "written  %d\n", res.Written)
	fmt.Fprintf(w, "duration %s\n", res.Duration.Round(time.Millisecond))

	if len(res.FailedRows) == 0 {
		return
	}
	fmt.Fprintln(w, "\nrejected rows:")
	for _, fr := range res.FailedRows {
		fmt.Fprintf(w, "  line %d: %s\n", fr.Line, fr.Reason)
	}
	if res.Truncated {
		fmt.Fprintf(w, "  ... %d more\n", res.Invalid-len(res.FailedRows))
	}
}
