package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/model_provisioner/internal/config"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/storage"
	"github.com/italolelis/model_provisioner/internal/storage/sqlite"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func historyHandler(cmd *cobra.Command, _ []string) error {
	runID, err := cmd.Flags().GetString("run")
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if cfg.DBPath == "" {
		return errors.New("DB_PATH is not set, no acquisition history is recorded")
	}

	logger, closeLog, _ := setupLogger(cfg, false)
	defer closeLog()

	ctx := logctx.WithLogger(cmd.Context(), logger)

	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer database.Close()

	repo := sqlite.NewOutcomeRepository(database)

	var records []storage.OutcomeRecord

	if runID != "" {
		records, err = repo.GetOutcomesByRun(ctx, runID)
	} else {
		records, err = repo.GetRecentOutcomes(ctx, limit)
	}

	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	writeHistory(cmd.OutOrStdout(), records)

	return nil
}

func writeHistory(w io.Writer, records []storage.OutcomeRecord) {
	var data [][]string

	for _, rec := range records {
		data = append(data, []string{
			shortID(rec.RunID),
			rec.Kind,
			rec.SourceURL,
			rec.Status,
			strconv.Itoa(rec.Attempts),
			humanize.Bytes(uint64(max(rec.Bytes, 0))),
			rec.Duration.Round(time.Millisecond).String(),
			humanize.Time(rec.CreatedAt),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"RUN", "KIND", "SOURCE", "STATUS", "ATTEMPTS", "SIZE", "DURATION", "WHEN"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
