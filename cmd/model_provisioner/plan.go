package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/italolelis/model_provisioner/internal/config"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/provider"
	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func planHandler(cmd *cobra.Command, _ []string) error {
	resolve, err := cmd.Flags().GetBool("resolve")
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, _ := setupLogger(cfg, false)
	defer closeLog()

	ctx := logctx.WithLogger(cmd.Context(), logger)

	requests, err := loadRequests(ctx, cfg)
	if err != nil {
		return err
	}

	var resolver *provider.Resolver

	if resolve {
		client := newHTTPClient(nil)
		resolver = provider.NewResolver(client, newValidator(client, cfg))
	}

	writePlan(ctx, cmd.OutOrStdout(), requests, resolver)

	return nil
}

// writePlan prints one row per request. With a resolver the final path and
// whether it already exists are shown too.
func writePlan(ctx context.Context, w io.Writer, requests map[transfer.Kind][]transfer.Request, resolver *provider.Resolver) {
	header := []string{"KIND", "SOURCE", "DESTINATION"}
	if resolver != nil {
		header = append(header, "FINAL PATH", "STATUS")
	}

	var data [][]string

	for _, kind := range transfer.Kinds {
		for _, req := range requests[kind] {
			row := []string{kind.String(), req.SourceURL, req.Destination}

			if resolver != nil {
				row = append(row, planStatus(ctx, resolver, req)...)
			}

			data = append(data, row)
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
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

func planStatus(ctx context.Context, resolver *provider.Resolver, req transfer.Request) []string {
	plan, err := resolver.Resolve(ctx, req)
	if err != nil {
		return []string{"-", "unresolvable"}
	}

	if _, err := os.Stat(plan.FinalPath); err == nil {
		return []string{plan.FinalPath, "present"}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return []string{plan.FinalPath, "unknown"}
	}

	return []string{plan.FinalPath, "pending"}
}
