package main

import (
	"context"
	"fmt"
	"io"

	"github.com/italolelis/model_provisioner/internal/config"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/provider"
	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func checkTokensHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, _ := setupLogger(cfg, false)
	defer closeLog()

	ctx := logctx.WithLogger(cmd.Context(), logger)
	client := newHTTPClient(nil)

	return checkTokens(ctx, cmd.OutOrStdout(), newValidator(client, cfg))
}

// checkTokens prints the state of every gated provider's token and fails if
// a configured token is rejected.
func checkTokens(ctx context.Context, w io.Writer, validator *provider.Validator) error {
	results := validator.ValidateAll(ctx)
	invalid := 0

	var data [][]string

	for _, kind := range transfer.Kinds {
		if !kind.Gated() {
			continue
		}

		valid, configured := results[kind]

		switch {
		case !configured:
			data = append(data, []string{kind.String(), "unset", "-"})
		case valid:
			data = append(data, []string{kind.String(), "set", "valid"})
		default:
			invalid++

			data = append(data, []string{kind.String(), "set", "invalid"})
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PROVIDER", "TOKEN", "STATUS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	if invalid > 0 {
		return fmt.Errorf("%d configured token(s) rejected by their provider", invalid)
	}

	return nil
}
