package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/pizza"
)

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalogue as JSON",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
}

func runTools(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := pizza.NewClient(pizza.Options{BaseURL: cfg.PizzaAPI.BaseURL})
	if err != nil {
		return err
	}

	descriptors := pizza.Tools(client)
	catalogue := make([]toolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		catalogue = append(catalogue, toolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(catalogue)
}
