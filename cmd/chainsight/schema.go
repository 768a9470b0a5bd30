package main

import (
	"encoding/json"
	"fmt"

	"github.com/dextrack/chainsight/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema for the configuration file",
	Long: `Print a JSON schema describing every configuration option.
Useful for editor completion and for validating config files in CI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{
			ExpandedStruct: true,
			DoNotReference: false,
		}

		schema := reflector.Reflect(&config.Config{})
		schema.Title = "ChainSight configuration"

		encoded, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}

		fmt.Println(string(encoded))
		return nil
	},
}
