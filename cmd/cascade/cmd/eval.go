package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/ruledoc"
	"github.com/solatis/cascade/internal/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a rule document offline and print the derived state",
	Long: `Evaluate a rule document against a values file without a database.

Prints the derived state as JSON. With --route prints the routing decision
(pass only when the cascade converged and nothing is hidden).`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().String("file", "", "rule document (YAML or JSON)")
	evalCmd.Flags().String("values", "", "field values (YAML or JSON object)")
	evalCmd.Flags().String("resolved", "", "caller-resolved sql values for task rules (YAML or JSON object)")
	evalCmd.Flags().Bool("route", false, "print the routing decision instead of the derived state")
	_ = evalCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	valuesFile, _ := cmd.Flags().GetString("values")
	resolvedFile, _ := cmd.Flags().GetString("resolved")
	route, _ := cmd.Flags().GetBool("route")

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	doc, err := ruledoc.Parse(data)
	if err != nil {
		return err
	}
	values, err := readValues(valuesFile)
	if err != nil {
		return err
	}
	resolved, err := readValues(resolvedFile)
	if err != nil {
		return err
	}

	engine := rules.NewEngine(
		rules.WithPassBudget(cfg.Engine.PassBudget),
		rules.WithMode(doc.Mode),
		rules.WithLogger(logger.Named("engine")),
	)

	var out any
	if route {
		out = engine.Route(doc.Rules, doc.Fields, values)
	} else {
		out = engine.ResolveWith(doc.Rules, doc.Fields, values, resolved)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// readValues loads a values file; an empty path yields an empty bag.
func readValues(path string) (types.ValueBag, error) {
	if path == "" {
		return types.ValueBag{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ruledoc.ParseValues(data)
}
