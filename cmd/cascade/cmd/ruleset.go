package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/cascade/internal/ruledoc"
	"github.com/solatis/cascade/internal/types"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate a rule document and store it as a tenant scope",
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a stored scope as a rule document",
	RunE:  runExport,
}

var scopesCmd = &cobra.Command{
	Use:   "scopes",
	Short: "List a tenant's scopes",
	RunE:  runScopes,
}

func init() {
	importCmd.Flags().String("file", "", "rule document (YAML or JSON)")
	importCmd.Flags().String("tenant", "", "tenant name (created when missing)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("tenant")

	exportCmd.Flags().String("tenant", "", "tenant name")
	exportCmd.Flags().String("scope", "", "scope name")
	_ = exportCmd.MarkFlagRequired("tenant")
	_ = exportCmd.MarkFlagRequired("scope")

	scopesCmd.Flags().String("tenant", "", "tenant name")
	_ = scopesCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(importCmd, exportCmd, scopesCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	tenantName, _ := cmd.Flags().GetString("tenant")

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	doc, err := ruledoc.Parse(data)
	if err != nil {
		return err
	}
	if len(doc.Rules) > cfg.Engine.MaxRules {
		return fmt.Errorf("%w: %d > %d (engine.max_rules)", types.ErrTooManyRules, len(doc.Rules), cfg.Engine.MaxRules)
	}

	database, _, rs, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	tenant, err := rs.EnsureTenant(ctx, tenantName)
	if err != nil {
		return err
	}
	scope, err := rs.UpsertScope(ctx, tenant.ID, doc.Scope, doc.Mode)
	if err != nil {
		return err
	}
	if err := rs.SaveRuleSet(ctx, scope.ID, doc.Fields, doc.Rules); err != nil {
		return err
	}

	logger.Info("imported rule set",
		zap.String("tenant", tenantName),
		zap.String("scope", doc.Scope),
		zap.String("scope_id", string(scope.ID)),
		zap.String("mode", string(doc.Mode)),
		zap.Int("fields", len(doc.Fields)),
		zap.Int("rules", len(doc.Rules)),
	)
	fmt.Fprintln(cmd.OutOrStdout(), scope.ID)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	tenantName, _ := cmd.Flags().GetString("tenant")
	scopeName, _ := cmd.Flags().GetString("scope")

	database, _, rs, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	tenant, err := rs.TenantByName(ctx, tenantName)
	if err != nil {
		return err
	}
	scope, err := rs.ScopeByName(ctx, tenant.ID, scopeName)
	if err != nil {
		return err
	}
	set, err := rs.LoadRuleSet(ctx, tenant.ID, scope.ID)
	if err != nil {
		return err
	}

	out, err := ruledoc.Marshal(&ruledoc.Document{
		Scope:  set.Scope.Name,
		Mode:   set.Scope.Mode,
		Fields: set.Fields,
		Rules:  set.Rules,
	})
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runScopes(cmd *cobra.Command, args []string) error {
	tenantName, _ := cmd.Flags().GetString("tenant")

	database, _, rs, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	tenant, err := rs.TenantByName(ctx, tenantName)
	if err != nil {
		return err
	}
	scopes, err := rs.ListScopes(ctx, tenant.ID)
	if err != nil {
		return err
	}
	for _, s := range scopes {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Mode, s.Name)
	}
	return nil
}
