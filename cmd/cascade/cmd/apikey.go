package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage tenant API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's API keys",
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an API key",
	RunE:  runAPIKeyRevoke,
}

func init() {
	apikeyCreateCmd.Flags().String("tenant", "", "tenant name (created when missing)")
	apikeyCreateCmd.Flags().String("name", "default", "key label")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret id to bind the key to (defaults to the lowest configured id)")
	_ = apikeyCreateCmd.MarkFlagRequired("tenant")

	apikeyListCmd.Flags().String("tenant", "", "tenant name")
	_ = apikeyListCmd.MarkFlagRequired("tenant")

	apikeyRevokeCmd.Flags().String("tenant", "", "tenant name")
	apikeyRevokeCmd.Flags().String("id", "", "API key id")
	_ = apikeyRevokeCmd.MarkFlagRequired("tenant")
	_ = apikeyRevokeCmd.MarkFlagRequired("id")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	tenantName, _ := cmd.Flags().GetString("tenant")
	name, _ := cmd.Flags().GetString("name")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	secretID, secret, err := pickSecret(secrets, secretID)
	if err != nil {
		return err
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

	key, hash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}
	rec, err := rs.CreateAPIKey(ctx, tenant.ID, name, secretID, hash)
	if err != nil {
		return err
	}

	logger.Info("created API key",
		zap.String("tenant", tenantName),
		zap.String("api_key_id", rec.ID),
		zap.String("secret_id", secretID),
	)
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}

// pickSecret returns the requested secret, or the lowest secret id when none
// is requested so repeated runs bind to the same secret.
func pickSecret(secrets map[string][]byte, secretID string) (string, []byte, error) {
	if len(secrets) == 0 {
		return "", nil, fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}
	if secretID != "" {
		secret, ok := secrets[secretID]
		if !ok {
			return "", nil, fmt.Errorf("secret id %s is not configured", secretID)
		}
		return secretID, secret, nil
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], secrets[ids[0]], nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
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
	keys, err := rs.ListAPIKeys(ctx, tenant.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSECRET ID\tCREATED\tLAST USED\tSTATUS")
	for _, k := range keys {
		lastUsed, state := "-", "active"
		if k.LastUsedAt.Valid {
			lastUsed = k.LastUsedAt.Time.Format(time.RFC3339)
		}
		if k.RevokedAt.Valid {
			state = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.SecretID, k.CreatedAt.Format(time.RFC3339), lastUsed, state)
	}
	return w.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	tenantName, _ := cmd.Flags().GetString("tenant")
	id, _ := cmd.Flags().GetString("id")

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
	if err := rs.RevokeAPIKey(ctx, tenant.ID, id); err != nil {
		return err
	}
	logger.Info("revoked API key", zap.String("tenant", tenantName), zap.String("api_key_id", id))
	return nil
}
