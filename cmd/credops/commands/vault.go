package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/store"
	"github.com/credops/credops/internal/vault"
)

// NewVaultCommand creates the vault command group.
func NewVaultCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect the configured secret-storage backend",
	}

	cmd.AddCommand(newVaultStatusCommand(cfg))
	cmd.AddCommand(newVaultTypesCommand())

	return cmd
}

func newVaultStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the configured vault backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}

			db, err := openDatabase(def)
			if err != nil {
				return err
			}

			codec, err := buildCodec(def)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			facade, err := vault.NewFacade(ctx, def.Vault.Type, def.Vault.Config, vault.Deps{
				Logger:  cfg.Logger,
				Secrets: store.NewAccountStore(db, codec),
			})
			if err != nil {
				cfg.Logger.Error("✗ Vault backend '%s' is not ready: %v", def.Vault.Type, err)
				return fmt.Errorf("vault backend is not ready: %w", err)
			}

			if active, reason := facade.Status(ctx); !active {
				cfg.Logger.Error("✗ Vault backend '%s' is not ready: %s", def.Vault.Type, reason)
				return fmt.Errorf("vault backend is not ready: %s", reason)
			}

			cfg.Logger.Info("✓ Vault backend '%s' is ready", def.Vault.Type)
			return nil
		},
	}
}

func newVaultTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the supported vault backend types",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, t := range vault.NewRegistry().SupportedTypes() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", t, vaultTypeDescription(t))
			}
			return w.Flush()
		},
	}
}

func vaultTypeDescription(t string) string {
	switch t {
	case vault.TypeLocal:
		return "encrypted column in the system of record"
	case vault.TypeHCVault:
		return "HashiCorp Vault KV v2"
	case vault.TypeAWS:
		return "AWS Secrets Manager"
	case vault.TypeGCP:
		return "Google Cloud Secret Manager"
	case vault.TypeAzure:
		return "Azure Key Vault"
	default:
		return ""
	}
}
