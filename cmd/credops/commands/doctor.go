package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/credops/credops/internal/config"
	cerrors "github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/secure"
	"github.com/credops/credops/internal/store"
	"github.com/credops/credops/internal/vault"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and vault connectivity",
		Long: `Verify that the installation is ready for credential automation.

This command checks:
- Configuration file validity
- Encryption key material
- Database connectivity and schema
- Vault backend reachability`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking credops configuration...")

			results := make([]CheckResult, 0, 4)
			results = append(results, checkConfig(cfg))

			if cfg.Definition != nil {
				results = append(results, checkEncryptionKey(cfg.Definition))
				results = append(results, checkDatabase(cfg.Definition))
				results = append(results, checkVault(cfg))
			}

			displayCheckResults(results, verbose)

			healthy := 0
			for _, result := range results {
				if result.Status == "ok" {
					healthy++
				}
			}

			fmt.Printf("\nSummary: %d/%d checks passed\n", healthy, len(results))
			if healthy < len(results) {
				return fmt.Errorf("some checks failed")
			}

			cfg.Logger.Info("✓ All systems operational!")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failed checks")

	return cmd
}

// CheckResult represents the outcome of a single doctor check
type CheckResult struct {
	Name        string
	Status      string // ok, error
	Message     string
	Suggestions []string
}

func checkConfig(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "config"}

	if err := cfg.Load(); err != nil {
		result.Status = "error"
		result.Message = err.Error()
		var cerr cerrors.ConfigError
		if errors.As(err, &cerr) && cerr.Suggestion != "" {
			result.Suggestions = []string{cerr.Suggestion}
		}
		return result
	}

	result.Status = "ok"
	result.Message = fmt.Sprintf("loaded %s", cfg.Path)
	return result
}

func checkEncryptionKey(def *config.Definition) CheckResult {
	result := CheckResult{Name: "encryption"}

	key, err := def.MasterKey()
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		var cerr cerrors.ConfigError
		if errors.As(err, &cerr) && cerr.Suggestion != "" {
			result.Suggestions = []string{cerr.Suggestion}
		} else {
			result.Suggestions = []string{
				"Generate a key with: head -c 32 /dev/urandom | base64",
			}
		}
		return result
	}
	key.Destroy()

	result.Status = "ok"
	result.Message = fmt.Sprintf("%d-byte key present", secure.KeyLength)
	return result
}

func checkDatabase(def *config.Definition) CheckResult {
	result := CheckResult{Name: "database"}

	db, err := store.Connect(store.Config{DSN: def.Database.DSN})
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestions = []string{
			"Verify database.dsn in the configuration file",
			"Check that the database server is running",
		}
		return result
	}

	sqlDB, err := db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestions = []string{
			"Check network connectivity to the database",
		}
		return result
	}

	result.Status = "ok"
	result.Message = "reachable"
	return result
}

func checkVault(cfg *config.Config) CheckResult {
	def := cfg.Definition
	result := CheckResult{Name: fmt.Sprintf("vault (%s)", def.Vault.Type)}

	db, err := store.Connect(store.Config{DSN: def.Database.DSN})
	if err != nil {
		result.Status = "error"
		result.Message = "database unavailable, cannot build vault facade"
		return result
	}

	codec, err := buildCodec(def)
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	facade, err := vault.NewFacade(ctx, def.Vault.Type, def.Vault.Config, vault.Deps{
		Logger:  cfg.Logger,
		Secrets: store.NewAccountStore(db, codec),
	})
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		result.Suggestions = []string{
			"Verify the vault section of the configuration file",
			"Check vault credentials and network reachability",
		}
		return result
	}

	if active, reason := facade.Status(ctx); !active {
		result.Status = "error"
		result.Message = reason
		result.Suggestions = []string{
			"Check vault credentials and network reachability",
		}
		return result
	}

	result.Status = "ok"
	result.Message = "backend is ready"
	return result
}

// displayCheckResults shows doctor checks in a formatted table
func displayCheckResults(results []CheckResult, verbose bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		switch result.Status {
		case "ok":
			status = "✓ " + status
		case "error":
			status = "✗ " + status
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", result.Name, status, result.Message)
	}

	_ = w.Flush()

	if verbose {
		for _, result := range results {
			if result.Status == "error" && len(result.Suggestions) > 0 {
				fmt.Printf("\n%s suggestions:\n", result.Name)
				for _, suggestion := range result.Suggestions {
					fmt.Printf("  • %s\n", suggestion)
				}
			}
		}
	}
}
