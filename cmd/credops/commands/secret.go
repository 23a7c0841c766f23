package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
)

// NewSecretCommand creates the secret command group.
func NewSecretCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Work with generated secret values",
	}

	cmd.AddCommand(newSecretGenerateCommand(cfg))

	return cmd
}

func newSecretGenerateCommand(cfg *config.Config) *cobra.Command {
	var (
		kind   string
		length int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a secret using the configured password rules",
		Long: `Generate a secret the way a change run would: passwords follow the
password rules from the configuration file, ssh keys are fresh Ed25519
key pairs.

The value is written to stdout and nowhere else.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}

			secretType := model.SecretType(kind)
			switch secretType {
			case model.SecretTypePassword, model.SecretTypeSSHKey:
			default:
				return fmt.Errorf("unknown secret kind %q, use 'password' or 'ssh_key'", kind)
			}

			rules := def.PasswordRules()
			if length > 0 {
				rules.Length = length
			}

			policy, err := secretgen.New(secretgen.StrategyRandom, secretType, "", rules)
			if err != nil {
				return err
			}

			secret, err := policy.Secret()
			if err != nil {
				return fmt.Errorf("failed to generate secret: %w", err)
			}

			if secretType == model.SecretTypeSSHKey {
				public, err := secretgen.PublicKey(secret)
				if err != nil {
					return fmt.Errorf("failed to derive public key: %w", err)
				}
				fmt.Println(secret)
				fmt.Println(public)
				return nil
			}

			fmt.Println(secret)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "password", "Secret kind: password or ssh_key")
	cmd.Flags().IntVar(&length, "length", 0, "Override the configured password length")

	return cmd
}
