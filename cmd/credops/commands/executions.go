package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/store"
)

// NewExecutionsCommand creates the executions command group.
func NewExecutionsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect automation execution history",
	}

	cmd.AddCommand(newExecutionsListCommand(cfg))

	return cmd
}

func newExecutionsListCommand(cfg *config.Config) *cobra.Command {
	var (
		typ   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions of one automation type",
		RunE: func(cmd *cobra.Command, args []string) error {
			automationType := model.AutomationType(typ)
			switch automationType {
			case model.AutomationChangeSecret, model.AutomationPush,
				model.AutomationVerify, model.AutomationRemove, model.AutomationGather:
			default:
				return fmt.Errorf("unknown automation type %q", typ)
			}

			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}

			db, err := openDatabase(def)
			if err != nil {
				return err
			}

			execs, err := store.NewExecutionStore(db).Recent(cmd.Context(), automationType, limit)
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			if len(execs) == 0 {
				cfg.Logger.Info("No %s executions recorded", automationType)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tSTATUS\tSTARTED\tFINISHED\tSUMMARY\n")
			_, _ = fmt.Fprintf(w, "--\t------\t-------\t--------\t-------\n")
			for _, exec := range execs {
				finished := "-"
				if exec.DateFinished != nil {
					finished = exec.DateFinished.Format("2006-01-02 15:04:05")
				}
				summary := exec.Summary
				if summary == "" {
					summary = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					exec.ID, statusGlyph(exec.Status),
					exec.DateStart.Format("2006-01-02 15:04:05"), finished, summary)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&typ, "type", string(model.AutomationChangeSecret),
		"Automation type: change_secret, push, verify, remove or gather")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of executions to show")

	return cmd
}

func statusGlyph(status model.ExecutionStatus) string {
	switch status {
	case model.ExecutionStatusSuccess:
		return "✓ " + string(status)
	case model.ExecutionStatusFailed:
		return "✗ " + string(status)
	default:
		return string(status)
	}
}
