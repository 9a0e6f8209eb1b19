package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"contest-rating-service/internal/config"
)

// NewFinalizeCmd finalizes one contest, or every due contest with --due.
func NewFinalizeCmd(configPath *string) *cobra.Command {
	var (
		contestID int64
		due       bool
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Freeze standings and apply rating changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contestID <= 0 && !due {
				return errors.New("either --contest or --due is required")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			rt, err := buildRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if due {
				n, err := rt.service.FinalizeDue(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "finalized %d contest(s)\n", n)
				return err
			}

			result, err := rt.service.FinalizeContest(cmd.Context(), contestID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().Int64Var(&contestID, "contest", 0, "contest id to finalize")
	cmd.Flags().BoolVar(&due, "due", false, "finalize every ended, unfinalized contest")
	return cmd
}
