package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type lockFlag struct {
	TaskInstanceID int    `json:"task_instance_id"`
	Machine        string `json:"machine"`
	StartMin       int    `json:"start_min"`
}

func newSubmitCommand() *cobra.Command {
	var locksFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new scheduling run",
		Long: `Submit a new scheduling run against the currently loaded packages.

Without --locks, this calls POST /api/solver/start. With --locks pointing at
a JSON file of lock entries, it calls POST /api/solver/start_with_locks
instead.`,
		Example: `  # Submit an unconstrained run
  fjsmctl submit

  # Submit with pinned instances
  fjsmctl submit --locks locks.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var resp struct {
				RunID string `json:"run_id"`
				DB    string `json:"db"`
			}

			if locksFile == "" {
				log.Info().Msg("submitting run")
				if err := client.do(cmd.Context(), "POST", "/api/solver/start", nil, &resp); err != nil {
					return err
				}
			} else {
				raw, err := os.ReadFile(locksFile)
				if err != nil {
					return fmt.Errorf("reading locks file: %w", err)
				}
				var locks []lockFlag
				if err := json.Unmarshal(raw, &locks); err != nil {
					return fmt.Errorf("parsing locks file: %w", err)
				}
				log.Info().Int("locks", len(locks)).Msg("submitting run with locks")
				body := map[string]interface{}{"locks": locks}
				if err := client.do(cmd.Context(), "POST", "/api/solver/start_with_locks", body, &resp); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(resp)
			}
			fmt.Printf("run_id: %s (db: %s)\n", resp.RunID, resp.DB)
			return nil
		},
	}

	cmd.Flags().StringVar(&locksFile, "locks", "", "JSON file of lock entries to pin instances before solving")

	return cmd
}
