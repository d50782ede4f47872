package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tissueworks/bioflux/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List stored runs and their phase states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(ctx)
			if err != nil {
				return err
			}

			type runStatus struct {
				store.RunRecord
				Phases []store.PhaseRecord `json:"phases"`
			}
			out := make([]runStatus, 0, len(runs))
			for _, r := range runs {
				phases, err := s.Phases(ctx, r.ID)
				if err != nil {
					return err
				}
				out = append(out, runStatus{RunRecord: r, Phases: phases})
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			if len(out) == 0 {
				fmt.Println("No runs stored.")
				return nil
			}
			for _, r := range out {
				fmt.Printf("Run %d  %.12s  created %s\n", r.ID, r.Fingerprint, r.CreatedAt)
				if len(r.Phases) == 0 {
					fmt.Println("  (no phases run)")
					continue
				}
				for _, p := range r.Phases {
					fmt.Printf("  %-4s  %-10s  step %-6d  t=%.4g s  saved %s\n",
						p.Phase, p.Status, p.Step, p.SimTime, p.SavedAt)
				}
			}
			return nil
		},
	}
}
