// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOPE/services/ope/bandits"
)

func newCATSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cats",
		Short: "Continuous-action helpers",
	}

	var (
		numActions         int
		minValue, maxValue float64
		bandwidth          float64
		action             float64
	)
	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Print the discretisation and the constant baseline action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := bandits.NewCATS(numActions, minValue, maxValue, bandwidth)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unit_range: %g\n", c.UnitRange())
			fmt.Fprintf(out, "bandwidth: %g\n", c.Bandwidth())
			fmt.Fprintf(out, "baseline_action: %g\n", c.Baseline1Prediction())
			if cmd.Flags().Changed("action") {
				bin := c.Bin(action)
				fmt.Fprintf(out, "action_bin: %d\n", bin)
				fmt.Fprintf(out, "action_bin_center: %g\n", c.BinCenter(bin))
			}
			return nil
		},
	}
	fl := baseline.Flags()
	fl.IntVar(&numActions, "num-actions", 8, "Number of unit ranges")
	fl.Float64Var(&minValue, "min", 0, "Smallest action value")
	fl.Float64Var(&maxValue, "max", 32, "Largest action value")
	fl.Float64Var(&bandwidth, "bandwidth", 1, "Kernel half-width")
	fl.Float64Var(&action, "action", 0, "Also report the unit range containing this action")

	cmd.AddCommand(baseline)
	return cmd
}
