// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/lorastat/pkg/eventqueue"
	"github.com/Thermoquad/lorastat/pkg/region"
	"github.com/Thermoquad/lorastat/pkg/session"
	"github.com/Thermoquad/lorastat/pkg/simengine"
	"github.com/Thermoquad/lorastat/pkg/sink"
)

var (
	simDuration        time.Duration
	simDisconnectAfter time.Duration
	simSeed            string
	simQuiet           bool
	simJoinSuccess     float64
	simDownlink        float64
	simDutyCycle       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the device session against a simulated network",
	Long: `Run the same session controller as the run command, against a simulated
LoRaWAN engine on a virtual clock. An hour of traffic takes milliseconds.

The simulated network joins after a few attempts, loses a small share of
uplinks, sends occasional downlinks and enforces the regional duty cycle.
Outcomes are drawn from a random stream named by --seed, so the same seed
always gives the same run.

Reports carry virtual timestamps starting at the current time.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	m := simengine.DefaultModel()
	simulateCmd.Flags().DurationVar(&simDuration, "duration", time.Hour, "Virtual time to simulate")
	simulateCmd.Flags().DurationVar(&simDisconnectAfter, "disconnect-after", 0, "Deliver DISCONNECTED at this virtual time (0 never)")
	simulateCmd.Flags().StringVar(&simSeed, "seed", "lorastat", "Name of the random stream")
	simulateCmd.Flags().BoolVarP(&simQuiet, "quiet", "q", false, "Only print the statistics summary")
	simulateCmd.Flags().Float64Var(&simJoinSuccess, "join-success", m.JoinSuccess, "Probability that a join attempt succeeds")
	simulateCmd.Flags().Float64Var(&simDownlink, "downlink", m.Downlink, "Probability of a downlink after TX_DONE")
	simulateCmd.Flags().Float64Var(&simDutyCycle, "sim-duty-cycle", m.DutyCycle, "Duty cycle the simulated network enforces (0 disables)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	plan, err := region.Lookup(cfg.Session.Region)
	if err != nil {
		return err
	}

	model := simengine.DefaultModel()
	model.JoinSuccess = simJoinSuccess
	model.Downlink = simDownlink
	model.DutyCycle = simDutyCycle

	start := time.Now()
	sim := eventqueue.NewSim(simDuration)
	clock := func() time.Time { return start.Add(sim.Now()) }
	engine := simengine.New(simSeed, plan, sim.Now, model,
		simengine.WithLogger(logger.With().Str("component", "simengine").Logger()))

	var out io.Writer = os.Stdout
	if simQuiet {
		out = io.Discard
	}
	stats := session.NewStatistics(start)
	reps := session.MultiReporter{stats, session.NewTextReporter(out)}

	id := uuid.NewString()
	if cfg.Sink.Enabled() {
		s, err := sink.Open(cfg.Sink, "lorastat-sim-"+id[:8], logger)
		if err != nil {
			return err
		}
		defer s.Close()
		reps = append(reps, s)
	}

	ctl, err := session.NewController(cfg.Session, engine, sim,
		session.WithReporter(reps),
		session.WithLogger(logger),
		session.WithClock(clock),
		session.WithSessionID(id),
	)
	if err != nil {
		return err
	}

	if simDisconnectAfter > 0 {
		sim.CallIn(simDisconnectAfter, engine.Disconnect)
	}

	if !simQuiet {
		fmt.Printf("Lorastat - Simulation\n")
		fmt.Printf("Session: %s | Seed: %s\n", ctl.ID(), simSeed)
		fmt.Printf("Region: %s | Port: %d | Mode: %s\n", plan.Name(), cfg.Session.AppPort, cfg.Session.Mode())
		fmt.Printf("Duration: %v\n\n", simDuration)
	}

	if err := ctl.Run(context.Background()); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Final state: %s after %v\n", ctl.State(), sim.Now())
	fmt.Print(stats.String())
	return nil
}
