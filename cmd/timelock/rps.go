package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"timelock/internal/rps"
)

func newRPSCmd(a *app) *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "rps <move-a> <move-b>",
		Short: "Play a round of rock-paper-scissors with time-locked moves",
		Long: `rps commits both moves under one release event, waits until the
key-release network publishes the key, then reveals and resolves the round.
Moves are rock, paper or scissors.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var moves [2]rps.Move
			for i, arg := range args {
				m, err := rps.ParseMove(arg)
				if err != nil {
					return err
				}
				moves[i] = m
			}
			if !cmd.Flags().Changed("delay") {
				delay = a.cfg.Release.Delay
			}

			registry, cipher, err := a.authority()
			if err != nil {
				return err
			}
			game, err := rps.NewGame(registry, cipher,
				rps.WithClock(a.clock),
				rps.WithDelay(delay),
				rps.WithMargin(a.cfg.Release.Margin),
				rps.WithTickInterval(a.cfg.Release.Tick),
				rps.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a.startMetrics(ctx)
			for _, slot := range []rps.Slot{rps.PlayerA, rps.PlayerB} {
				if err := game.Submit(ctx, slot, moves[slot]); err != nil {
					game.Forfeit()
					return err
				}
			}

			status := game.Status()
			fmt.Fprintf(a.stderr, "moves committed, revealing at %s (%ds)\n",
				time.Unix(status.Release, 0).UTC().Format(time.RFC3339), status.Remaining)

			res, err := game.Play(ctx, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %s\n%s: %s\noutcome: %s\n",
				rps.PlayerA, res.Moves[rps.PlayerA],
				rps.PlayerB, res.Moves[rps.PlayerB],
				res.Outcome)
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", rps.DefaultDelay, "time between commit and reveal")
	return cmd
}
