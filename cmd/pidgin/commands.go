package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pidgin/internal/config"
	"pidgin/internal/daemon"
	"pidgin/internal/experiment"
	"pidgin/internal/replay"
	"pidgin/internal/store"
)

type runtimeLoader func() config.Config

// importHook adapts the store importer to the scheduler's post-run trigger.
func importHook(ctx context.Context, dir string) error {
	_, err := store.ImportExperiment(ctx, dir)
	return err
}

func newRunCmd(loadRuntime runtimeLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <spec.yaml>",
		Short: "run an experiment in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			exp, err := config.LoadExperimentConfig(args[0])
			if err != nil {
				return err
			}
			sched := experiment.NewScheduler(rc, exp, importHook)

			// Keyboard interrupt in the foreground equals a stop signal.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case <-sigs:
					sched.Interrupt("keyboard")
					cancel()
				case <-ctx.Done():
				}
			}()

			m, err := sched.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "experiment %s: %s (%d completed, %d failed of %d)\n",
				m.ExperimentID, m.Status, m.CompletedConversations, m.FailedConversations, m.TotalConversations)
			return nil
		},
	}
	return cmd
}

func newDaemonCmd(loadRuntime runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon <spec.yaml>",
		Short: "run an experiment detached from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			if !daemon.InChild() {
				pid, err := daemon.Detach(filepath.Join(rc.OutputDir, "experiments"))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "daemon started (pid %d)\n", pid)
				return nil
			}

			exp, err := config.LoadExperimentConfig(args[0])
			if err != nil {
				// Configuration errors are the one case where the daemon
				// exits non-zero.
				return err
			}
			d := &daemon.Daemon{
				OutputDir: rc.OutputDir,
				Scheduler: experiment.NewScheduler(rc, exp, importHook),
				LogLevel:  rc.LogLevel,
			}
			if _, err := d.Run(cmd.Context()); err != nil {
				return err
			}
			return nil
		},
	}
}

func newStopCmd(loadRuntime runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <experiment-id|name>",
		Short: "request graceful shutdown of a running experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			return daemon.Stop(rc.OutputDir, args[0])
		},
	}
}

func newStatusCmd(loadRuntime runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status [experiment-id|name]",
		Short: "show experiment progress from manifests and event logs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listExperiments(out, rc.OutputDir)
			}
			dir, err := experiment.FindExperimentDir(rc.OutputDir, args[0])
			if err != nil {
				return err
			}
			return showExperiment(out, dir)
		},
	}
}

func listExperiments(w io.Writer, base string) error {
	root := filepath.Join(base, "experiments")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "no experiments")
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "active" {
			continue
		}
		m, err := experiment.ReadManifest(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s  %-12s  %-24s  %d/%d completed, %d failed\n",
			m.ExperimentID, m.Status, m.Name,
			m.CompletedConversations, m.TotalConversations, m.FailedConversations)
	}
	return nil
}

func showExperiment(w io.Writer, dir string) error {
	m, err := experiment.ReadManifest(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "experiment %s (%s): %s\n", m.ExperimentID, m.Name, m.Status)
	fmt.Fprintf(w, "conversations: %d total, %d completed, %d failed\n",
		m.TotalConversations, m.CompletedConversations, m.FailedConversations)

	logs, err := filepath.Glob(filepath.Join(dir, "*_events.jsonl"))
	if err != nil {
		return err
	}
	for _, path := range logs {
		state, err := replay.StateBuilder{}.Build(path)
		if err != nil {
			fmt.Fprintf(w, "  %s: unreadable (%v)\n", filepath.Base(path), err)
			continue
		}
		fmt.Fprintf(w, "  %s: %s turn %d/%d convergence %.3f\n",
			state.ID, state.Status, state.CurrentTurn, state.MaxTurns, state.LastConvergence)
	}
	return nil
}

func newBranchCmd(loadRuntime runtimeLoader) *cobra.Command {
	var (
		turn        int
		agentAModel string
		agentBModel string
		name        string
		repetitions int
	)
	cmd := &cobra.Command{
		Use:   "branch <conversation-id>",
		Short: "start a new conversation seeded from a prefix of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			srcPath, err := experiment.FindConversationLog(rc.OutputDir, args[0])
			if err != nil {
				return err
			}
			state, err := replay.StateBuilder{StopAtTurn: turn}.Build(srcPath)
			if err != nil {
				return err
			}

			exp := &config.ExperimentConfig{
				Name:           name,
				AgentAModel:    state.AgentA.Model,
				AgentBModel:    state.AgentB.Model,
				Repetitions:    repetitions,
				InitialPrompt:  conversationPrompt(state),
				BranchFrom:     args[0],
				BranchFromTurn: turn,
			}
			if exp.Name == "" {
				exp.Name = "branch-" + args[0]
			}
			if agentAModel != "" {
				exp.AgentAModel = agentAModel
			}
			if agentBModel != "" {
				exp.AgentBModel = agentBModel
			}
			maxTurns := state.MaxTurns
			exp.MaxTurns = &maxTurns
			if err := exp.Validate(); err != nil {
				return err
			}

			m, err := experiment.NewScheduler(rc, exp, importHook).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "branched experiment %s: %s\n", m.ExperimentID, m.Status)
			return nil
		},
	}
	cmd.Flags().IntVar(&turn, "turn", 1, "number of turns to seed from the source conversation")
	cmd.Flags().StringVar(&agentAModel, "agent-a-model", "", "override agent A's model")
	cmd.Flags().StringVar(&agentBModel, "agent-b-model", "", "override agent B's model")
	cmd.Flags().StringVar(&name, "name", "", "experiment name")
	cmd.Flags().IntVar(&repetitions, "repetitions", 1, "number of branched conversations")
	return cmd
}

// conversationPrompt recovers the human prompt from a replayed state.
func conversationPrompt(state *replay.ConversationState) string {
	for _, m := range state.Messages {
		if m.AgentID == "human" {
			return m.Content
		}
	}
	return ""
}

func newImportCmd(loadRuntime runtimeLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "import <experiment-id|name>",
		Short: "load an experiment's event logs into its relational store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := loadRuntime()
			dir, err := experiment.FindExperimentDir(rc.OutputDir, args[0])
			if err != nil {
				return err
			}
			res, err := store.ImportExperiment(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d conversations (%d events) in %s\n",
				res.Conversations, res.Events, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
