// Package main provides the terminal entrypoint for speakdrill.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"speakdrill/internal/bootstrap"
	"speakdrill/internal/domain"
	"speakdrill/internal/ports"
	"speakdrill/internal/tui"
)

// buildServices is swapped in tests.
var buildServices = bootstrap.Build

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "speakdrill",
		Short:        "Spoken-answer practice with transcription and feedback",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newTopicsCmd())
	rootCmd.AddCommand(newPracticeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newWhoamiCmd())

	return rootCmd
}

func newTopicsCmd() *cobra.Command {
	topicsCmd := &cobra.Command{
		Use:   "topics",
		Short: "List practice topics",
		Args:  cobra.NoArgs,
		RunE:  runTopicsList,
	}

	topicsCmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Create a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTopicsAdd,
	})
	topicsCmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a topic",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runTopicsRename,
	})
	topicsCmd.AddCommand(&cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a topic and its sessions",
		Args:    cobra.ExactArgs(1),
		RunE:    runTopicsRemove,
	})
	topicsCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a topic and its sessions",
		Args:  cobra.ExactArgs(1),
		RunE:  runTopicsShow,
	})

	return topicsCmd
}

func newPracticeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "practice <topic-id>",
		Short: "Record an answer for a topic",
		Args:  cobra.ExactArgs(1),
		RunE:  runPractice,
	}
}

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push sessions that were saved on this device only",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	syncCmd.Flags().Bool("dry-run", false, "list pending sessions without pushing them")
	return syncCmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func withServices(events ports.EventSink, fn func(services bootstrap.Services) error) error {
	if events == nil {
		events = discardEvents{}
	}
	services, err := buildServices(events)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if cerr := services.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "failed to close services: %v\n", cerr)
		}
	}()
	return fn(services)
}

func withTopics(ctx context.Context, fn func(services bootstrap.Services) error) error {
	return withServices(nil, func(services bootstrap.Services) error {
		if err := services.Store.LoadTopics(ctx); err != nil {
			return err
		}
		return fn(services)
	})
}

func runTopicsList(cmd *cobra.Command, _ []string) error {
	return withTopics(cmd.Context(), func(services bootstrap.Services) error {
		topics := services.Store.Topics()
		if len(topics) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No topics yet. Create one with: speakdrill topics add <title>")
			return err
		}
		return writeTopics(cmd.OutOrStdout(), topics)
	})
}

func runTopicsAdd(cmd *cobra.Command, args []string) error {
	title := strings.Join(args, " ")
	return withServices(nil, func(services bootstrap.Services) error {
		topic, err := services.Store.AddTopic(cmd.Context(), title)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", topic.ID, topic.Title)
		return err
	})
}

func runTopicsRename(cmd *cobra.Command, args []string) error {
	id, title := args[0], strings.Join(args[1:], " ")
	return withTopics(cmd.Context(), func(services bootstrap.Services) error {
		if _, ok := services.Store.TopicByID(id); !ok {
			return fmt.Errorf("topic %q not found", id)
		}
		if err := services.Store.UpdateTopicTitle(cmd.Context(), id, title); err != nil {
			return err
		}
		topic, _ := services.Store.TopicByID(id)
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", topic.ID, topic.Title)
		return err
	})
}

func runTopicsRemove(cmd *cobra.Command, args []string) error {
	return withServices(nil, func(services bootstrap.Services) error {
		return services.Store.DeleteTopic(cmd.Context(), args[0])
	})
}

func runTopicsShow(cmd *cobra.Command, args []string) error {
	return withTopics(cmd.Context(), func(services bootstrap.Services) error {
		topic, ok := services.Store.TopicByID(args[0])
		if !ok {
			return fmt.Errorf("topic %q not found", args[0])
		}
		return writeTopic(cmd.OutOrStdout(), topic)
	})
}

func runPractice(cmd *cobra.Command, args []string) error {
	events := &tui.Events{}
	return withServices(events, func(services bootstrap.Services) error {
		ctx := cmd.Context()
		if err := services.Store.LoadTopics(ctx); err != nil {
			return err
		}
		topic, ok := services.Store.TopicByID(args[0])
		if !ok {
			return fmt.Errorf("topic %q not found", args[0])
		}

		model := tui.NewModel(ctx, topic, services.Controller)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		events.Attach(program.Send)
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		return nil
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	return withServices(nil, func(services bootstrap.Services) error {
		ctx := cmd.Context()
		pending, err := services.Store.PendingSessions(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sync.")
			return err
		}
		if dryRun {
			return writePending(cmd.OutOrStdout(), pending)
		}

		// Sessions attach to topics already in the store.
		if err := services.Store.LoadTopics(ctx); err != nil {
			return err
		}
		synced, syncErr := services.Store.SyncPending(ctx)
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Synced %d of %d sessions.\n", synced, len(pending)); err != nil {
			return err
		}
		return syncErr
	})
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	return withServices(nil, func(services bootstrap.Services) error {
		current, ok := services.Auth.Current()
		if !ok {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Set SPEAKDRILL_TOKEN to sign in.")
			return err
		}
		line := current.UserID
		if !current.ExpiresAt.IsZero() {
			line += "\texpires " + current.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
		return err
	})
}

type discardEvents struct{}

func (discardEvents) RecordingStateChanged(domain.RecordingStatus, domain.RecordingReason) {}
func (discardEvents) RecordingError(domain.ErrorCause, string)                             {}
