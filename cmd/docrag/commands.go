package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/domain"
	"docrag/internal/retriever"
	"docrag/internal/service"
	"docrag/internal/tui"
)

// withApp opens the components for one command and closes them afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	return errors.Join(runErr, a.Close())
}

func buildIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Add PDF or text files to the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				reports, err := a.svc.IngestFiles(ctx, args)
				printReports(cmd.OutOrStdout(), reports)
				return err
			})
		},
	}
}

func printReports(w io.Writer, reports []service.IngestReport) {
	for _, r := range reports {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "%s: error: %v\n", r.Source, r.Err)
		case r.Skipped:
			fmt.Fprintf(w, "%s: skipped\n", r.Source)
		default:
			fmt.Fprintf(w, "%s: %d chunks\n", r.Source, r.Chunks)
			if r.Summary != "" {
				fmt.Fprintf(w, "  %s\n", r.Summary)
			}
		}
	}
}

func buildAskCmd(opts *rootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				history, err := a.chatLog()
				if err != nil {
					return err
				}
				answer, err := a.svc.Query(ctx, question, source)
				if err != nil {
					return err
				}
				if _, err := history.Append(ctx, domain.RoleUser, question); err != nil {
					return err
				}
				if _, err := history.Append(ctx, domain.RoleAssistant, answer.Text); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, answer.Text)
				if len(answer.Sources) > 0 {
					fmt.Fprintf(out, "\nSources: %s\n", strings.Join(answer.Sources, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", retriever.AllDocuments, "Restrict retrieval to one document")
	return cmd
}

func buildCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of indexed chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.svc.DocumentCount(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func buildSourcesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sources, err := a.svc.DistinctSources(ctx)
				if err != nil {
					return err
				}
				for _, s := range sources {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
}

func buildForgetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget SOURCE",
		Short: "Remove one document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.svc.DeleteSource(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunks of %s\n", n, args[0])
				return nil
			})
		},
	}
}

func buildResetCmd(opts *rootOptions) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every document from the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.svc.ResetAll(ctx); err != nil {
					return err
				}
				if history {
					store, err := a.chatLog()
					if err != nil {
						return err
					}
					if err := store.Clear(ctx); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "index reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Also clear the chat history")
	return cmd
}

func buildHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the chat history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				store, err := a.chatLog()
				if err != nil {
					return err
				}
				msgs, err := store.List(ctx)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.Timestamp.Format(time.DateTime), m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func buildChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [FILE...]",
		Short: "Open the interactive chat, optionally ingesting files first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var summary string
				if len(args) > 0 {
					reports, err := a.svc.IngestFiles(ctx, args)
					if err != nil {
						return err
					}
					summary = ingestSummary(reports)
				}
				history, err := a.chatLog()
				if err != nil {
					return err
				}
				m := tui.New(ctx, a.svc, history, summary)
				_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}

func ingestSummary(reports []service.IngestReport) string {
	var files, chunks, failed int
	for _, r := range reports {
		switch {
		case r.Err != nil:
			failed++
		case r.Chunks > 0:
			files++
			chunks += r.Chunks
		}
	}
	s := fmt.Sprintf("Indexed %d files (%d chunks).", files, chunks)
	if failed > 0 {
		s += fmt.Sprintf(" %d failed.", failed)
	}
	return s
}
