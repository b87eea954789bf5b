package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mil-ad/kbdctl/internal/backend"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

// pickBoard resolves --board, defaulting to the first board found.
func pickBoard(th *backend.Thread, arg string) (protocol.BoardID, error) {
	boards := th.Boards()
	if arg == "" {
		if len(boards) == 0 {
			return protocol.BoardID{}, errors.New("no keyboards found")
		}
		return boards[0].ID, nil
	}
	id, err := protocol.ParseBoardID(arg)
	if err != nil {
		return protocol.BoardID{}, fmt.Errorf("invalid board id %q: %w", arg, err)
	}
	return id, nil
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List attached keyboards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			th, closeAll, err := a.openBackend()
			if err != nil {
				return err
			}
			defer closeAll()

			if _, err := th.Refresh().Wait(cmd.Context()); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return writeBoards(cmd.OutOrStdout(), th.Boards(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func writeBoards(w io.Writer, boards []backend.BoardInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(boards)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tVERSION\tMATRIX\tKEYMAP\tLED SAVE")
	for _, b := range boards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%t\n", b.ID, b.Model, b.Version, b.HasMatrix, b.HasKeymap, b.HasLedSave)
	}
	return tw.Flush()
}

func newWatchCmd(a *app) *cobra.Command {
	var rate time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print board and key matrix events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("rate") && a.settings.MatrixInterval > 0 {
				rate = a.settings.MatrixInterval
			}
			th, closeAll, err := a.openBackend(backend.WithMatrixRate(rate))
			if err != nil {
				return err
			}
			defer closeAll()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sub := th.Subscribe()
			defer sub.Close()
			if _, err := th.Refresh().Wait(ctx); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			return watch(ctx, cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().DurationVar(&rate, "rate", 100*time.Millisecond, "Matrix polling period")
	return cmd
}

func watch(ctx context.Context, w io.Writer, sub *backend.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			fmt.Fprintln(w, describe(ev))
		}
	}
}

func describe(ev backend.Event) string {
	switch e := ev.(type) {
	case backend.BoardLoading:
		return "loading boards"
	case backend.BoardLoadingDone:
		return "boards loaded"
	case backend.BoardAdded:
		return fmt.Sprintf("added %s %s (firmware %q)", e.Info.ID, e.Info.Model, e.Info.Version)
	case backend.BoardRemoved:
		return fmt.Sprintf("removed %s", e.ID)
	case backend.BoardNotUpdated:
		return "board firmware needs an update"
	case backend.MatrixChanged:
		return fmt.Sprintf("matrix %s\n%s", e.ID, formatMatrix(e.Matrix))
	case backend.BootloadedAdded:
		return fmt.Sprintf("bootloader %s (%s) attached", e.Device.Name, e.Device.Chip)
	case backend.BootloadedRemoved:
		return fmt.Sprintf("bootloader %s (%s) detached", e.Device.Name, e.Device.Chip)
	default:
		return fmt.Sprintf("%#v", ev)
	}
}

func formatMatrix(m protocol.Matrix) string {
	var b strings.Builder
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			if pressed, _ := m.Get(row, col); pressed {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func newBenchmarkCmd(a *app) *cobra.Command {
	var board string
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure read speed through each USB port of a keyboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			th, closeAll, err := a.openBackend()
			if err != nil {
				return err
			}
			defer closeAll()

			if _, err := th.Refresh().Wait(cmd.Context()); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			id, err := pickBoard(th, board)
			if err != nil {
				return err
			}
			result, err := th.Benchmark(id).Wait(cmd.Context())
			if err != nil {
				return fmt.Errorf("benchmark: %w", err)
			}

			failed := 0
			for _, port := range result.Ports() {
				r := result.PortResults[port]
				if r.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f MB/s\n", port, r.Speed)
					continue
				}
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", port, r.Err)
			}
			if failed > 0 {
				return fmt.Errorf("%d ports failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "Board id (default: first board)")
	return cmd
}

func newNelsonCmd(a *app) *cobra.Command {
	var board, kind, layoutPath string
	cmd := &cobra.Command{
		Use:   "nelson",
		Short: "Run the key continuity test on the attached fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nelsonKind, err := protocol.ParseNelsonKind(kind)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(layoutPath)
			if err != nil {
				return fmt.Errorf("read layout: %w", err)
			}
			layout, err := protocol.ParseLayout(data)
			if err != nil {
				return err
			}

			th, closeAll, err := a.openBackend()
			if err != nil {
				return err
			}
			defer closeAll()

			if _, err := th.Refresh().Wait(cmd.Context()); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			id, err := pickBoard(th, board)
			if err != nil {
				return err
			}
			result, err := runNelson(cmd.Context(), th, id, nelsonKind, a.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, section := range []struct {
				name string
				m    protocol.Matrix
			}{
				{"missing", result.Missing},
				{"bouncing", result.Bouncing},
				{"sticking", result.Sticking},
			} {
				if section.m.Any() {
					fmt.Fprintf(out, "%s:\n%s\n", section.name, formatMatrix(section.m))
				}
			}
			if !result.Success(layout) {
				return errors.New("continuity test failed")
			}
			fmt.Fprintln(out, "continuity test passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "Board id (default: first board)")
	cmd.Flags().StringVar(&kind, "kind", string(protocol.NelsonNormal), "normal or bouncing")
	cmd.Flags().StringVar(&layoutPath, "layout", "", "layout.json of the board, key names to [row, col]")
	_ = cmd.MarkFlagRequired("layout")
	return cmd
}

// runNelson keeps the board's key presses away from the OS while the
// fixture holds them down.
func runNelson(ctx context.Context, th *backend.Thread, id protocol.BoardID, kind protocol.NelsonKind, logger *log.Logger) (protocol.Nelson, error) {
	if _, err := th.SetNoInput(id, true).Wait(ctx); err != nil {
		return protocol.Nelson{}, fmt.Errorf("disable input: %w", err)
	}
	defer func() {
		if _, err := th.SetNoInput(id, false).Wait(context.Background()); err != nil {
			logger.Printf("Failed to re-enable input: %v", err)
		}
	}()

	result, err := th.Nelson(id, kind).Wait(ctx)
	if err != nil {
		return protocol.Nelson{}, fmt.Errorf("nelson: %w", err)
	}
	return result, nil
}
