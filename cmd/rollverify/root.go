package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/onnwee/chatroll/fairness"
)

type rootOptions struct {
	Format string // "text" | "json"
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "rollverify",
		Short: "Verify chatroll draws",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newDrawCommand(opts))
	cmd.AddCommand(newCommitCommand(opts))
	return cmd
}

type drawOutput struct {
	ServerSeed string  `json:"serverSeed"`
	ClientSeed string  `json:"clientSeed"`
	Nonce      uint64  `json:"nonce"`
	Candidates int     `json:"candidates"`
	Hash       string  `json:"hash"`
	Roll       float64 `json:"roll"`
	Index      int     `json:"index"`
	Rank       int     `json:"rank"`
	Commitment string  `json:"commitment"`
}

func newDrawCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		serverSeed string
		clientSeed string
		nonce      uint64
		candidates int
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Recompute the winner index of a draw",
		Long: `Recompute a draw from its revealed server seed, client seed and nonce.

The index is zero-based into the ranking that was frozen when the cycle
closed; rank is the same position counted from 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverSeed == "" {
				return errors.New("--server-seed is required")
			}
			idx, err := fairness.Draw(serverSeed, clientSeed, nonce, candidates)
			if err != nil {
				return err
			}
			out := drawOutput{
				ServerSeed: serverSeed,
				ClientSeed: clientSeed,
				Nonce:      nonce,
				Candidates: candidates,
				Hash:       fairness.Hash(serverSeed, clientSeed, nonce),
				Roll:       fairness.Roll(serverSeed, clientSeed, nonce),
				Index:      idx,
				Rank:       idx + 1,
				Commitment: fairness.Commitment(serverSeed),
			}
			return render(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) {
				fmt.Fprintf(w, "hash:       %s\n", out.Hash)
				fmt.Fprintf(w, "roll:       %.10f\n", out.Roll)
				fmt.Fprintf(w, "index:      %d of %d (rank %d)\n", out.Index, out.Candidates, out.Rank)
				fmt.Fprintf(w, "commitment: %s\n", out.Commitment)
			})
		},
	}
	cmd.Flags().StringVar(&serverSeed, "server-seed", "", "revealed server seed")
	cmd.Flags().StringVar(&clientSeed, "client-seed", "", "client seed (boundary in unix milliseconds)")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "nonce used by the draw")
	cmd.Flags().IntVar(&candidates, "candidates", 0, "number of eligible participants")
	_ = cmd.MarkFlagRequired("candidates")
	return cmd
}

func newCommitCommand(rootOpts *rootOptions) *cobra.Command {
	var serverSeed string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Print the published commitment of a server seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverSeed == "" {
				return errors.New("--server-seed is required")
			}
			c := fairness.Commitment(serverSeed)
			return render(cmd.OutOrStdout(), rootOpts.Format, map[string]string{"commitment": c}, func(w io.Writer) {
				fmt.Fprintln(w, c)
			})
		},
	}
	cmd.Flags().StringVar(&serverSeed, "server-seed", "", "revealed server seed")
	return cmd
}

func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
