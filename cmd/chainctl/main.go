package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/naivechain/internal/config"
	"github.com/jmerrifield20/naivechain/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultNode = "http://localhost:3001"

var (
	nodeURL    string
	cfgFile    string
	adminToken string
	outFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainctl",
	Short: "naivechain admin CLI",
	Long: `chainctl talks to a naivechain node's admin HTTP API.

It can inspect the chain, mine blocks, and connect the node to peers.
Mutating commands need an admin token when the node has an admin secret;
obtain one with 'chainctl token' and pass it with --token or CHAINCTL_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.naivechain")
			viper.SetConfigName("chainctl")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("chainctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if nodeURL == "" {
			nodeURL = viper.GetString("node")
		}
		if nodeURL == "" {
			nodeURL = defaultNode
		}
		if adminToken == "" {
			adminToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.naivechain/chainctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "", "node admin URL (default "+defaultNode+")")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "", "admin token for mutating commands")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "output format: text or json")

	rootCmd.AddCommand(blocksCmd, blockCmd, chainCmd, verifyCmd, mineCmd, peersCmd, addPeerCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if adminToken != "" {
		opts = append(opts, client.WithBearerToken(adminToken))
	}
	return client.New(nodeURL, opts...)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBlocks(w io.Writer, blocks []client.Block) error {
	if outFormat == "json" {
		return printJSON(w, blocks)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIMESTAMP\tHASH\tDATA")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			b.Index,
			time.Unix(b.Timestamp, 0).UTC().Format(time.RFC3339),
			shortHash(b.Hash),
			b.Data,
		)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

// ── blocks / block ───────────────────────────────────────────────────────────

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "List every block in the node's chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		blocks, err := c.Blocks(ctx)
		if err != nil {
			return err
		}
		return printBlocks(cmd.OutOrStdout(), blocks)
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <index>",
	Short: "Show a single block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || idx < 0 {
			return fmt.Errorf("index must be a non-negative integer, got %q", args[0])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		b, err := c.Block(ctx, idx)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), b)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Index:         %d\n", b.Index)
		fmt.Fprintf(w, "Previous hash: %s\n", b.PreviousHash)
		fmt.Fprintf(w, "Timestamp:     %d (%s)\n", b.Timestamp, time.Unix(b.Timestamp, 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Hash:          %s\n", b.Hash)
		fmt.Fprintf(w, "Data:          %s\n", b.Data)
		return nil
	},
}

// ── chain / verify ───────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show chain length, tip and peer count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := c.Chain(ctx)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), s)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Length: %d\nTip:    #%d %s\nPeers:  %d\n",
			s.Length, s.Tip.Index, s.Tip.Hash, s.Peers)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Ask the node to re-validate its chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		v, err := c.Verify(ctx)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
		} else if v.Valid {
			fmt.Fprintf(cmd.OutOrStdout(), "chain valid (%d blocks)\n", v.Length)
		}
		if !v.Valid {
			return fmt.Errorf("chain invalid: %s", v.Error)
		}
		return nil
	},
}

// ── mine ─────────────────────────────────────────────────────────────────────

var mineCmd = &cobra.Command{
	Use:   "mine <data>",
	Short: "Create a block carrying data and broadcast it",
	Long: `mine asks the node to build a block on top of its tip. Multiple arguments
are joined with a single space.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		b, err := c.Mine(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), b)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mined block #%d %s\n", b.Index, b.Hash)
		return nil
	},
}

// ── peers / add-peer ─────────────────────────────────────────────────────────

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the node's connected peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		peers, err := c.Peers(ctx)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(cmd.OutOrStdout(), peers)
		}
		if len(peers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no peers")
			return nil
		}
		for _, p := range peers {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var addPeerCmd = &cobra.Command{
	Use:   "add-peer <ws://host:port> [ws://...] ...",
	Short: "Connect the node to one or more peers",
	Long: `add-peer asks the node to dial each address. The node only starts the
attempts; run 'chainctl peers' afterwards to see which ones connected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, addr := range args {
			if err := config.ValidatePeerAddress(addr); err != nil {
				return err
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for _, addr := range args {
			g.Go(func() error {
				if err := c.AddPeer(gctx, addr); err != nil {
					return fmt.Errorf("add peer %s: %w", addr, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "connecting to %s\n", addr)
				return nil
			})
		}
		return g.Wait()
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenSecret string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the node's admin secret for an admin token",
	Long: `token prints an admin token for use with --token. The secret is read from
--secret or the CHAINCTL_SECRET environment variable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("secret")
		}
		if secret == "" {
			return fmt.Errorf("admin secret required (--secret or CHAINCTL_SECRET)")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		tok, err := c.Token(ctx, secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "node admin secret")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chainctl %s\n", version)
	},
}
