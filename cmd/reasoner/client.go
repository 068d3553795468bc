package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dyad-reasoner/pkg/reasonclient"
	"dyad-reasoner/pkg/types"
)

// clientFlags override the REASONER_* environment for the client commands.
type clientFlags struct {
	baseURL string
	token   string
	timeout time.Duration
	verbose bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseURL, "url", "", "reasoner base URL (env REASONER_BASE_URL)")
	cmd.Flags().StringVar(&f.token, "token", "", "service token (env REASONER_TOKEN)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-attempt timeout (env REASONER_CLIENT_TIMEOUT, seconds)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log client retries and breaker transitions")
}

func (f *clientFlags) client() (*reasonclient.Client, error) {
	cfg := reasonclient.ConfigFromEnv()
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.timeout > 0 {
		cfg.Timeout = f.timeout
	}
	logger := zap.NewNop()
	if f.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = l
	}
	return reasonclient.New(cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sampleRequest is used by probe and bench when no request is given.
func sampleRequest(dyad types.Dyad) *types.ReasoningRequest {
	req := &types.ReasoningRequest{Dyad: dyad}
	switch dyad {
	case types.DyadTantrum:
		req.Features = types.Features{"vad_fraction": 0.62, "peak_db": 78}
		req.Metrics = types.Metrics{"escalation_index": 1.8}
	case types.DyadMeal:
		req.Features = types.Features{"bites": 14, "refusals": 5}
		req.Metrics = types.Metrics{"meal_minutes": 32}
	default:
		req.Features = types.Features{"wake_count": 3, "screen_minutes_before_bed": 45}
		req.Metrics = types.Metrics{"sleep_minutes": 410}
	}
	return req
}

// loadRequest reads a request from path ("-" for stdin), or builds the
// sample request for dyad.
func loadRequest(path, dyad string) (*types.ReasoningRequest, error) {
	if path == "" {
		d, err := types.ParseDyad(dyad)
		if err != nil {
			return nil, err
		}
		return sampleRequest(d), nil
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var req types.ReasoningRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", path, err)
	}
	return &req, nil
}

func newProbeCmd() *cobra.Command {
	var (
		flags       clientFlags
		dyad        string
		requestPath string
		model       string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one reasoning request through the retrying client",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			req, err := loadRequest(requestPath, dyad)
			if err != nil {
				return err
			}
			if model != "" {
				req.Model = model
			}

			resp, err := client.Reason(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&dyad, "dyad", "night", "dyad for the built-in sample request")
	cmd.Flags().StringVarP(&requestPath, "file", "f", "", "JSON request file, - for stdin")
	cmd.Flags().StringVar(&model, "model", "", "explicit model, skipping resolution")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show model policy, last resolution and cache stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, &flags, func(ctx context.Context, c *reasonclient.Client) (any, error) {
				return c.Status(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newModelsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, &flags, func(ctx context.Context, c *reasonclient.Client) (any, error) {
				return c.Models(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	var statsFlags clientFlags
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, &statsFlags, func(ctx context.Context, c *reasonclient.Client) (any, error) {
				return c.CacheStats(ctx)
			})
		},
	}
	statsFlags.register(statsCmd)

	var clearFlags clientFlags
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, &clearFlags, func(ctx context.Context, c *reasonclient.Client) (any, error) {
				return c.CacheClear(ctx)
			})
		},
	}
	clearFlags.register(clearCmd)

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func runClient(cmd *cobra.Command, flags *clientFlags, call func(context.Context, *reasonclient.Client) (any, error)) error {
	client, err := flags.client()
	if err != nil {
		return err
	}
	out, err := call(cmd.Context(), client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
