package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/af-corp/relay-router/internal/router"
	"github.com/af-corp/relay-router/internal/store"
	"github.com/spf13/cobra"
)

var (
	addr   string
	apiKey string
)

func main() {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operator CLI for the relay router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&addr, "addr", envOrDefault("RELAY_ADDR", "http://localhost:8080"), "router base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("RELAY_API_KEY"), "API key (or set RELAY_API_KEY)")

	root.AddCommand(statusCmd(), usageCmd(), modelsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend health and rate-window state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Backends []struct {
					ID        string                `json:"id"`
					Category  string                `json:"category"`
					Ranking   int                   `json:"ranking"`
					Priority  int                   `json:"priority"`
					Health    router.HealthStatus   `json:"health"`
					RateLimit router.RateLimitState `json:"rate_limit"`
					Usage     router.UsageStats     `json:"usage"`
				} `json:"backends"`
			}
			if err := get("/v1/backends/status", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tCATEGORY\tSTATE\tFAILS\tREQUESTS\tTOKENS\tRECENT")
			for _, b := range resp.Backends {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					b.ID, b.Category, b.Health.State, b.Health.ConsecutiveFailures,
					b.RateLimit.Requests, b.RateLimit.Tokens, b.Usage.Count)
			}
			return w.Flush()
		},
	}
}

func usageCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-backend usage, in-memory and persisted",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/usage"
			if since != "" {
				path += "?since=" + since
			}
			var resp struct {
				Window    map[string]router.UsageStats `json:"window"`
				Persisted []store.UsageSummary         `json:"persisted"`
				Since     string                       `json:"since"`
			}
			if err := get(path, &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if len(resp.Persisted) > 0 {
				fmt.Fprintf(w, "persisted since %s\n", resp.Since)
				fmt.Fprintln(w, "BACKEND\tREQUESTS\tTOKENS\tCOST_USD")
				for _, s := range resp.Persisted {
					fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\n", s.Backend, s.Requests, s.TotalTokens, s.CostUSD)
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, "BACKEND\tRECENT\tDECAYED")
			for id, s := range resp.Window {
				fmt.Fprintf(w, "%s\t%d\t%.2f\n", id, s.Count, s.Decayed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "persisted summary window, e.g. 24h, 30m")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available to this key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Data []struct {
					ID      string `json:"id"`
					OwnedBy string `json:"owned_by"`
				} `json:"data"`
			}
			if err := get("/v1/models", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER")
			for _, m := range resp.Data {
				fmt.Fprintf(w, "%s\t%s\n", m.ID, m.OwnedBy)
			}
			return w.Flush()
		},
	}
}

func get(path string, dest interface{}) error {
	req, err := http.NewRequest(http.MethodGet, addr+path, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
