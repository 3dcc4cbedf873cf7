package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/dsn"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:          "pg-datasource",
		Short:        "Inspect and normalize PostgreSQL data source settings",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", os.Getenv("API_URL"), "base URL of the data source service")

	root.AddCommand(newNormalizeCmd())
	root.AddCommand(newStatusCmd(&apiURL))
	root.AddCommand(newProbeCmd(&apiURL))
	return root
}

func newNormalizeCmd() *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "normalize [url]",
		Short: "Print the canonical URL and credentials for a connection string",
		Long: "Normalize a connection string the way the service does at startup.\n" +
			"Without an argument DB_URL is read from the environment. DB_USERNAME and\n" +
			"DB_PASSWORD override credentials found in the URL.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Properties().Set(config.KeyDatabaseURL, args[0])
			}

			// Only warnings reach stderr; stdout stays machine readable.
			cfg.LogLevel = "WARN"
			logger, err := config.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			normalizer := dsn.New(logger,
				dsn.WithDriver(cfg.Driver),
				dsn.WithTimeouts(cfg.ConnectTimeout, cfg.SocketTimeout))
			ds, err := datasource.Resolve(cfg.Properties(), normalizer, logger)
			if err != nil {
				return err
			}

			d := ds.Descriptor()
			if !showPassword {
				d = d.Masked()
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"url":       d.URL,
				"username":  d.Username,
				"password":  d.Password,
				"converted": ds.Converted,
			})
		},
	}
	cmd.Flags().BoolVar(&showPassword, "show-password", false, "print the password instead of masking it")
	return cmd
}

func newStatusCmd(apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show data source and last probe from a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveAPIURL(*apiURL)
			if err != nil {
				return err
			}
			data, err := makeRequest(base, http.MethodGet, "/status")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newProbeCmd(apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Trigger a connectivity probe on a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveAPIURL(*apiURL)
			if err != nil {
				return err
			}
			data, err := makeRequest(base, http.MethodPost, "/probe")
			if err != nil {
				return err
			}
			if message, ok := data["message"].(string); ok {
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func resolveAPIURL(apiURL string) (string, error) {
	if apiURL != "" {
		return apiURL, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	// Use 127.0.0.1 instead of localhost to avoid IPv6 resolution issues
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.ServicePort), nil
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func makeRequest(apiURL, method, path string) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s%s", apiURL, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to API at %s: %w", apiURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("HTTP error: %s - %s", resp.Status, string(body))
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if errMsg, ok := result["error"].(string); ok {
			return nil, fmt.Errorf("HTTP error: %s - %s", resp.Status, errMsg)
		}
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	return result, nil
}

func printJSON(w io.Writer, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}
