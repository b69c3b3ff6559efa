// syncctl is the operator CLI. Every command is a thin call to the API
// service's trigger or admin endpoints, so it works against any environment
// the operator can reach over HTTP.
package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiAddr      string
	adminKey     string
	schedulerKey string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operator control for the brand sync queues.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", envOr("SYNC_API_ADDR", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", os.Getenv("SYNC_ADMIN_KEY"), "operator key for /admin endpoints")
	rootCmd.PersistentFlags().StringVar(&schedulerKey, "scheduler-key", os.Getenv("SYNC_SCHEDULER_KEY"), "scheduler key for trigger endpoints")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(triggerCmd, ordersCmd, pauseCmd, resumeCmd, removeJobCmd, stopAllCmd, flushCmd, exportCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger the daily sync for every brand",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(http.MethodPost, "/trigger-daily-sync", nil, "X-Scheduler-Key", schedulerKey)
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders [brand]",
	Short: "Enqueue an immediate sync for one brand",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if len(args) == 1 {
			q.Set("brand", args[0])
		}
		return call(http.MethodGet, "/orders", q, "X-Scheduler-Key", schedulerKey)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause all brand queues",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return admin("/admin/pause-queue", nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume all brand queues",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return admin("/admin/resume-queue", nil)
	},
}

var removeJobCmd = &cobra.Command{
	Use:   "remove-job <jobId>",
	Short: "Remove a single queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("jobId", args[0])
		if brand, _ := cmd.Flags().GetString("brand"); brand != "" {
			q.Set("brand", brand)
		}
		return admin("/admin/remove-job", q)
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Pause and drain every queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return admin("/admin/stop-all-jobs", nil)
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Wipe the queue storage entirely",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return admin("/admin/flush-redis", nil)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the sync run report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		if date, _ := cmd.Flags().GetString("date"); date != "" {
			q.Set("date", date)
		}
		return admin("/admin/export-report", q)
	},
}

func init() {
	removeJobCmd.Flags().String("brand", "", "brand key (defaults to the server's default brand)")
	exportCmd.Flags().String("date", "", "report start date, YYYY-MM-DD (default last 7 days)")
}

func admin(path string, query url.Values) error {
	return call(http.MethodGet, path, query, "X-Admin-Key", adminKey)
}

func call(method, path string, query url.Values, header, key string) error {
	u := apiAddr + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	if key != "" {
		req.Header.Set(header, key)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
