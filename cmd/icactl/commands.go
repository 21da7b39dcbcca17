package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/config"
)

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <kind> <target>",
	Short: "Enqueue a job",
	Long: `Enqueue a job.

Kinds:
  monitor        fetch a target account's reels and snapshot their metrics
  fetch_metrics  analyze snapshots and pick the trending reel
  post           deliver the recommended reel to the configured channel

Examples:
  icactl jobs add monitor natgeo --every 1h
  icactl jobs add fetch_metrics natgeo --every 6h --skip-if-missed
  icactl jobs add post natgeo`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, target := args[0], args[1]
		every, _ := cmd.Flags().GetDuration("every")
		skipIfMissed, _ := cmd.Flags().GetBool("skip-if-missed")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		runAt, _ := cmd.Flags().GetString("run-at")

		req := map[string]any{
			"kind":   kind,
			"target": target,
		}
		if every > 0 {
			req["interval_secs"] = int(every.Seconds())
		}
		if skipIfMissed {
			req["skip_if_missed"] = true
		}
		if maxAttempts > 0 {
			req["max_attempts"] = maxAttempts
		}
		if runAt != "" {
			req["run_at"] = runAt
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/jobs", req)
		if err != nil {
			return err
		}
		var job struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Enqueued %s job %s (%s)", kind, job.ID, job.State)
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/jobs?limit=%d", limit)
		if state != "" {
			path += "&state=" + state
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var jobs []struct {
			ID             string `json:"id"`
			Kind           string `json:"kind"`
			Target         string `json:"target"`
			State          string `json:"state"`
			AttemptCount   int    `json:"attempt_count"`
			MaxAttempts    int    `json:"max_attempts"`
			NextEligibleAt string `json:"next_eligible_at"`
			LastError      string `json:"last_error"`
		}
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		for _, j := range jobs {
			line := fmt.Sprintf("%s  %-13s %-20s %-10s attempts %d/%d",
				j.ID, j.Kind, j.Target, j.State, j.AttemptCount, j.MaxAttempts)
			if j.NextEligibleAt != "" {
				line += "  next " + j.NextEligibleAt
			}
			fmt.Println(line)
			if j.LastError != "" {
				fmt.Printf("    last error: %s\n", j.LastError)
			}
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and its run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		for _, k := range []string{"id", "kind", "target", "state", "attempt_count", "max_attempts", "next_eligible_at", "last_error", "created_at", "updated_at"} {
			if v, ok := job[k]; ok && v != "" {
				fmt.Printf("  %s = %v\n", colorize(colorBold, k), v)
			}
		}

		runsResp, err := client.get(cmd.Context(), "/jobs/"+args[0]+"/runs")
		if err != nil {
			return err
		}
		var runs []struct {
			AttemptNumber int    `json:"attempt_number"`
			StartedAt     string `json:"started_at"`
			Outcome       string `json:"outcome"`
			ErrorDetail   string `json:"error_detail"`
		}
		if err := decodeJSON(runsResp, &runs); err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("  runs:")
			for _, run := range runs {
				line := fmt.Sprintf("    #%d %s %s", run.AttemptNumber, run.StartedAt, run.Outcome)
				if run.ErrorDetail != "" {
					line += ": " + run.ErrorDetail
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Cancelled job %s", args[0])
		return nil
	},
}

func init() {
	jobsAddCmd.Flags().Duration("every", 0, "make the job recurring with this interval")
	jobsAddCmd.Flags().Bool("skip-if-missed", false, "skip a recurring run missed by more than one interval")
	jobsAddCmd.Flags().Int("max-attempts", 0, "attempt budget (default from server config)")
	jobsAddCmd.Flags().String("run-at", "", "first eligible time, RFC3339 (default now)")
	jobsListCmd.Flags().String("state", "", "filter by state")
	jobsListCmd.Flags().Int("limit", 50, "maximum jobs to list")
	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune run history",
}

var historyListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List run records for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+args[0]+"/runs")
		if err != nil {
			return err
		}
		var runs []struct {
			AttemptNumber int    `json:"attempt_number"`
			StartedAt     string `json:"started_at"`
			FinishedAt    string `json:"finished_at"`
			Outcome       string `json:"outcome"`
			ErrorDetail   string `json:"error_detail"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs")
			return nil
		}
		for _, run := range runs {
			line := fmt.Sprintf("  #%d %s -> %s %s", run.AttemptNumber, run.StartedAt, run.FinishedAt, run.Outcome)
			if run.ErrorDetail != "" {
				line += ": " + run.ErrorDetail
			}
			fmt.Println(line)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete terminal jobs and their runs older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("older-than")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/history?days=%d", days))
		if err != nil {
			return err
		}
		var out struct {
			Count int `json:"count"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Pruned %d job(s)", out.Count)
		return nil
	},
}

func init() {
	historyPruneCmd.Flags().Int("older-than", 30, "prune terminal jobs older than this many days")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

// --- accounts ---

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage watched accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <username>[,<username>...]",
	Short: "Watch one or more accounts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/accounts", map[string]any{"usernames": args})
		if err != nil {
			return err
		}
		var out struct {
			Usernames []string `json:"usernames"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Watching %s", strings.Join(out.Usernames, ", "))
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Stop watching an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/accounts/"+args[0])
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/accounts")
		if err != nil {
			return err
		}
		var accounts []struct {
			Username string `json:"username"`
			AddedAt  string `json:"added_at"`
		}
		if err := decodeJSON(resp, &accounts); err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("no watched accounts")
			return nil
		}
		for _, a := range accounts {
			fmt.Printf("  %s (since %s)\n", a.Username, a.AddedAt)
		}
		return nil
	},
}

func init() {
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsListCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the automation account session",
}

var sessionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a session credential from a file or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		expiresAt, _ := cmd.Flags().GetString("expires-at")

		var credential string
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading credential file: %w", err)
			}
			credential = strings.TrimSpace(string(data))
		} else {
			fmt.Fprintln(os.Stderr, "paste session credential, then EOF (Ctrl-D):")
			var sb strings.Builder
			buf := make([]byte, 4096)
			for {
				n, err := os.Stdin.Read(buf)
				sb.Write(buf[:n])
				if err != nil {
					break
				}
			}
			credential = strings.TrimSpace(sb.String())
		}
		if credential == "" {
			return fmt.Errorf("credential is empty")
		}

		req := map[string]any{"credential": credential}
		if expiresAt != "" {
			req["expires_at"] = expiresAt
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/session", req)
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Session stored")
		return nil
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Session revoked")
		return nil
	},
}

func init() {
	sessionSetCmd.Flags().String("file", "", "read credential from this file")
	sessionSetCmd.Flags().String("expires-at", "", "credential expiry, RFC3339")
	sessionCmd.AddCommand(sessionSetCmd)
	sessionCmd.AddCommand(sessionRevokeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
