// ABOUTME: Client-side commands that query a running hub over HTTP
// ABOUTME: health checks readiness; agents logs in and prints the roster

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-hub/internal/agent"
)

func baseURL() (string, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func runHealth(ctx context.Context) error {
	base, err := baseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}

func newAgentsCmd() *cobra.Command {
	var agentID, secret string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the roster of a running hub",
		Long: `Log in as one agent and print every agent's status and progress.

The secret defaults to the agent's AGENT<N>_SECRET environment variable
when --secret is not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = secretFromEnv(agentID)
			}
			return runAgents(cmd.Context(), agentID, secret)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "agent1", "agent to log in as")
	cmd.Flags().StringVar(&secret, "secret", "", "agent secret")
	return cmd
}

func secretFromEnv(agentID string) string {
	for _, def := range agent.DefaultRoster {
		if def.ID == agentID {
			if v := os.Getenv(def.SecretEnv); v != "" {
				return v
			}
			return def.DefaultSecret
		}
	}
	return ""
}

func runAgents(ctx context.Context, agentID, secret string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{"agentId": agentID, "secret": secret})
	var login agent.AuthResult
	if err := call(ctx, http.MethodPost, base+"/api/auth/login", "", bytes.NewReader(body), &login); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var agents []agent.Agent
	if err := call(ctx, http.MethodGet, base+"/api/agents", login.Token, nil, &agents); err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tPROGRESS\tLAST UPDATE")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			a.ID, a.Name, a.Role, statusColor(a.Status), a.Progress, a.LastUpdate.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func statusColor(s agent.Status) string {
	switch s {
	case agent.StatusActive:
		return color.GreenString(string(s))
	case agent.StatusBlocked:
		return color.RedString(string(s))
	case agent.StatusCompleted:
		return color.CyanString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

// call performs one JSON request and decodes the response into out.
func call(ctx context.Context, method, url, token string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
