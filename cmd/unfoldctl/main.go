// Package main implements unfoldctl, a command-line client for the Unfolding server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashureev/unfolding/internal/identity"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the Unfolding server
	serverURL string
	// userID is the anonymous identity sent as the identity cookie
	userID  string
	version = "dev"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unfoldctl",
	Short: "CLI for the Unfolding authoring server",
	Long: `unfoldctl talks to an Unfolding server. It can create and move sessions
through the six stages and hold an interactive chat in the current stage.`,
	Version:           version,
	PersistentPreRunE: resolveIdentity,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("UNFOLD_SERVER", "http://localhost:8080"), "Unfolding server URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("UNFOLD_USER_ID"), "anonymous identity (anon_<32 hex>); generated when empty")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func resolveIdentity(cmd *cobra.Command, _ []string) error {
	if userID != "" {
		if !identity.IsValidAnonID(userID) {
			return fmt.Errorf("invalid --user %q: expected anon_ followed by 32 hex characters", userID)
		}
		return nil
	}
	id, err := identity.NewAnonID()
	if err != nil {
		return err
	}
	userID = id
	fmt.Fprintf(cmd.ErrOrStderr(), "Using new identity %s (pass --user to reuse it)\n", userID)
	return nil
}

// identityHeader carries the identity cookie on REST and WebSocket requests.
func identityHeader(id string) http.Header {
	h := http.Header{}
	h.Set("Cookie", (&http.Cookie{Name: identity.AnonCookieName, Value: id}).String())
	return h
}

// wsURL turns the server base URL into the chat endpoint URL.
func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/chat"
}

// apiError matches the server's error body.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func callAPI(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = identityHeader(userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Kind, apiErr.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
