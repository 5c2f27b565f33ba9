// Package main implements portalctl, the operator CLI for the portal
// import API: bulk URL import, listing the working set, triggering
// analysis, and resetting.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	apiURL string
	source string
	note   string
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Operator CLI for the portal import API",
}

// importCmd reads one listing URL per line (file or stdin); blank lines and
// #-comments are skipped.
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import listing URLs from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) > 0 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		var entries []domain.ImportEntry
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			entries = append(entries, domain.ImportEntry{URL: line, Source: source, Note: note})
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no urls to import")
		}

		var resp struct {
			Imported int `json:"imported"`
		}
		if err := call(http.MethodPost, "/api/posts/import", map[string]any{"entries": entries}, &resp); err != nil {
			return err
		}
		fmt.Printf("imported %d of %d urls\n", resp.Imported, len(entries))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts in the working set",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Posts  []domain.Post `json:"posts"`
			Active string        `json:"active"`
		}
		if err := call(http.MethodGet, "/api/posts", nil, &resp); err != nil {
			return err
		}
		for _, p := range resp.Posts {
			marker := " "
			if p.ID == resp.Active {
				marker = "*"
			}
			title := p.URL
			if p.Parsed != nil && p.Parsed.Title != "" {
				title = p.Parsed.Title
			}
			fmt.Printf("%s %-36s %-10s %-8s %s\n", marker, p.ID, p.Status, p.Step, title)
		}
		fmt.Printf("%d posts\n", len(resp.Posts))
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <post-id>|--all",
	Short: "Run extraction for one post or every eligible post",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all {
			var resp struct {
				Failed map[string]string `json:"failed"`
			}
			if err := call(http.MethodPost, "/api/posts/analyze-all", nil, &resp); err != nil {
				return err
			}
			for id, msg := range resp.Failed {
				fmt.Fprintf(os.Stderr, "failed %s: %s\n", id, msg)
			}
			fmt.Printf("done, %d failures\n", len(resp.Failed))
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("post id required (or --all)")
		}
		var p domain.Post
		if err := call(http.MethodPost, "/api/posts/"+args[0]+"/analyze", nil, &p); err != nil {
			return err
		}
		fmt.Printf("analyzed %s: status=%s step=%s\n", p.ID, p.Status, p.Step)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every post in the working set",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("reset deletes all posts; re-run with --yes to confirm")
		}
		if err := call(http.MethodDelete, "/api/posts?confirm=true", nil, nil); err != nil {
			return err
		}
		fmt.Println("working set reset")
		return nil
	},
}

func call(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, strings.TrimRight(apiURL, "/")+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("api returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Portal API base URL (defaults to $PORTAL_API or http://localhost:8080)")
	importCmd.Flags().StringVar(&source, "source", "", "Source label stored with each imported post")
	importCmd.Flags().StringVar(&note, "note", "", "Note stored with each imported post")
	analyzeCmd.Flags().Bool("all", false, "Analyze every eligible post")
	resetCmd.Flags().Bool("yes", false, "Confirm deletion")
	rootCmd.AddCommand(importCmd, listCmd, analyzeCmd, resetCmd)
}

func main() {
	_ = godotenv.Load()
	if apiURL == "" {
		if env := os.Getenv("PORTAL_API"); env != "" {
			apiURL = env
		} else {
			apiURL = "http://localhost:8080"
		}
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
