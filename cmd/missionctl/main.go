package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/missionbot-io/missionbot/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tasks":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: missionctl tasks <list|show|history>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTasksList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: missionctl tasks show <ticket-id>")
				os.Exit(1)
			}
			cmdTasksShow(os.Args[3])
		case "history":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: missionctl tasks history <ticket-id>")
				os.Exit(1)
			}
			cmdTasksHistory(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tasks subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "report":
		cmdReport()
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: missionctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTasksList(args []string) {
	fs := flag.NewFlagSet("tasks list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (in_progress|shipped|next_week|archived)")
	assignee := fs.String("assignee", "", "Filter by assignee username")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *assignee != "" {
		query += "&assignee=" + *assignee
	}

	body, err := apiGet("/api/tasks" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tasks []map[string]any
	json.Unmarshal(body, &tasks)
	for _, t := range tasks {
		progress := ""
		if p, ok := t["progress"].(float64); ok && p > 0 {
			progress = fmt.Sprintf("%3.0f%%", p)
		}
		fmt.Printf("%-12s %-12s %-16s %-4s %s\n",
			t["ticket_id"], t["report_status"], t["assignee_username"], progress, t["title"])
	}
}

func cmdTasksShow(id string) {
	body, err := apiGet("/api/tasks/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTasksHistory(id string) {
	body, err := apiGet("/api/tasks/" + id + "/history")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-24s %-12s -> %-12s @%s\n",
			e["changed_at"], e["old_status"], e["new_status"], e["actor_username"])
	}
}

func cmdReport() {
	body, err := apiGet("/api/report")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp struct {
		Report string `json:"report"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(resp.Report)
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug|info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}

	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-24s %-5s %s\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	base := envOr("MISSIONBOT_API_URL", "http://localhost:8080")
	url := base + path

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("MISSIONBOT_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("missionctl — task bot management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                    Check daemon health")
	fmt.Println("  tasks list                List tasks (--status, --assignee, --limit)")
	fmt.Println("  tasks show <ticket-id>    Show task details")
	fmt.Println("  tasks history <id>        Show task status history")
	fmt.Println("  report                    Print the current weekly report")
	fmt.Println("  logs                      Tail recent daemon logs (--level, --limit)")
	fmt.Println("  config validate <p>       Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MISSIONBOT_API_URL  Daemon URL (default: http://localhost:8080)")
	fmt.Println("  MISSIONBOT_API_KEY  API key for authentication")
}
