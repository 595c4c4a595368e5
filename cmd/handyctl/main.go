package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const usage = `Mister Handy control CLI

Usage: handyctl [flags] <command> [args]

Commands:
  status                   fleet health check
  diagnose                 fleet deep diagnosis
  fix                      fleet error fix (dry run unless --apply)
  develop                  fleet development suggestions
  summary                  one row per agent plus scheduler state
  agents                   list registered agents and their tasks
  agent <name> <op>        run status|diagnose|fix|develop on one agent
  run <agent> <task-id>    run a single task on demand
  scheduler [start|stop]   show or change scheduler state
  history [agent]          recent scheduled runs

Flags:
`

type cli struct {
	server string
	apply  bool
	limit  int
	client *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Mister Handy server URL")
	apply := flag.Bool("apply", false, "apply fixes instead of dry run")
	limit := flag.Int("limit", 20, "history entries to fetch")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &cli{
		server: *server,
		apply:  *apply,
		limit:  *limit,
		client: &http.Client{Timeout: 65 * time.Second},
	}

	var err error
	switch args[0] {
	case "status":
		err = c.showResult("GET", "/api/status", nil)
	case "diagnose":
		err = c.showResult("GET", "/api/diagnose", nil)
	case "fix":
		err = c.showResult("POST", "/api/fix", map[string]bool{"apply": c.apply})
	case "develop":
		err = c.showResult("GET", "/api/develop", nil)
	case "summary":
		err = c.summary()
	case "agents":
		err = c.agents()
	case "agent":
		if len(args) != 3 {
			err = fmt.Errorf("usage: handyctl agent <name> <status|diagnose|fix|develop>")
			break
		}
		err = c.agentOp(args[1], args[2])
	case "run":
		if len(args) != 3 {
			err = fmt.Errorf("usage: handyctl run <agent> <task-id>")
			break
		}
		err = c.showResult("POST", "/api/agents/"+args[1]+"/tasks/"+args[2]+"/run", nil)
	case "scheduler":
		action := ""
		if len(args) > 1 {
			action = args[1]
		}
		err = c.scheduler(action)
	case "history":
		agent := ""
		if len(args) > 1 {
			agent = args[1]
		}
		err = c.history(agent)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31m%v\033[0m\n", err)
		os.Exit(1)
	}
}

func (c *cli) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.server+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeOrError(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server: %s", e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type resultView struct {
	Success     bool           `json:"success"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Duration    int64          `json:"duration"`
}

func statusIcon(status string) string {
	switch status {
	case "healthy", "running":
		return "\033[32m✓\033[0m"
	case "warning", "unknown", "stopped":
		return "\033[33m!\033[0m"
	default:
		return "\033[31m✗\033[0m"
	}
}

func printResult(res *resultView) {
	fmt.Printf("%s [%s] %s\n", statusIcon(res.Status), res.Status, res.Message)
	for _, s := range res.Suggestions {
		fmt.Printf("  • %s\n", s)
	}
	if cons, ok := res.Data["constituents"].([]any); ok {
		for _, raw := range cons {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			inner, ok := m["result"].(map[string]any)
			if !ok {
				continue
			}
			st, _ := inner["status"].(string)
			msg, _ := inner["message"].(string)
			fmt.Printf("  %s %s: %s\n", statusIcon(st), name, msg)
		}
	}
}

func (c *cli) showResult(method, path string, body interface{}) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	var res resultView
	if err := decodeOrError(resp, &res); err != nil {
		return err
	}
	printResult(&res)
	return nil
}

func (c *cli) agentOp(name, op string) error {
	switch op {
	case "status", "diagnose", "develop":
		return c.showResult("GET", "/api/agents/"+name+"/"+op, nil)
	case "fix":
		return c.showResult("POST", "/api/agents/"+name+"/fix", map[string]bool{"apply": c.apply})
	}
	return fmt.Errorf("unknown operation %q", op)
}

func (c *cli) agents() error {
	resp, err := c.do("GET", "/api/agents", nil)
	if err != nil {
		return err
	}
	var infos []struct {
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Tasks       []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Type     string `json:"type"`
			Interval int64  `json:"interval"`
		} `json:"tasks"`
	}
	if err := decodeOrError(resp, &infos); err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}
	for _, a := range infos {
		fmt.Printf("\033[36m%s\033[0m (%s) — %s\n", a.Name, a.Category, a.Description)
		for _, t := range a.Tasks {
			interval := "on demand"
			if t.Interval > 0 {
				interval = time.Duration(t.Interval).String()
			}
			fmt.Printf("  %-24s %-12s %s\n", t.ID, t.Type, interval)
		}
	}
	return nil
}

func (c *cli) summary() error {
	resp, err := c.do("GET", "/api/summary", nil)
	if err != nil {
		return err
	}
	var s struct {
		Status string `json:"status"`
		Agents []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"agents"`
		Scheduler struct {
			Running  bool `json:"running"`
			InFlight int  `json:"in_flight"`
		} `json:"scheduler"`
	}
	if err := decodeOrError(resp, &s); err != nil {
		return err
	}
	fmt.Printf("Overall: %s [%s]\n", statusIcon(s.Status), s.Status)
	for _, a := range s.Agents {
		fmt.Printf("  %s %-12s %s\n", statusIcon(a.Status), a.Name, a.Message)
	}
	state := "stopped"
	if s.Scheduler.Running {
		state = "running"
	}
	fmt.Printf("Scheduler: %s, %d task(s) in flight\n", state, s.Scheduler.InFlight)
	return nil
}

func (c *cli) scheduler(action string) error {
	method, path := "GET", "/api/scheduler"
	switch action {
	case "":
	case "start", "stop":
		method, path = "POST", "/api/scheduler/"+action
	default:
		return fmt.Errorf("usage: handyctl scheduler [start|stop]")
	}
	resp, err := c.do(method, path, nil)
	if err != nil {
		return err
	}
	var s struct {
		Running  bool  `json:"running"`
		Tick     int64 `json:"tick"`
		InFlight int   `json:"in_flight"`
	}
	if err := decodeOrError(resp, &s); err != nil {
		return err
	}
	state := "stopped"
	if s.Running {
		state = "running"
	}
	fmt.Printf("Scheduler %s, tick %s, %d task(s) in flight\n",
		state, time.Duration(s.Tick), s.InFlight)
	return nil
}

func (c *cli) history(agent string) error {
	path := fmt.Sprintf("/api/history?limit=%d", c.limit)
	if agent != "" {
		path += "&agent=" + agent
	}
	resp, err := c.do("GET", path, nil)
	if err != nil {
		return err
	}
	var records []struct {
		Agent   string    `json:"agent"`
		TaskID  string    `json:"task_id"`
		Status  string    `json:"status"`
		Message string    `json:"message"`
		RanAt   time.Time `json:"ran_at"`
	}
	if err := decodeOrError(resp, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s %s %s/%s: %s\n",
			r.RanAt.Local().Format("2006-01-02 15:04:05"),
			statusIcon(r.Status), r.Agent, r.TaskID, r.Message)
	}
	return nil
}
