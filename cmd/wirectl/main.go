package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/wirego/internal/api"
	"github.com/matheus3301/wirego/internal/lock"
	"github.com/matheus3301/wirego/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Local commands that do not need a running daemon.
	if args[0] == "sessions" {
		if len(args) < 2 || args[1] != "list" {
			fmt.Fprintln(os.Stderr, "usage: wirectl sessions list")
			os.Exit(1)
		}
		cmdSessionsList(*jsonFlag)
		return
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp map[string]any
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
		if err == nil && !*jsonFlag {
			printStatus(resp)
			return
		}
	case "connect":
		resp, err = c.Connect(ctx)
	case "disconnect":
		resp, err = c.Disconnect(ctx)
	case "foreground":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			fmt.Fprintln(os.Stderr, "usage: wirectl foreground <on|off>")
			os.Exit(1)
		}
		resp, err = c.SetForeground(ctx, args[1] == "on")
	case "health":
		resp, err = c.CheckHealth(ctx)
	case "conversations":
		start, count := intArg(args, 1, 0), intArg(args, 2, 20)
		resp, err = c.ListConversations(ctx, start, count)
		if err == nil && !*jsonFlag {
			printConversations(resp)
			return
		}
	case "clients":
		resp, err = c.ListClients(ctx, args[1:])
		if err == nil && !*jsonFlag {
			for _, item := range list(resp, "clients") {
				fmt.Printf("%-40s %s\n", item["user_id"], item["id"])
			}
			return
		}
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wirectl messages <conversation-id> [limit]")
			os.Exit(1)
		}
		resp, err = c.ListMessages(ctx, args[1], intArg(args, 2, 0))
		if err == nil && !*jsonFlag {
			printMessages(resp)
			return
		}
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wirectl send <conversation-id> <text>")
			os.Exit(1)
		}
		resp, err = c.SendText(ctx, args[1], strings.Join(args[2:], " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	if *jsonFlag {
		outputJSON(resp)
		return
	}
	printFields(resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wirectl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                           Show session status")
	fmt.Fprintln(os.Stderr, "  connect                          Open the event socket")
	fmt.Fprintln(os.Stderr, "  disconnect                       Close the event socket")
	fmt.Fprintln(os.Stderr, "  foreground <on|off>              Set the app foreground flag")
	fmt.Fprintln(os.Stderr, "  health                           Check persistent socket health")
	fmt.Fprintln(os.Stderr, "  conversations [start] [count]    List conversations")
	fmt.Fprintln(os.Stderr, "  clients [user-id...]             List contact clients")
	fmt.Fprintln(os.Stderr, "  messages <conversation> [limit]  List messages")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>       Queue a text message")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                   Stream daemon events")
	fmt.Fprintln(os.Stderr, "  sessions list                    List known sessions")
}

func printStatus(resp map[string]any) {
	fmt.Printf("Session:    %v\n", resp["session"])
	fmt.Printf("Status:     %v\n", resp["status"])
	fmt.Printf("Connected:  %v\n", resp["connected"])
	fmt.Printf("Foreground: %v\n", resp["foreground"])
	fmt.Printf("Uptime:     %vms\n", resp["uptime_ms"])
	for _, job := range list(resp, "work") {
		fmt.Printf("Work:       %v %v (attempts %v)\n", job["name"], job["state"], job["attempts"])
	}
}

func printConversations(resp map[string]any) {
	items := list(resp, "conversations")
	if len(items) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, item := range items {
		var names []string
		for _, m := range item["members"].([]any) {
			names = append(names, fmt.Sprint(m.(map[string]any)["name"]))
		}
		fmt.Printf("%-40s %-24s %s\n", item["id"], item["name"], strings.Join(names, ", "))
	}
}

func printMessages(resp map[string]any) {
	for _, m := range list(resp, "messages") {
		sender := fmt.Sprint(m["sender_user_id"])
		if contact, ok := m["sender"].(map[string]any); ok {
			sender = fmt.Sprint(contact["name"])
		}
		ts := time.UnixMilli(int64(m["time_unix_ms"].(float64))).Format(time.DateTime)
		fmt.Printf("%s  %-20s [%v] %v\n", ts, sender, m["state"], m["content"])
	}
}

func printFields(resp map[string]any) {
	keys := make([]string, 0, len(resp))
	for k := range resp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, resp[k])
	}
}

func cmdWatch(c *api.Client, prefix string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	err := c.WatchEvents(ctx, prefix, func(evt map[string]any) error {
		return enc.Encode(evt)
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func cmdSessionsList(jsonOut bool) {
	names, err := session.List()
	if err != nil {
		fail(err)
	}
	type entry struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Running bool   `json:"daemon_running"`
		PID     int    `json:"pid,omitempty"`
	}
	var entries []entry
	for _, name := range names {
		pid, held := lock.Holder(session.Dir(name))
		entries = append(entries, entry{Name: name, Path: session.Dir(name), Running: held, PID: pid})
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, e := range entries {
		running := "stopped"
		if e.Running {
			running = fmt.Sprintf("running, pid %d", e.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", e.Name, e.Path, running)
	}
}

func list(resp map[string]any, key string) []map[string]any {
	raw, _ := resp[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func intArg(args []string, i, def int) int {
	if len(args) <= i {
		return def
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		fail(fmt.Errorf("invalid number %q", args[i]))
	}
	return n
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
