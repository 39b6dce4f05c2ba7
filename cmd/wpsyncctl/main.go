package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	addr := "127.0.0.1:8721"
	jsonOut := false

	args := os.Args[1:]
	// Accept flags before the command.
flags:
	for len(args) > 0 {
		switch {
		case args[0] == "--json":
			jsonOut = true
			args = args[1:]
		case args[0] == "--addr" && len(args) > 1:
			addr = args[1]
			args = args[2:]
		default:
			break flags
		}
	}
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: "http://" + addr, jsonOut: jsonOut, http: &http.Client{Timeout: 30 * time.Second}}

	switch args[0] {
	case "sessions":
		cmdSessions(c, args[1:])
	case "status":
		requireArgs(args, 2, "wpsyncctl status <session>")
		cmdStatus(c, args[1])
	case "sync":
		requireArgs(args, 3, "wpsyncctl sync <start|gapfill|status> <session>")
		cmdSync(c, args[1], args[2])
	case "chats":
		requireArgs(args, 2, "wpsyncctl chats <session>")
		cmdChats(c, args[1])
	case "messages":
		requireArgs(args, 3, "wpsyncctl messages <session> <chat>")
		cmdMessages(c, args[1], args[2])
	case "search":
		requireArgs(args, 3, "wpsyncctl search <session> <query>")
		cmdSearch(c, args[1], args[2])
	case "send":
		requireArgs(args, 4, "wpsyncctl send <session> <chat> <text>")
		cmdSend(c, args[1], args[2], args[3])
	case "qr":
		requireArgs(args, 2, "wpsyncctl qr <session> [file]")
		file := "qr.png"
		if len(args) > 2 {
			file = args[2]
		}
		cmdQR(c, args[1], file)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wpsyncctl [--addr host:port] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions list                  List sessions")
	fmt.Fprintln(os.Stderr, "  sessions add <name>            Register a channel")
	fmt.Fprintln(os.Stderr, "  sessions rm <name>             Remove a channel")
	fmt.Fprintln(os.Stderr, "  status <session>               Show session status")
	fmt.Fprintln(os.Stderr, "  qr <session> [file]            Save the pairing QR image")
	fmt.Fprintln(os.Stderr, "  sync start <session>           Start a full backfill")
	fmt.Fprintln(os.Stderr, "  sync gapfill <session>         Start a gap-fill sync")
	fmt.Fprintln(os.Stderr, "  sync status <session>          Show sync progress")
	fmt.Fprintln(os.Stderr, "  chats <session>                List chats")
	fmt.Fprintln(os.Stderr, "  messages <session> <chat>      List messages in a chat")
	fmt.Fprintln(os.Stderr, "  search <session> <query>       Full-text search")
	fmt.Fprintln(os.Stderr, "  send <session> <chat> <text>   Queue a text message")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

type client struct {
	base    string
	jsonOut bool
	http    *http.Client
}

func (c *client) get(path string, out any) {
	resp, err := c.http.Get(c.base + path)
	c.finish(resp, err, out)
}

func (c *client) post(path string, body, out any) {
	buf, err := json.Marshal(body)
	if err != nil {
		die(err)
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(buf))
	c.finish(resp, err, out)
}

func (c *client) delete(path string, out any) {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		die(err)
	}
	resp, err := c.http.Do(req)
	c.finish(resp, err, out)
}

func (c *client) finish(resp *http.Response, err error, out any) {
	if err != nil {
		die(fmt.Errorf("cannot reach daemon: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		die(err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			die(fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode))
		}
		die(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}
	if c.jsonOut {
		fmt.Println(string(bytes.TrimSpace(raw)))
		os.Exit(0)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			die(err)
		}
	}
}

func die(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

type sessionView struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	LastMessageTS int64  `json:"last_message_ts"`
}

func cmdSessions(c *client, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: wpsyncctl sessions <list|add|rm> [name]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		var sessions []sessionView
		c.get("/v1/sessions", &sessions)
		if len(sessions) == 0 {
			fmt.Println("No sessions registered.")
			return
		}
		for _, s := range sessions {
			fmt.Printf("%-20s %-12s watermark=%s\n", s.Name, s.Status, millis(s.LastMessageTS))
		}
	case "add":
		requireArgs(args, 2, "wpsyncctl sessions add <name>")
		var s sessionView
		c.post("/v1/sessions", map[string]string{"name": args[1]}, &s)
		fmt.Printf("Session %s registered (%s). Run 'wpsyncctl qr %s' to pair.\n", s.Name, s.Status, s.Name)
	case "rm":
		requireArgs(args, 2, "wpsyncctl sessions rm <name>")
		c.delete("/v1/sessions/"+url.PathEscape(args[1]), nil)
		fmt.Printf("Session %s removed.\n", args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: wpsyncctl sessions <list|add|rm> [name]")
		os.Exit(1)
	}
}

func cmdStatus(c *client, session string) {
	var s sessionView
	c.get("/v1/sessions/"+url.PathEscape(session), &s)
	fmt.Printf("Session:   %s\n", s.Name)
	fmt.Printf("Status:    %s\n", s.Status)
	fmt.Printf("Watermark: %s\n", millis(s.LastMessageTS))
}

func cmdSync(c *client, subcmd, session string) {
	path := "/v1/sessions/" + url.PathEscape(session) + "/sync"
	switch subcmd {
	case "start", "gapfill":
		syncType := "initial"
		if subcmd == "gapfill" {
			syncType = "gapfill"
		}
		var resp map[string]string
		c.post(path, map[string]string{"type": syncType}, &resp)
		fmt.Printf("Sync %s started for %s.\n", syncType, session)
	case "status":
		var st struct {
			Status         string `json:"status"`
			SyncType       string `json:"sync_type"`
			MessagesSynced int64  `json:"messages_synced"`
			ChatsSynced    int64  `json:"chats_synced"`
			ErrorMessage   string `json:"error_message"`
		}
		c.get(path, &st)
		fmt.Printf("Status:   %s\n", st.Status)
		if st.SyncType != "" {
			fmt.Printf("Type:     %s\n", st.SyncType)
		}
		fmt.Printf("Messages: %d\n", st.MessagesSynced)
		fmt.Printf("Chats:    %d\n", st.ChatsSynced)
		if st.ErrorMessage != "" {
			fmt.Printf("Error:    %s\n", st.ErrorMessage)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: wpsyncctl sync <start|gapfill|status> <session>")
		os.Exit(1)
	}
}

func cmdChats(c *client, session string) {
	var chats []struct {
		JID                string `json:"jid"`
		Name               string `json:"name"`
		IsGroup            bool   `json:"is_group"`
		LastMessageAt      int64  `json:"last_message_at"`
		LastMessagePreview string `json:"last_message_preview"`
	}
	c.get("/v1/sessions/"+url.PathEscape(session)+"/chats", &chats)
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, ch := range chats {
		kind := " "
		if ch.IsGroup {
			kind = "G"
		}
		name := ch.Name
		if name == "" {
			name = ch.JID
		}
		fmt.Printf("%s %-30s %-20s %s\n", kind, name, millis(ch.LastMessageAt), ch.LastMessagePreview)
	}
}

func cmdMessages(c *client, session, chat string) {
	var msgs []struct {
		MsgID     string `json:"msg_id"`
		FromMe    bool   `json:"from_me"`
		Type      string `json:"message_type"`
		Body      string `json:"body"`
		Ack       string `json:"ack"`
		Timestamp int64  `json:"timestamp"`
	}
	c.get("/v1/sessions/"+url.PathEscape(session)+"/messages?chat="+url.QueryEscape(chat), &msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		dir := "<-"
		if m.FromMe {
			dir = "->"
		}
		body := m.Body
		if body == "" {
			body = "[" + m.Type + "]"
		}
		fmt.Printf("%s %s %-7s %s\n", millis(m.Timestamp), dir, m.Ack, body)
	}
}

func cmdSearch(c *client, session, query string) {
	var hits []struct {
		Message struct {
			Timestamp int64 `json:"timestamp"`
		} `json:"message"`
		Snippet string `json:"snippet"`
	}
	c.get("/v1/sessions/"+url.PathEscape(session)+"/search?q="+url.QueryEscape(query), &hits)
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, h := range hits {
		fmt.Printf("%s  %s\n", millis(h.Message.Timestamp), h.Snippet)
	}
}

func cmdSend(c *client, session, chat, text string) {
	var resp map[string]string
	c.post("/v1/sessions/"+url.PathEscape(session)+"/send",
		map[string]string{"chat": chat, "text": text}, &resp)
	fmt.Printf("Queued as %s.\n", resp["client_msg_id"])
}

func cmdQR(c *client, session, file string) {
	resp, err := c.http.Get(c.base + "/v1/sessions/" + url.PathEscape(session) + "/qr.png")
	if err != nil {
		die(fmt.Errorf("cannot reach daemon: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		die(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		die(err)
	}
	if err := os.WriteFile(file, data, 0600); err != nil {
		die(err)
	}
	fmt.Printf("QR image written to %s. Scan it with the phone app.\n", file)
}

func millis(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.UnixMilli(ts).Local().Format("2006-01-02 15:04:05")
}
