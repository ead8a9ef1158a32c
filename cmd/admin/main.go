// Command admin drives the server's loopback admin endpoints and inspects
// the store directly.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"worldloom.ai/internal/persistence/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			getCmd("state", os.Args[2:], "/admin/v1/state")
			return
		case "archive":
			postCmd("archive", os.Args[2:], "/admin/v1/archive")
			return
		case "export":
			postCmd("export", os.Args[2:], "/admin/v1/export")
			return
		case "logs":
			logsCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <state|archive|export|logs> [flags]")
	os.Exit(2)
}

func getCmd(name string, args []string, path string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func postCmd(name string, args []string, path string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 30 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

// logsCmd reads the newest action log rows straight from the database. Use
// it against a stopped server or a copy; the store is single-writer.
func logsCmd(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	dbPath := fs.String("db", "./data/world.db", "path to world.db")
	n := fs.Int("n", 20, "number of rows")
	_ = fs.Parse(args)

	st, err := store.Open(*dbPath, log.New(io.Discard, "", 0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer st.Close()

	entries, err := st.RecentLogs(*n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	total, _ := st.CountLogs()
	for _, e := range entries {
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", e.ID, e.Timestamp, e.Actor, e.Action, e.Result)
	}
	fmt.Printf("%d rows total\n", total)
}
