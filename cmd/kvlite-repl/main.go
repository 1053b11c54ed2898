// Command kvlite-repl is an interactive shell for poking at a kvlite cache.
//
// Usage:
//
//	kvlite-repl <db-file> [partition]
//
// Commands:
//
//	put <key> <value> [ttl-seconds]   Insert with sliding expiry (default 300s)
//	get <key>                         Retrieve a value, extending sliding expiry
//	peek <key>                        Retrieve a value without extending expiry
//	rm <key>                          Remove a key, cascading to its children
//	clear                             Remove expired entries
//	clear --all                       Remove every entry in the partition
//	stats                             Print entry count and byte size
//	help                              Show this help
//	exit / quit / q                   Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/kvlitecache/kvlite"
	"github.com/kvlitecache/kvlite/internal/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return errors.New("usage: kvlite-repl <db-file> [partition]")
	}

	dbPath := os.Args[1]

	partition := ""
	if len(os.Args) > 2 {
		partition = os.Args[2]
	}

	ctx := context.Background()

	conn := sqlstore.New(dbPath)
	cfg := kvlite.DefaultConfig()

	facade, err := kvlite.NewCacheFacade(ctx, conn, kvlite.SystemClock{}, cfg)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer facade.Close()

	repl := &repl{ctx: ctx, facade: facade, partition: partition, dbPath: dbPath}

	return repl.run()
}

type repl struct {
	ctx       context.Context
	facade    *kvlite.CacheFacade
	partition string
	dbPath    string
	liner     *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvlite_repl_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("kvlite-repl (db=%s, partition=%q)\n", r.dbPath, r.partition)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("kvlite> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			fmt.Println("Bye!")

			return nil
		case "help", "?":
			r.printHelp()
		case "put":
			r.cmdPut(args)
		case "get":
			r.cmdGet(args)
		case "peek":
			r.cmdPeek(args)
		case "rm", "del":
			r.cmdRemove(args)
		case "clear":
			r.cmdClear(args)
		case "stats":
			r.cmdStats()
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"put", "get", "peek", "rm", "del", "clear", "stats", "help", "exit", "quit"}

	var matches []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			matches = append(matches, c)
		}
	}

	return matches
}

func (r *repl) printHelp() {
	fmt.Println(`commands:
  put <key> <value> [ttl-seconds]   insert with sliding expiry (default 300s)
  get <key>                        retrieve a value, extending sliding expiry
  peek <key>                       retrieve a value without extending expiry
  rm <key>                         remove a key, cascading to its children
  clear                            remove expired entries
  clear --all                      remove every entry in the partition
  stats                            print entry count and byte size
  help                             show this help
  exit / quit / q                  exit`)
}

func (r *repl) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value> [ttl-seconds]")

		return
	}

	ttl := int64(300)

	if len(args) > 2 {
		parsed, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Printf("invalid ttl-seconds: %v\n", err)

			return
		}

		ttl = parsed
	}

	err := r.facade.AddSliding(r.ctx, r.partition, args[0], args[1], ttl)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("ok")
}

func (r *repl) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: get <key>")

		return
	}

	value, ok, err := kvlite.Get[string](r.ctx, r.facade, r.partition, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !ok {
		fmt.Println("(miss)")

		return
	}

	fmt.Println(value)
}

func (r *repl) cmdPeek(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: peek <key>")

		return
	}

	value, ok, err := kvlite.Peek[string](r.ctx, r.facade, r.partition, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !ok {
		fmt.Println("(miss)")

		return
	}

	fmt.Println(value)
}

func (r *repl) cmdRemove(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: rm <key>")

		return
	}

	if err := r.facade.Remove(r.ctx, r.partition, args[0]); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println("ok")
}

func (r *repl) cmdClear(args []string) {
	mode := kvlite.ConsiderExpiry

	for _, a := range args {
		if a == "--all" {
			mode = kvlite.IgnoreExpiry
		}
	}

	n, err := r.facade.Clear(r.ctx, r.partition, mode)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("cleared %d entries\n", n)
}

func (r *repl) cmdStats() {
	count, err := r.facade.Count(r.ctx, r.partition, kvlite.IgnoreExpiry)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	size, err := r.facade.GetCacheSizeBytes(r.ctx, r.partition)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("entries: %d\nbytes:   %d\n", count, size)
}
