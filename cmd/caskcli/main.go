package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ananthvk/caskdb"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"
)

func main() {
	dbPtr := flag.String("db", ":memory", "datastore directory path, or :memory for an in-process store")
	flag.Parse()

	var fs afero.Fs
	path := *dbPtr
	if path == ":memory" {
		fs = afero.NewMemMapFs()
		path = "caskcli-memory-db"
	} else {
		fs = afero.NewOsFs()
	}

	store, err := caskdb.Open(fs, path, caskdb.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "(error) OPEN: %s\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Println("Welcome to caskdb cli, type \"exit\" to quit")
	fmt.Println("Commands: get <key> | set <key> <value> | del <key> | range <start> <end> | keys | size | merge")
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "exit" {
			break
		}
		args, err := shellquote.Split(line)
		if err != nil {
			fmt.Printf("(error) parse: %s\n> ", err)
			continue
		}
		if len(args) == 0 {
			fmt.Print("> ")
			continue
		}
		fmt.Println(evaluate(store, args))
		fmt.Print("> ")
	}
}

func evaluate(store *caskdb.DataStore, args []string) string {
	switch strings.ToLower(args[0]) {
	case "get":
		if len(args) != 2 {
			return "(error) GET: usage: get <key>"
		}
		value, err := store.Get([]byte(args[1]))
		if err != nil {
			if errors.Is(err, caskdb.ErrKeyNotFound) {
				return "(nil)"
			}
			return fmt.Sprintf("(error) GET: %s", err)
		}
		return string(value)
	case "set":
		if len(args) != 3 {
			return "(error) SET: usage: set <key> <value>"
		}
		if err := store.Put([]byte(args[1]), []byte(args[2])); err != nil {
			return fmt.Sprintf("(error) SET: %s", err)
		}
		return "OK"
	case "del":
		if len(args) != 2 {
			return "(error) DEL: usage: del <key>"
		}
		if err := store.Delete([]byte(args[1])); err != nil {
			if errors.Is(err, caskdb.ErrKeyNotFound) {
				return "(nil)"
			}
			return fmt.Sprintf("(error) DEL: %s", err)
		}
		return "OK"
	case "range":
		if len(args) != 3 {
			return "(error) RANGE: usage: range <start> <end>"
		}
		pairs, err := store.Range([]byte(args[1]), []byte(args[2]))
		if err != nil {
			return fmt.Sprintf("(error) RANGE: %s", err)
		}
		var sb strings.Builder
		for i, pair := range pairs {
			fmt.Fprintf(&sb, "%d) %s = %s\n", i+1, pair.Key, pair.Value)
		}
		if sb.Len() == 0 {
			return "(empty)"
		}
		return strings.TrimRight(sb.String(), "\n")
	case "keys":
		keys := store.Keys()
		parts := make([]string, len(keys))
		for i, key := range keys {
			parts[i] = string(key)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case "size":
		return fmt.Sprintf("%d", store.Size())
	case "merge":
		if err := store.Merge(); err != nil {
			return fmt.Sprintf("(error) MERGE: %s", err)
		}
		return "OK"
	default:
		return fmt.Sprintf("(error) unknown command %q", args[0])
	}
}
