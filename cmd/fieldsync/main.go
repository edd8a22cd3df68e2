// Command fieldsync is the field device: it downloads forms, keeps drafts offline and pushes
// them to the survey server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mbolis/fieldsync/kv"
	"github.com/mbolis/fieldsync/log"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("fieldsync", flag.ContinueOnError)
	server := fs.String("server", getenv("FIELDSYNC_SERVER", "http://localhost:8080"), "survey server base URL")
	storeDSN := fs.String("store", getenv("FIELDSYNC_STORE", "fieldsync-device.sqlite"), `device storage: a SQLite file, a redis:// URL or "memory"`)
	offline := fs.Bool("offline", getenv("FIELDSYNC_OFFLINE", "") == "1", "save drafts locally instead of syncing")
	source := fs.String("source", "", `submission source reported to the server (default "mobile")`)
	logLevel := fs.String("log-level", getenv("FIELDSYNC_LOG_LEVEL", "warn"), "log level: debug, info, warn or error")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	log.SetLevel(log.ParseLevel(*logLevel))

	store, closer, err := kv.Open(*storeDSN)
	if err != nil {
		log.Error("fieldsync.store:", err)
		return 1
	}
	defer closer.Close()

	ctx := context.Background()
	e, err := newEnv(ctx, store, *server, os.Stdout)
	if err != nil {
		log.Error("fieldsync.init:", err)
		return 1
	}
	e.drafts.SetOffline(*offline)
	if *source != "" {
		e.drafts.SetSource(*source)
	}

	if err = e.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		log.Error(fs.Arg(0)+":", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "usage: fieldsync [flags] <command> [args]")
	fmt.Fprintln(out, "\ncommands:")
	for _, name := range commandNames() {
		fmt.Fprintf(out, "  %-14s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(out, "\nflags:")
	fs.PrintDefaults()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
