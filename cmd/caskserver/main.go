package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ananthvk/caskdb/cmd/caskserver/internal"
)

func main() {
	var (
		addr   = flag.String("addr", "0.0.0.0:4000", "address to listen on")
		dbPath = flag.String("db", "", "datastore directory path (required, or :memory)")
	)
	flag.Parse()

	if err := run(*addr, *dbPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(addr, dbPath string) error {
	if dbPath == "" {
		return errors.New("a datastore directory path is required, pass -db")
	}

	store := internal.NewKVStore(dbPath)
	if store == nil {
		return errors.New("datastore could not be opened")
	}
	defer store.Close()
	store.StartBackgroundSync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("serving", "address", listener.Addr().String(), "datastore", store.Path)

	// Shut the accept loop down when a signal arrives; in-flight connections
	// finish their current command and then hit the closed store
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		go store.Handle(conn)
	}
}
