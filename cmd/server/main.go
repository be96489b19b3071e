package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/server"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("roomchat-server", pflag.ExitOnError)
	server.RegisterFlags(fs)
	showVersion := fs.Bool("version", false, "Print version and exit")
	exportRooms := fs.Bool("export-rooms", false, "Export pinned rooms from the database as YAML and exit")
	importRooms := fs.String("import-rooms", "", "Import pinned rooms from a YAML file into the database and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	cfg, err := server.LoadConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Handle room export/import (run and exit)
	if *exportRooms || *importRooms != "" {
		if cfg.Server.DBPath == "" {
			slog.Error("room export and import need --db")
			os.Exit(1)
		}
		st, err := datastore.NewProviderFactory(cfg.Server.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		if *importRooms != "" {
			rooms, err := server.LoadRoomsFromYAML(*importRooms)
			if err != nil {
				slog.Error("import rooms", "err", err)
				os.Exit(1)
			}
			if err := datastore.ImportRooms(context.Background(), st, rooms); err != nil {
				slog.Error("import rooms", "err", err)
				os.Exit(1)
			}
			slog.Info("imported rooms", "count", len(rooms))
		}
		if *exportRooms {
			rooms, err := st.NonTx().ListRooms()
			if err != nil {
				slog.Error("export rooms", "err", err)
				os.Exit(1)
			}
			data, err := server.ExportRoomsYAML(rooms)
			if err != nil {
				slog.Error("export rooms", "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		return
	}

	var store datastore.DataStore
	var closeStore func() error
	if cfg.Server.DBPath != "" {
		st, err := datastore.NewProviderFactory(cfg.Server.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		store, closeStore = st.NonTx(), st.Close
	} else {
		store = datastore.NewMemory()
	}

	journal := server.NewJournalSink(store, 1024)
	srv := server.New(cfg, server.Dependencies{
		Store:  store,
		Events: server.Sinks(server.LogSink{}, journal),
	})
	slog.Info("starting roomchat", "version", version.String())
	runErr := srv.Run()

	journal.Close()
	if dropped := journal.Dropped.Load(); dropped > 0 {
		slog.Warn("journal dropped events", "count", dropped)
	}
	if closeStore != nil {
		_ = closeStore()
	}
	if runErr != nil {
		slog.Error("server error", "err", runErr)
		os.Exit(1)
	}
}
