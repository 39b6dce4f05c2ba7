package main

import (
	"flag"

	"github.com/Fyned/wp-crm-sub000/internal/daemon"
	"github.com/Fyned/wp-crm-sub000/internal/paths"
	"go.uber.org/fx"
)

func main() {
	dataFlag := flag.String("data", "", "data directory (overrides WPSYNC_DATA_DIR)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dataDir := *dataFlag
	if dataDir == "" {
		dataDir = paths.DataDir()
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:    dataDir,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}
