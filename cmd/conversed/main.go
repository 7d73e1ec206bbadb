package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/converse-im/converse/internal/config"
	"github.com/converse-im/converse/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.Path()
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: configPath}),
	)

	app.Run()
}
