// dash-emu listens like the game plugin and broadcasts an editable
// telemetry document. Useful to drive dash-monitor without the game.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	dash_config "github.com/temoto/ets2dash/dash/config"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/emulator"
	"github.com/temoto/ets2dash/helpers/cli"
	"github.com/temoto/ets2dash/log2"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "", "HCL config file, optional")
	flagListen := cmdline.String("listen", dash_config.DefaultEmulatorListen, "")
	flagInterval := cmdline.Duration("interval", dash_config.DefaultEmulatorInterval*time.Millisecond, "broadcast interval")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	config := dash_config.MustReadConfig(log, dash_config.NewOsFullReader(), *flagConfig)
	cmdline.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.Emulator.Listen = *flagListen
		case "interval":
			config.Emulator.IntervalMs = int(*flagInterval / time.Millisecond)
		}
	})
	if err := config.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if level, err := log2.ParseLevel(config.LogLevel); err == nil {
		log.SetLevel(level)
	}

	server := dashnet.NewServer(dashnet.ServerOptions{
		Log:          log,
		WriteTimeout: time.Second,
	})
	if err := server.Listen(config.Emulator.Listen); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	emu := emulator.New(server, emulator.Options{Log: log, Interval: config.EmulatorInterval()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := emu.Run(ctx); err != nil {
			log.Error(errors.ErrorStack(err))
		}
	}()

	suggests := make([]prompt.Suggest, 0, len(emulator.Commands))
	for _, c := range emulator.Commands {
		suggests = append(suggests, prompt.Suggest{Text: c.Name, Description: c.Description})
	}
	err := cli.MainLoop(ctx, cli.Options{
		Tag: "dash-emu",
		Exec: func(line string) {
			if err := emu.Exec(ctx, line); err != nil {
				log.Error(errors.ErrorStack(err))
			}
		},
		Complete: cli.NewCompleter(suggests),
		Interrupt: func(sig os.Signal) {
			log.Infof("signal=%v stopping", sig)
			cancel()
		},
		KeepRunning: true,
	})
	cancel()
	_ = server.Close()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
