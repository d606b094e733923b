// dash-monitor connects to the telemetry plugin and prints truck speed
// while the game is in drive state.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	dash_config "github.com/temoto/ets2dash/dash/config"
	dashmqtt "github.com/temoto/ets2dash/dash/mqtt"
	dashnet "github.com/temoto/ets2dash/dash/net"
	"github.com/temoto/ets2dash/log2"
	"github.com/temoto/ets2dash/monitor"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "", "HCL config file, optional")
	flagHost := flag.String("host", dash_config.DefaultHost, "plugin host")
	flagPort := flag.Int("port", dash_config.DefaultPort, "plugin port")
	flagReadTimeout := flag.Duration("read-timeout", 0, "fail when no frame arrives in time, 0 waits forever")
	flagLogLevel := flag.String("log-level", dash_config.DefaultLogLevel, "error|info|debug")
	flag.Parse()

	if sdnotify("STATUS=start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// under systemd, journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := dash_config.MustReadConfig(log, dash_config.NewOsFullReader(), *flagConfig)
	// explicit flags override config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			config.Host = *flagHost
		case "port":
			config.Port = *flagPort
		case "read-timeout":
			config.ReadTimeoutMs = int(*flagReadTimeout / time.Millisecond)
		case "log-level":
			config.LogLevel = *flagLogLevel
		}
	})
	if err := config.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	level, _ := log2.ParseLevel(config.LogLevel)
	log.SetLevel(level)

	ctx := context.Background()
	addr := dashnet.JoinHostPort(config.Host, config.Port)
	conn, err := dashnet.Dial(ctx, addr, dashnet.ConnOptions{
		Log:         log,
		ReadTimeout: config.ReadTimeout(),
	})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Infof("connected to %s", addr)
	sdnotify(daemon.SdNotifyReady)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("signal=%v closing", sig)
		_ = conn.Close()
	}()

	opt := monitor.Options{Log: log, Out: os.Stdout, Stat: conn.Stat()}
	closeMqtt := func() {}
	if config.Mqtt.Enable {
		var sink *dashmqtt.Sink
		sink, closeMqtt, err = dashmqtt.Dial(dashmqtt.Options{
			Log:            log.Clone(level),
			BrokerURL:      config.Mqtt.BrokerURL,
			ClientID:       config.Mqtt.ClientID,
			Topic:          config.Mqtt.Topic,
			Qos:            byte(config.Mqtt.Qos),
			Retained:       config.Mqtt.Retained,
			NetworkTimeout: config.MqttTimeout(),
		})
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		opt.Sinks = append(opt.Sinks, sink)
	}

	err = monitor.New(conn, opt).Run(ctx)
	closeMqtt()
	log.Debugf("wire stat=%s", conn.Stat().String())
	log.Fatal(errors.ErrorStack(err))
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
