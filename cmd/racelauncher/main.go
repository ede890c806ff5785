// Package main is the reference entry point wiring one universe's bus,
// clock, wire registry, actor kernels, master, monitor and provider
// negotiator into a running process; no remote bus connector is wired. Uses stdlib flag parsing, an installSignalHandler for graceful
// termination, and version/help short-circuits before flag.Parse.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nasarace/race-go/actor"
	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/clock"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/config"
	"github.com/nasarace/race-go/master"
	"github.com/nasarace/race-go/monitor"
	"github.com/nasarace/race-go/provider"
	"github.com/nasarace/race-go/universe"
	"github.com/nasarace/race-go/wire"

	"github.com/nasarace/race-go/hk"
)

var (
	build     string
	buildtime string

	universePath string
	monitorPort  int
	embedded     bool
)

func init() {
	flag.StringVar(&universePath, "universe", "/race/u0", "universe path")
	flag.IntVar(&monitorPort, "monitor-port", 0, "TCP port for the monitor report stream (0 disables)")
	flag.BoolVar(&embedded, "embedded", false, "keep the process alive after the universe terminates")
}

func printVer() {
	fmt.Printf("race-go launcher, build %s %s\n", build, buildtime)
}

func installSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("signal received, terminating universe %s", universePath)
		cancel()
	}()
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	if len(os.Args) == 2 && strings.Contains(os.Args[1], "help") {
		printVer()
		flag.PrintDefaults()
		os.Exit(0)
	}
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandler(cancel)

	go hk.DefaultHK.Run()
	hk.WaitStarted()

	b := bus.New()
	clk := clock.New(clock.FromTime(time.Now()), 1.0)

	reg := wire.NewRegistry()
	wire.RegisterCoreTypes(reg)

	cfg := config.Default()
	cfg.MonitorPort = monitorPort

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		nlog.Errorf("failed to generate federation secret: %v", err)
		os.Exit(1)
	}

	controllerPath := universePath + "/launcher"
	m := master.New(universePath, cfg, b, clk, secret, controllerPath)

	mon := monitor.New(universePath+"/monitor", func(path string, msg any, sender string) {
		if k, ok := m.Lookup(path); ok {
			k.Tell(msg, sender)
		}
	}, cfg.HeartbeatInterval, nil)
	if cfg.MonitorPort != 0 {
		if err := mon.ListenReport(cfg.MonitorPort); err != nil {
			nlog.Errorf("monitor report listener failed: %v", err)
		}
		defer mon.CloseReport()
	}
	stopMonitor := mon.Start()
	defer stopMonitor()

	negotiator := provider.New(universePath+"/provider", b, func(path string, msg any, sender string) {
		if k, ok := m.Lookup(path); ok {
			k.Tell(msg, sender)
		}
	})
	defer negotiator.Close()

	descriptors := demoDescriptors()
	if err := m.Create(ctx, descriptors, nil); err != nil {
		nlog.Errorf("create phase failed: %v", err)
		os.Exit(1)
	}
	for _, d := range descriptors {
		mon.Register(universePath+"/"+d.Name, 0)
	}
	if err := m.Init(ctx, nil); err != nil {
		nlog.Errorf("init phase failed: %v", err)
		os.Exit(1)
	}
	if err := m.Start(ctx); err != nil {
		nlog.Errorf("start phase failed: %v", err)
		os.Exit(1)
	}

	rt := universe.New(func() { os.Exit(0) })
	rt.SetEmbedded(embedded)
	rt.Register(universePath, m)

	<-ctx.Done()

	m.Terminate(context.Background(), controllerPath)
	m.Shutdown()
	rt.Terminated(universePath)
}

// demoDescriptors returns a minimal actor set so the launcher can stand
// up a universe without an external configuration source; real
// deployments replace this with descriptors loaded from a manifest.
func demoDescriptors() []master.ActorDescriptor {
	return []master.ActorDescriptor{
		{Name: "echo", Factory: func(path string) actor.Behavior {
			return &echoBehavior{path: path}
		}},
	}
}

type echoBehavior struct {
	actor.BaseBehavior
	path string
}

func (e *echoBehavior) OnInitialize(ctx context.Context, cfg any) bool {
	nlog.Infof("%s initialized", e.path)
	return true
}
