// Roller simulator: speaks the firmware line protocol on a serial device so the
// daemon can be run without hardware. With -pair it creates the PTY pair itself.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RollerLink/internal/device"
	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

func main() {
	util.SetupLogger()

	dev := flag.String("dev", "/tmp/ttyROLLER", "serial device the simulator listens on")
	pair := flag.String("pair", "", "if set, create a socat PTY pair linking -dev to this path")
	baud := flag.Int("baud", 115200, "baud rate")
	format := flag.String("format", "csv", "wire format (csv or json)")
	interval := flag.Int("interval", 500, "ms between telemetry frames")
	jamAfter := flag.Duration("jam-after", 0, "jam motor B after this long (0 disables)")
	list := flag.Bool("list", false, "list serial ports and exit")
	flag.Parse()

	if *list {
		ports, err := device.SerialPorts()
		if err != nil {
			log.Fatalf("list ports: %v", err)
		}
		for _, p := range ports {
			util.Info("[sim] port %s", p)
		}
		return
	}

	if *pair != "" {
		socat := util.NewSocatManager()
		if err := socat.CreatePair(*dev, *pair); err != nil {
			log.Fatalf("create pty pair: %v", err)
		}
		defer socat.Cleanup()
	}

	codec, err := parser.New(*format)
	if err != nil {
		log.Fatalf("%v", err)
	}
	port, err := device.NewSerialDevice(*dev, *baud)
	if err != nil {
		log.Fatalf("open serial: %v", err)
	}
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	roller := device.NewRoller(codec, time.Duration(*interval)*time.Millisecond)
	if *jamAfter > 0 {
		time.AfterFunc(*jamAfter, func() {
			util.Warn("[sim] jamming motor %s", model.MotorB)
			roller.Jam(model.MotorB)
		})
	}

	util.Info("[sim] roller simulator on %s (%s, every %dms)", *dev, *format, *interval)
	if err := roller.Serve(ctx, port); err != nil {
		util.Error("%v", err)
	}
}
