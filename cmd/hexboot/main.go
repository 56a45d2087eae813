package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cstech/hexboot/pkg/ble"
	"github.com/cstech/hexboot/pkg/boot"
	"github.com/cstech/hexboot/pkg/serial"
	"github.com/cstech/hexboot/pkg/target"
	"github.com/cstech/hexboot/pkg/utils"
	"github.com/cstech/hexboot/pkg/ws"
)

func main() {
	// parse command
	cmd := parseCommand()

	// configure logging
	logrus.SetLevel(logrus.WarnLevel)
	if cmd.oVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// run desired command
	if cmd.cLoad {
		load(cmd)
	} else if cmd.cReset {
		reset(cmd)
	} else if cmd.cPorts {
		ports()
	} else if cmd.cTargets {
		targets()
	} else if cmd.cHelp {
		fmt.Print(usage)
	}
}

func load(cmd *command) {
	// resolve target
	cfg := getTarget(cmd)

	// open transport
	transport, closer := openTransport(cmd)
	defer closer()

	// show image info
	info, err := os.Stat(cmd.aHex)
	exitIfSet(err)
	utils.Log(os.Stdout, fmt.Sprintf("Image: %s (%s)", filepath.Base(cmd.aHex), bytefmt.ByteSize(uint64(info.Size()))))

	// prepare sink
	sink := boot.SinkFuncs{
		StatusFunc: func(message string) {
			utils.Log(os.Stdout, message)
		},
		ProgressFunc: func(percent float64) {
			fmt.Printf("\r%3.0f%%", percent)
			if percent >= 100 {
				fmt.Println()
			}
		},
	}

	// create session
	session, err := boot.NewSession(transport, cfg, cmd.oSpace, sink)
	exitIfSet(err)
	session.SetUnit(byte(cmd.oUnit))

	// abort on interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	go func() {
		<-quit
		session.Abort()
	}()

	// enable pass-through if requested
	if cmd.oPassthru {
		if !cfg.SupportsPassthru {
			exitWithError(fmt.Sprintf("target %q does not support pass-through", cfg.Name))
		}
		exitIfSet(boot.PassthruOn(context.Background(), transport, boot.CommandOptions{
			Unit:    byte(cmd.oUnit),
			Timeout: time.Second,
		}))
	}

	// run session
	exitIfSet(session.LoadFile(context.Background(), cmd.aHex))

	utils.Log(os.Stdout, "Done")
}

func reset(cmd *command) {
	// open transport
	transport, closer := openTransport(cmd)
	defer closer()

	// reset device
	exitIfSet(boot.Reset(context.Background(), transport, boot.CommandOptions{
		Unit:    byte(cmd.oUnit),
		Timeout: time.Second,
	}))
}

func ports() {
	// list serial ports
	list, err := serial.ListPorts()
	exitIfSet(err)
	for _, port := range list {
		fmt.Println(port)
	}
}

func targets() {
	// list built-in profiles with their spaces
	for _, name := range target.ProfileNames() {
		cfg := lo.Must(target.Profile(name))
		spaces := lo.Map(cfg.Spaces, func(space target.Space, _ int) string {
			return space.Name
		})
		fmt.Printf("%s (%s)\n", name, strings.Join(spaces, ", "))
	}
}

func getTarget(cmd *command) *target.Config {
	// prefer an explicit description file
	if cmd.oConfig != "" {
		cfg, err := target.LoadConfig(cmd.oConfig)
		exitIfSet(err)
		return cfg
	}

	// fall back to a built-in profile
	cfg, err := target.Profile(cmd.oTarget)
	exitIfSet(err)

	return cfg
}

func openTransport(cmd *command) (boot.Transport, func()) {
	// BLE adapter
	if cmd.oBLE != "" {
		ch, err := ble.Connect(context.Background(), cmd.oBLE)
		if err != nil {
			exitTransport(err)
		}
		return ch, func() { _ = ch.Close() }
	}

	// WebSocket gateway
	if cmd.oWS != "" {
		ch, err := ws.Dial(context.Background(), cmd.oWS)
		if err != nil {
			exitTransport(err)
		}
		return ch, func() { _ = ch.Close() }
	}

	// default to the first serial port
	path := cmd.oPort
	if path == "" {
		list, err := serial.ListPorts()
		if err != nil || len(list) == 0 {
			exitTransport(fmt.Errorf("no serial ports found"))
		}
		path = list[0]
	}
	master, err := serial.Open(path, cmd.oBaud)
	if err != nil {
		exitTransport(err)
	}

	return master, func() { _ = master.Close() }
}
