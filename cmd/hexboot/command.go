package main

import (
	"github.com/docopt/docopt-go"
)

var usage = `hexboot - firmware bootload orchestrator

Usage:
  hexboot load <hex> [--port=<path> | --ble=<name> | --ws=<host>] [options]
  hexboot reset [--port=<path> | --ble=<name> | --ws=<host>] [options]
  hexboot ports
  hexboot targets
  hexboot help

Options:
  -t --target=<name>  The target profile [default: pic18].
  -c --config=<path>  Path to a YAML target description.
  -s --space=<n>      The memory space index [default: 0].
  -u --unit=<id>      The transport unit address [default: 1].
  -b --baud=<rate>    The serial baud rate [default: 115200].
  -P --passthru       Enable pass-through on the adapter first.
  -v --verbose        Enable debug logging.
  -h --help           Show this screen.
`

type command struct {
	// commands
	cLoad    bool
	cReset   bool
	cPorts   bool
	cTargets bool
	cHelp    bool

	// arguments
	aHex string

	// options
	oPort     string
	oBLE      string
	oWS       string
	oTarget   string
	oConfig   string
	oSpace    int
	oUnit     int
	oBaud     int
	oPassthru bool
	oVerbose  bool
}

func parseCommand() *command {
	a, err := docopt.Parse(usage, nil, true, "", false)
	exitIfSet(err)

	return &command{
		// commands
		cLoad:    getBool(a["load"]),
		cReset:   getBool(a["reset"]),
		cPorts:   getBool(a["ports"]),
		cTargets: getBool(a["targets"]),
		cHelp:    getBool(a["help"]),

		// arguments
		aHex: getString(a["<hex>"]),

		// options
		oPort:     getString(a["--port"]),
		oBLE:      getString(a["--ble"]),
		oWS:       getString(a["--ws"]),
		oTarget:   getString(a["--target"]),
		oConfig:   getString(a["--config"]),
		oSpace:    getInt(a["--space"]),
		oUnit:     getInt(a["--unit"]),
		oBaud:     getInt(a["--baud"]),
		oPassthru: getBool(a["--passthru"]),
		oVerbose:  getBool(a["--verbose"]),
	}
}
