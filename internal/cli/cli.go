// Package cli parses the livelink command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandStart      Command = "start"
	CommandStop       Command = "stop"
	CommandStatus     Command = "status"
	CommandTranscript Command = "transcript"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandStart:      {},
	CommandStop:       {},
	CommandStatus:     {},
	CommandTranscript: {},
	CommandDevices:    {},
	CommandDoctor:     {},
	CommandVersion:    {},
	CommandHelp:       {},
}

// Parsed is the resolved invocation.
type Parsed struct {
	Command    Command
	ConfigPath string
	// NoCamera runs an audio-only session regardless of camera.enable.
	NoCamera bool
	Debug    bool
	ShowHelp bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--no-camera":
			parsed.NoCamera = true
		case "--debug":
			parsed.Debug = true
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--no-camera] [--debug] <command>

Commands:
  start       Start a live session and run until stopped
  stop        Stop the running live session
  status      Print current session state
  transcript  Print the current turn's transcript
  devices     List available input devices
  doctor      Run configuration and environment checks
  version     Print version information
  help        Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/livelink/config.jsonc)
  --no-camera     Stream audio only
  --debug         Log at debug level
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
