package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"maestro/internal/ipc"
)

const usage = `usage: maestro-ctl [--socket PATH] COMMAND [ARG]

commands:
  textmode      switch the daemon to typed-command mode
  recalibrate   rerun microphone calibration
  wake WORD     change the activation phrase
  quit          stop the daemon
`

func main() {
	socketPath := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket path")
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0]}
	if len(args) > 1 {
		msg.Arg = args[1]
	}
	if msg.Cmd == "wake" && msg.Arg == "" {
		fmt.Fprintln(os.Stderr, "wake needs the new wake word as an argument")
		os.Exit(2)
	}

	if err := ipc.Send(*socketPath, msg); err != nil {
		fmt.Println("maestro-daemon not running:", err)
		os.Exit(1)
	}
}
