// Package ipc carries control messages from maestro-ctl to the daemon over a
// unix socket, one JSON message per connection.
package ipc

import (
	"encoding/json"
	"fmt"
	log "log/slog"
	"net"
	"os"
)

// DefaultSocketPath is where the daemon listens unless overridden.
const DefaultSocketPath = "/tmp/maestro.sock"

// ControlMessage is a single daemon command. Arg carries the optional
// payload, e.g. the new wake word for "wake".
type ControlMessage struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

// StartServer listens on socketPath and invokes handler for every message.
// The accept loop runs in the background.
func StartServer(socketPath string, handler func(ControlMessage)) error {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Debug("ipc accept failed", "err", err)
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return nil
}

func handleConn(conn net.Conn, handler func(ControlMessage)) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("ipc decode failed", "err", err)
		return
	}
	handler(msg)
}

// Send delivers one command to a running daemon.
func Send(socketPath string, msg ControlMessage) error {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	return json.NewEncoder(conn).Encode(msg)
}
