package plugin

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
)

// Handler is the interface that plugin authors implement. The host calls
// Run once per job.
type Handler interface {
	Capabilities() CapabilitiesMsg
	Run(req Request) Response
}

// Serve starts a Unix socket listener and serves requests from the host
// using the given handler. It prints the handshake line to stdout so the
// host can discover the socket. Serve blocks until the listener fails.
func Serve(handler Handler) error {
	sockDir, err := os.MkdirTemp("", "zupport-plugin-*")
	if err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	sockPath := filepath.Join(sockDir, "plugin.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	hs := Handshake{Version: HandshakeVersion, Network: "unix", Address: sockPath}
	if _, err := fmt.Fprintln(os.Stdout, hs.String()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go ServeConnection(handler, conn)
	}
}

// ServeConnection answers requests on conn until it is closed.
func ServeConnection(handler Handler, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return // connection closed or broken
		}

		var resp Response
		switch req.Method {
		case MethodCapabilities:
			caps := handler.Capabilities()
			resp.Caps = &caps
		case MethodRun:
			resp = handler.Run(req)
			if resp.CallID == "" {
				resp.CallID = req.ID
			}
		default:
			resp.Error = fmt.Sprintf("unknown method %q", req.Method)
		}

		if err := WriteMessage(conn, &resp); err != nil {
			slog.Error("plugin server: write response", "error", err)
			return
		}
	}
}
