// Package control implements the line-delimited JSON-over-loopback-TCP
// protocol used to talk to the bridge helper process. Every call opens a
// fresh connection, since the protocol is one request/response per
// connection with no persistent session. Grounded on the manager's HTTP
// status-endpoint shape and the netns package's one-shot JSON-RPC client,
// generalized to a raw TCP line protocol per this spec.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

// DefaultPort is the bridge's default control-port.
const DefaultPort = 7999

const protocolSchema = 1

// Command names understood by the bridge.
const (
	CmdPing     = "ping"
	CmdStatus   = "status"
	CmdPause    = "pause"
	CmdResume   = "resume"
	CmdShutdown = "shutdown"
)

// Response is the typical shape of a bridge control reply.
type Response struct {
	OK         bool   `json:"ok"`
	Paused     *bool  `json:"paused,omitempty"`
	SerialOpen *bool  `json:"serial_open,omitempty"`
	Version    string `json:"version,omitempty"`
	Message    string `json:"message,omitempty"`
}

type request struct {
	Schema int    `json:"schema"`
	Cmd    string `json:"cmd"`
}

// Client issues control commands against one loopback port.
type Client struct {
	addr string
}

// NewClient constructs a Client for 127.0.0.1:port.
func NewClient(port int) *Client {
	return &Client{addr: fmt.Sprintf("127.0.0.1:%d", port)}
}

// Call opens a fresh connection, sends cmd, and decodes the JSON response.
// timeout bounds the entire call end-to-end, split across connect/write/read
// phases.
func (c *Client) Call(cmd string, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)

	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return Response{}, apierr.Wrap(apierr.CodeHTTPRequestFailed, "failed to connect to bridge control port", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return Response{}, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
	}

	payload, err := json.Marshal(request{Schema: protocolSchema, Cmd: cmd})
	if err != nil {
		return Response{}, apierr.Wrap(apierr.CodeHTTPRequestFailed, "failed to encode control request", err)
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		return Response{}, apierr.Wrap(apierr.CodeHTTPRequestFailed, "failed to write control request", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}

	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return Response{}, apierr.Wrap(apierr.CodeHTTPReadFailed, "failed to read control response", err)
	}
	return resp, nil
}

// Ping reports whether the bridge is alive and responding ok==true.
func (c *Client) Ping(timeout time.Duration) bool {
	resp, err := c.Call(CmdPing, timeout)
	return err == nil && resp.OK
}
