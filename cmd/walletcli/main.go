// Command walletcli is a line-oriented terminal client for walletd.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/dispatch"
	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:7676", "server address")
	framing := flag.String("framing", "length", "wire framing (length, legacy)")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	f, err := protocol.ParseFraming(*framing)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	nc, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer nc.Close()

	fmt.Println("Welcome to Cryptocurrency Wallet Manager.")
	if err := newSession(nc, f).run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
		os.Exit(1)
	}
}

// session tracks the identity the server last reported for this connection.
type session struct {
	conn     io.Writer
	framing  protocol.Framing
	reader   protocol.Reader
	identity string
}

func newSession(conn io.ReadWriter, framing protocol.Framing) *session {
	return &session{
		conn:     conn,
		framing:  framing,
		reader:   protocol.NewReader(conn, framing, protocol.DefaultMaxFrame),
		identity: domain.Guest,
	}
}

// run reads commands from in until EOF or quit.
func (s *session) run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		s.prompt(out)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, err := s.send(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, strings.TrimRight(resp.Message, "\n"))

		if strings.Fields(line)[0] == "quit" {
			return nil
		}
	}
}

func (s *session) prompt(out io.Writer) {
	if s.identity == domain.Guest {
		fmt.Fprintln(out, "You are currently a guest.")
	} else {
		fmt.Fprintf(out, "You are currently logged in as %s.\n", s.identity)
	}
	fmt.Fprint(out, "=> ")
}

// send issues one command and waits for its response.
func (s *session) send(command string) (dispatch.Response, error) {
	payload, err := json.Marshal(dispatch.Request{Sender: s.identity, Command: command})
	if err != nil {
		return dispatch.Response{}, err
	}
	if err := protocol.WriteFrame(s.conn, s.framing, payload); err != nil {
		return dispatch.Response{}, fmt.Errorf("send: %w", err)
	}

	frame, err := s.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dispatch.Response{}, errors.New("server closed the connection")
		}
		return dispatch.Response{}, fmt.Errorf("receive: %w", err)
	}

	var resp dispatch.Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return dispatch.Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Recipient != "" {
		s.identity = resp.Recipient
	}
	return resp, nil
}
