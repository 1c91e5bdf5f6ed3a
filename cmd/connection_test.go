// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// bridgeServer plays a serial bridge: it sends frames, echoes one write back
// as text, then closes cleanly
func bridgeServer(t *testing.T, frames func(c *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		frames(c)
		c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_ModemLines(t *testing.T) {
	addr := bridgeServer(t, func(c *websocket.Conn) {
		c.WriteMessage(websocket.TextMessage, []byte("+AT: OK\r\n+VER: "))
		c.WriteMessage(websocket.BinaryMessage, nil)
		c.WriteMessage(websocket.BinaryMessage, []byte("4.0.11\r\n"))

		// Echo one command back
		_, cmd, err := c.ReadMessage()
		if err == nil {
			c.WriteMessage(websocket.TextMessage, append([]byte("echo "), cmd...))
		}
	})

	conn, err := OpenWebSocketConnection(addr, "", "", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	var lines []string
	for len(lines) < 2 && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if len(lines) != 2 || lines[0] != "+AT: OK" || lines[1] != "+VER: 4.0.11" {
		t.Fatalf("lines = %q", lines)
	}

	if _, err := io.WriteString(conn, "AT\r\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !scanner.Scan() || scanner.Text() != "echo AT" {
		t.Fatalf("echo = %q, err %v", scanner.Text(), scanner.Err())
	}

	// Clean close reads as EOF, then the connection stays closed
	if scanner.Scan() {
		t.Fatalf("unexpected line %q after close", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error = %v, want clean EOF", err)
	}
	if _, err := conn.Read(make([]byte, 8)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Read after close = %v, want ErrConnectionClosed", err)
	}
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	_, err := OpenWebSocketConnection("http://localhost/ws", "", "", false)
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme: http") {
		t.Fatalf("error = %v", err)
	}
}

func TestGetPassword_FromEnvironment(t *testing.T) {
	t.Setenv(passwordEnv, "hunter2")
	pw, err := GetPassword()
	if err != nil || pw != "hunter2" {
		t.Fatalf("GetPassword() = %q, %v", pw, err)
	}
}
