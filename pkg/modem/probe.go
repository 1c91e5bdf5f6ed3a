// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// Probe checks that an AT modem answers on rw and returns its firmware
// version. The caller closes rw afterwards.
func Probe(rw io.ReadWriter, timeout time.Duration) (string, error) {
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(rw)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines <- line
			}
		}
	}()

	deadline := time.After(timeout)
	await := func(cmd, prefix string) (string, error) {
		if _, err := io.WriteString(rw, cmd+"\r\n"); err != nil {
			return "", fmt.Errorf("write %s: %w", cmd, err)
		}
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return "", &CommandError{Command: cmd, Err: io.EOF}
				}
				if _, body, ok := splitReply(line); ok && strings.HasPrefix(line, prefix) {
					return body, nil
				}
			case <-deadline:
				return "", &CommandError{Command: cmd, Err: ErrTimeout}
			}
		}
	}

	body, err := await("AT", "+AT:")
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(body, "OK") {
		return "", &CommandError{Command: "AT", Reply: body, Err: fmt.Errorf("unexpected reply")}
	}

	version, err := await("AT+VER", "+VER:")
	if err != nil {
		return "", err
	}
	return version, nil
}
