// Package transport is the push-event client: one long-lived JSON-lines
// connection per user, reconnected on failure.
package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tOgg1/opsdesk/internal/models"
)

// MaxLineSize bounds a single frame.
const MaxLineSize = 1 << 20

// Commands sent by the client.
const (
	CmdSubscribe = "subscribe"
	CmdTyping    = "typing"
)

// Request is a client-to-server frame.
type Request struct {
	Cmd       string `json:"cmd"`
	UserID    int64  `json:"userId,omitempty"`
	ChannelID int64  `json:"channelId,omitempty"`
}

// FrameError is the error payload of a rejected request.
type FrameError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Ack answers a subscribe request.
type Ack struct {
	OK    bool        `json:"ok"`
	Error *FrameError `json:"error,omitempty"`
}

// Envelope is a server-to-client frame after the ack.
type Envelope struct {
	OK    *bool             `json:"ok,omitempty"`
	Error *FrameError       `json:"error,omitempty"`
	Event *models.PushEvent `json:"event,omitempty"`
}

// WriteLine encodes payload as one JSON line and flushes.
func WriteLine(writer *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.WriteByte('\n'); err != nil {
		return err
	}
	return writer.Flush()
}

// ReadLine reads one trimmed line. A final unterminated line is returned
// before io.EOF.
func ReadLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
	if len(line) > MaxLineSize {
		return nil, fmt.Errorf("push frame too long")
	}
	return bytes.TrimSpace(line), nil
}

func formatFrameErr(err *FrameError) string {
	if err == nil {
		return "unknown error"
	}
	message := strings.TrimSpace(err.Message)
	if message == "" {
		message = strings.TrimSpace(err.Code)
	}
	if message == "" {
		message = "unknown error"
	}
	if strings.TrimSpace(err.Code) == "" || strings.Contains(message, err.Code) {
		return message
	}
	return fmt.Sprintf("%s (%s)", message, err.Code)
}
