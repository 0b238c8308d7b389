// Command streamcache-client drives the two client-side contracts of §4.7:
// an upload (START -> N binary frames -> STOP) and a download (a GET loop
// terminated by an end-of-stream signal). Grounded on the teacher's
// scm/network.go client-dial path, adapted to own request-level timeouts and
// retries per connection since the core server never retries internally (§5).
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/launix-de/streamcache/internal/config"
	"github.com/launix-de/streamcache/internal/logging"
	"github.com/launix-de/streamcache/internal/protocol"
)

func main() {
	cfg, err := config.ParseClientFlags(flag.NewFlagSet("streamcache-client", flag.ExitOnError), os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	log := logging.New(cfg.Verbose, os.Stderr)

	if cfg.Server == "" {
		fmt.Fprintln(os.Stderr, "--server is required")
		os.Exit(2)
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.Server, nil)
	if err != nil {
		log.Error().Err(err).Str("server", cfg.Server).Msg("dial failed")
		os.Exit(1)
	}
	defer conn.Close()

	switch {
	case cfg.Input != "" && cfg.Output == "":
		if err := upload(conn, cfg, log); err != nil {
			log.Error().Err(err).Msg("upload failed")
			os.Exit(1)
		}
	case cfg.Output != "":
		if err := download(conn, cfg, log); err != nil {
			log.Error().Err(err).Msg("download failed")
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "one of --input or --output is required")
		os.Exit(2)
	}
}

// reply is the decoded shape of every server control frame (STARTED,
// STOPPED, ERROR); only the fields relevant to a given verb are populated.
type reply struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
	Message  string `json:"message"`
}

func readControl(conn *websocket.Conn) (*reply, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("expected text control frame, got message type %d", msgType)
	}
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func sendControl(conn *websocket.Conn, v map[string]any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// upload implements the upload driver contract of §4.7: START(id) -> wait
// STARTED, N binary frames of cfg.ChunkSize, STOP(id) -> wait STOPPED.
func upload(conn *websocket.Conn, cfg config.ClientConfig, log zerolog.Logger) error {
	f, err := os.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	id := uuid.NewString()
	log.Info().Str("stream", id).Str("file", cfg.Input).Msg("starting upload")

	if err := sendControl(conn, map[string]any{"type": string(protocol.Start), "streamId": id}); err != nil {
		return err
	}
	r, err := readControl(conn)
	if err != nil {
		return err
	}
	if r.Type != string(protocol.Started) {
		return fmt.Errorf("start rejected: %s", r.Message)
	}

	buf := make([]byte, cfg.ChunkSize)
	var total int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if err := sendControl(conn, map[string]any{"type": string(protocol.Stop), "streamId": id}); err != nil {
		return err
	}
	r, err = readControl(conn)
	if err != nil {
		return err
	}
	if r.Type != string(protocol.Stopped) {
		return fmt.Errorf("stop rejected: %s", r.Message)
	}

	log.Info().Str("stream", id).Int64("bytes", total).Msg("upload complete")
	return nil
}

// download implements the download driver contract of §4.7/§5: repeated
// GET(id, offset, length) with offset advancing by the returned frame's
// length, stopping on "No data available" or a short frame. Each GET is
// bounded by cfg.GetTimeout and retried up to cfg.GetRetries times; the
// server itself never retries (§5).
func download(conn *websocket.Conn, cfg config.ClientConfig, log zerolog.Logger) error {
	out, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	streamID := cfg.StreamID
	if streamID == "" {
		return errors.New("download requires --stream-id to name the streamId to fetch")
	}

	var offset int64
	for {
		data, eos, err := getWithRetry(conn, streamID, offset, cfg.GetSize, cfg.GetTimeout, cfg.GetRetries)
		if err != nil {
			return err
		}
		if eos {
			break
		}
		if _, werr := out.Write(data); werr != nil {
			return werr
		}
		offset += int64(len(data))
		if len(data) < cfg.GetSize {
			break
		}
	}

	log.Info().Str("stream", streamID).Int64("bytes", offset).Msg("download complete")
	return nil
}

func getWithRetry(conn *websocket.Conn, streamID string, offset int64, length int, timeout time.Duration, retries int) ([]byte, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		data, eos, err := getOnce(conn, streamID, offset, length, timeout)
		if err == nil {
			return data, eos, nil
		}
		lastErr = err
	}
	return nil, false, lastErr
}

func getOnce(conn *websocket.Conn, streamID string, offset int64, length int, timeout time.Duration) ([]byte, bool, error) {
	if err := sendControl(conn, map[string]any{"type": string(protocol.Get), "streamId": streamID, "offset": offset, "length": length}); err != nil {
		return nil, false, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	if msgType == websocket.BinaryMessage {
		return data, false, nil
	}

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, err
	}
	if r.Type == string(protocol.ErrVerb) && r.Message == "No data available" {
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("get rejected: %s", r.Message)
}
