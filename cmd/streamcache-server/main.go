// Command streamcache-server is the WebSocket front end for the streaming
// cache core: it upgrades HTTP connections on a configured path, runs one
// session.Handler per connection, and sweeps idle streams on a timer.
// Grounded on the teacher's server-node-golang/ listener-plus-background-
// goroutine wiring, restructured here as an errgroup of listener +
// background-sweep goroutines behind a single shutdown signal rather than
// separate ad-hoc goroutines.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/launix-de/streamcache/internal/bufpool"
	"github.com/launix-de/streamcache/internal/config"
	"github.com/launix-de/streamcache/internal/logging"
	"github.com/launix-de/streamcache/internal/registry"
	"github.com/launix-de/streamcache/internal/session"
)

func main() {
	cfg, err := config.ParseServerFlags(flag.NewFlagSet("streamcache-server", flag.ExitOnError), os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logging.New(cfg.Verbose, os.Stderr)

	reg, err := registry.New(cfg.CacheDir)
	if err != nil {
		log.Error().Err(err).Str("cacheDir", cfg.CacheDir).Msg("failed to open cache directory")
		os.Exit(1)
	}
	pool := bufpool.New(cfg.BufferSize, cfg.PoolSize)

	onexit.Register(func() {
		log.Info().Msg("shutting down: removing remaining streams")
		reg.Shutdown()
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.BufferSize,
		WriteBufferSize: cfg.BufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		serveConnection(ctx, conn, reg, pool, log)
	})

	server := &http.Server{
		Addr:    addrFor(cfg.Port),
		Handler: mux,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Int("port", cfg.Port).Str("path", cfg.Path).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				removed := reg.CleanupOldStreams(cfg.StreamTTL)
				if len(removed) > 0 {
					log.Info().Int("count", len(removed)).Msg("GC sweep removed idle streams")
				}
			}
		}
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		reg.Shutdown()
		os.Exit(1)
	}

	reg.Shutdown()
	log.Info().Msg("clean shutdown")
}

func addrFor(port int) string {
	return ":" + strconv.Itoa(port)
}

// connSender adapts *websocket.Conn to session.Sender. Writes from multiple
// goroutines on one connection are not safe per gorilla/websocket's
// contract, but a connection has exactly one reader/writer goroutine here
// (serveConnection), so no additional locking is needed.
type connSender struct {
	conn *websocket.Conn
}

func (s connSender) SendText(b []byte) error   { return s.conn.WriteMessage(websocket.TextMessage, b) }
func (s connSender) SendBinary(b []byte) error { return s.conn.WriteMessage(websocket.BinaryMessage, b) }

func serveConnection(ctx context.Context, conn *websocket.Conn, reg *registry.Registry, pool *bufpool.Pool, log zerolog.Logger) {
	defer conn.Close()

	handler := session.New(reg, connSender{conn: conn}, log)
	defer handler.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for {
		msgType, r, err := conn.NextReader()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			data, err := io.ReadAll(r)
			if err != nil {
				return
			}
			handler.HandleText(data)
		case websocket.BinaryMessage:
			buf := pool.Acquire()
			data, err := readFrame(r, buf)
			if err != nil {
				return
			}
			handler.HandleBinary(data)
			pool.Release(buf)
		}
	}
}

// readFrame drains r (one WebSocket binary frame) into buf, growing buf if
// the frame exceeds its length. The pool only reclaims buf on Release if its
// length still matches the pool's fixed size, so a grown buffer is simply
// not retained - an allocation overflow, not a pool-contract violation.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	n := 0
	for {
		if n == len(buf) {
			buf = append(buf, make([]byte, len(buf))...)
		}
		m, err := r.Read(buf[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if m == 0 {
			break
		}
	}
	return buf[:n], nil
}
