// Package web serves the robot's HTTP command surface.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"tankd/internal/motor"
)

// Commander runs drive commands. *motor.Controller satisfies it.
type Commander interface {
	Do(ctx context.Context, cmd motor.Command) error
	Active() (motor.Command, bool)
}

type commandRoute struct {
	path string
	cmd  motor.Command
	ack  any
}

// Acknowledgement bodies are part of the client contract; keep keys verbatim.
var commandRoutes = []commandRoute{
	{path: "/fwd", cmd: motor.Forward, ack: map[string]bool{"Move forward": true}},
	{path: "/bwd", cmd: motor.Backward, ack: map[string]bool{"Move backward": true}},
	{path: "/right", cmd: motor.Right, ack: map[string]bool{"Turn right": true}},
	{path: "/left", cmd: motor.Left, ack: map[string]bool{"Turn left": true}},
	{path: "/stop", cmd: motor.Stop, ack: map[string]string{"command": "STOP"}},
}

func Handler(ctl Commander, status *Status, logs *LogBuffer) http.Handler {
	if status == nil {
		status = NewStatus()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.Default(), NoColor: true}))
	r.Use(middleware.Recoverer)

	for _, rt := range commandRoutes {
		r.Post(rt.path, commandHandler(ctl, status, rt.cmd, rt.ack))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			snap := status.Snapshot(time.Now().UTC())
			if cmd, busy := ctl.Active(); busy {
				snap.Active = cmd.String()
			}
			w.Header().Set("Cache-Control", "no-store")
			render.JSON(w, req, snap)
		})
		if logs != nil {
			r.Get("/logs", logs.ServeHTTP)
		}
	})

	return r
}

// ackWriteTimeout bounds writing a command's reply once the command is done.
const ackWriteTimeout = 5 * time.Second

// commandHandler answers only after the command, hold included, has finished.
//
// Time spent queued behind other commands is unbounded, so the server-wide
// write deadline is lifted while the command runs and re-armed for the reply.
// A client that gives up is noticed through the request context instead.
func commandHandler(ctl Commander, status *Status, cmd motor.Command, ack any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		start := time.Now()
		err := ctl.Do(r.Context(), cmd)
		status.Record(cmd, time.Now().UTC(), err)
		_ = rc.SetWriteDeadline(time.Now().Add(ackWriteTimeout))
		if err != nil {
			log.Printf("web: %s failed after %s: %v", cmd, time.Since(start).Round(time.Millisecond), err)
			_ = render.Render(w, r, errCommand(err))
			return
		}
		render.JSON(w, r, ack)
	}
}

// NewServer builds the listener config. Command routes manage their own write
// deadline; WriteTimeout covers everything else.
func NewServer(ctx context.Context, listenAddr string, h http.Handler, hold time.Duration) *http.Server {
	writeTimeout := 10 * time.Second
	if hold+5*time.Second > writeTimeout {
		writeTimeout = hold + 5*time.Second
	}
	return &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Requests inherit ctx so a shutdown cuts any hold short.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// Serve runs srv until ctx ends, then shuts it down.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
