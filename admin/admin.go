// Package admin serves the side listener for operators: a liveness probe and
// a statistics snapshot. It runs on its own address, separate from the
// hand-rolled request engine.
package admin

import (
	"context"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/stats"
	"github.com/nczempin/minihttpd/store"
)

// Stats is the body of GET /stats
type Stats struct {
	Visits int64 `json:"visits"`
	Users  int   `json:"users"`
	stats.Snapshot
}

// New builds the admin application
func New(counter *stats.Counter, conns *stats.Connections, users *store.Users, log zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ServerHeader:          "minihttpd-admin",
		DisableStartupMessage: true,
		Prefork:               false,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		n, err := users.Count(c.UserContext())
		if err != nil {
			log.Error().Err(err).Msg("admin: count users failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user count unavailable"})
		}
		return c.JSON(Stats{
			Visits:   counter.Value(),
			Users:    n,
			Snapshot: conns.Snapshot(),
		})
	})

	return app
}

// Run serves app on addr until ctx is cancelled. Binding happens before Run
// returns control to the serve goroutine, so a bad address fails fast.
func Run(ctx context.Context, app *fiber.App, addr string, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "admin listen %s", addr)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listener(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := app.Shutdown(); err != nil {
			return err
		}
		return <-errCh
	}
}
