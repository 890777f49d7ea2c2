package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const streamKeepAlive = 30 * time.Second

// streamBoard sends a board snapshot on connect and after every change.
func streamBoard(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch, cancel := b.Subscribe()
		defer cancel()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		c.Response().WriteHeader(http.StatusOK)
		send := true
		for {
			if send {
				data, err := sonic.Marshal(boardResponse{Columns: b.Columns(), Failures: b.Failures()})
				if err != nil {
					logger.WithError(err).Error("encode board snapshot")
					return err
				}
				if err := writeEvent(c, data); err != nil {
					logger.WithError(err).Debug("stream client gone")
					return nil
				}
				flusher.Flush()
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				send = true
			case <-keepAlive.C:
				send = false
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(c echo.Context, data []byte) error {
	w := c.Response()
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
