package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"kanban-tracker/board"
	"kanban-tracker/domain"
	"kanban-tracker/repository"
)

const maxBodySize = 64 << 10

// Register wires up all API routes on the provided Echo instance. When reg is
// not nil request metrics are collected into it and served on /metrics.
func Register(e *echo.Echo, b Board, logger *log.Logger, reg *prometheus.Registry) {
	if reg != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "kanban",
			Registerer: reg,
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/api/stream"
			},
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	}

	e.GET("/api/tasks", listTasks(b, logger))
	e.GET("/api/board", getBoard(b, logger))
	e.POST("/api/tasks", createTask(b, logger))
	e.PATCH("/api/tasks/:id", editTask(b, logger))
	e.PUT("/api/tasks/:id/status", moveTask(b, logger))
	e.DELETE("/api/tasks/:id", deleteTask(b, logger))
	e.POST("/api/board/reload", reloadBoard(b, logger))
	e.GET("/api/stream", streamBoard(b, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// begin starts request metrics and moves the request onto the span context.
func begin(c echo.Context, logger *log.Logger, op string) *requestMetrics {
	metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, c.Path(), op)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return metrics
}

func listTasks(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "list")
		defer func() { metrics.Log(c.Response().Status, err) }()

		tasks := b.Tasks()
		metrics.SetTasksReturned(len(tasks))
		return encode(c, metrics, http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getBoard(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "board")
		defer func() { metrics.Log(c.Response().Status, err) }()

		cols := b.Columns()
		n := 0
		for _, col := range cols {
			n += len(col.Tasks)
		}
		metrics.SetTasksReturned(n)
		return encode(c, metrics, http.StatusOK, boardResponse{Columns: cols, Failures: b.Failures()})
	}
}

func createTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "create")
		var failure error
		defer func() { metrics.Log(c.Response().Status, errors.Join(err, failure)) }()

		var req createTaskRequest
		if failure = decode(c, &req); failure != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		in, failure := req.input()
		if failure != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, failure)
		}

		start := time.Now()
		task, failure := b.Create(c.Request().Context(), in)
		metrics.ObserveStore(time.Since(start))
		if failure != nil {
			metrics.SetErrorStage(stageFor(failure))
			return writeError(c, failure)
		}
		metrics.SetTaskID(task.ID)
		return encode(c, metrics, http.StatusCreated, task)
	}
}

func editTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "edit")
		var failure error
		defer func() { metrics.Log(c.Response().Status, errors.Join(err, failure)) }()

		id := c.Param("id")
		metrics.SetTaskID(id)
		var req editTaskRequest
		if failure = decode(c, &req); failure != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		changes, failure := req.changes()
		if failure != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, failure)
		}

		start := time.Now()
		task, failure := b.Edit(c.Request().Context(), id, changes)
		metrics.ObserveStore(time.Since(start))
		if failure != nil {
			metrics.SetErrorStage(stageFor(failure))
			return writeError(c, failure)
		}
		return encode(c, metrics, http.StatusOK, task)
	}
}

func moveTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "move")
		var failure error
		defer func() { metrics.Log(c.Response().Status, errors.Join(err, failure)) }()

		id := c.Param("id")
		metrics.SetTaskID(id)
		var req moveTaskRequest
		if failure = decode(c, &req); failure != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		status, failure := domain.ParseStatus(req.Status)
		if failure != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, failure)
		}

		start := time.Now()
		failure = b.Move(c.Request().Context(), id, status)
		metrics.ObserveStore(time.Since(start))
		if failure != nil {
			metrics.SetErrorStage(stageFor(failure))
			return writeError(c, failure)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "delete")
		var failure error
		defer func() { metrics.Log(c.Response().Status, errors.Join(err, failure)) }()

		id := c.Param("id")
		metrics.SetTaskID(id)
		start := time.Now()
		failure = b.Delete(c.Request().Context(), id)
		metrics.ObserveStore(time.Since(start))
		if failure != nil {
			metrics.SetErrorStage(stageFor(failure))
			return writeError(c, failure)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reloadBoard(b Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := begin(c, logger, "reload")
		var failure error
		defer func() { metrics.Log(c.Response().Status, errors.Join(err, failure)) }()

		start := time.Now()
		failure = b.Load(c.Request().Context())
		metrics.ObserveStore(time.Since(start))
		if failure != nil {
			metrics.SetErrorStage(stageFor(failure))
			return writeError(c, failure)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func encode(c echo.Context, metrics *requestMetrics, status int, v any) error {
	start := time.Now()
	data, err := sonic.Marshal(v)
	if err != nil {
		metrics.SetErrorStage("encode_response")
		return err
	}
	err = c.JSONBlob(status, data)
	metrics.ObserveEncode(time.Since(start))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, board.ErrTaskNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func stageFor(err error) string {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return "validate"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "storage"
	}
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		c.Logger().Error(err)
	}
	return c.String(status, err.Error())
}
