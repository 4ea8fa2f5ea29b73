package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dozenflow-api/domain"
)

const healthTimeout = 2 * time.Second

// Register wires up all API routes on the provided Echo instance. A nil auth
// leaves the task routes open.
func Register(e *echo.Echo, svc TaskService, auth Authenticator, opts ServerOptions, logger *log.Logger) {
	var guard []echo.MiddlewareFunc
	if auth != nil {
		guard = append(guard, RequireAuth(auth))
	}

	e.GET("/api/tasks", listTasks(svc), guard...)
	e.POST("/api/tasks", createTask(svc, opts.Idempotency, logger), guard...)
	e.GET("/api/tasks/:id", getTask(svc), guard...)
	e.PUT("/api/tasks/:id", updateTask(svc), guard...)
	e.DELETE("/api/tasks/:id", deleteTask(svc), guard...)

	e.GET("/healthz", healthz(svc, logger))
	e.GET("/v3/api-docs", apiDocs(opts.Statuses))
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/v3/api-docs")
	})
}

func listTasks(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := svc.List(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newTaskResponses(tasks))
	}
}

func getTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskID(c)
		if err != nil {
			return err
		}
		task, err := svc.Get(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newTaskResponse(task))
	}
}

func createTask(svc TaskService, idem IdempotencyStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req taskRequest
		if err := decodeTask(c, &req); err != nil {
			return err
		}
		ctx := c.Request().Context()

		key := c.Request().Header.Get(headerIdempotencyKey)
		if key == "" || idem == nil {
			task, err := svc.Create(ctx, req.draft())
			if err != nil {
				return err
			}
			return c.JSON(http.StatusCreated, newTaskResponse(task))
		}

		fresh, err := idem.Reserve(ctx, key)
		if err != nil {
			return fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !fresh {
			return replayCreate(c, svc, idem, key)
		}

		task, err := svc.Create(ctx, req.draft())
		if err != nil {
			if relErr := idem.Release(ctx, key); relErr != nil && logger != nil {
				logger.WithError(relErr).WithField("idempotency_key", key).Warn("release idempotency key")
			}
			return err
		}
		if err := idem.Complete(ctx, key, task.ID); err != nil && logger != nil {
			// the pending marker expires on its own after the pending TTL
			logger.WithError(err).WithField("idempotency_key", key).Warn("complete idempotency key")
		}
		return c.JSON(http.StatusCreated, newTaskResponse(task))
	}
}

// replayCreate answers a repeated create with the task the first request
// produced.
func replayCreate(c echo.Context, svc TaskService, idem IdempotencyStore, key string) error {
	ctx := c.Request().Context()
	id, done, err := idem.Lookup(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !done {
		return &domain.Error{Kind: domain.KindConflict, Msg: "Request with Idempotency-Key " + key + " is already being processed"}
	}
	task, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Response().Header().Set(headerIdempotentReplayed, "true")
	return c.JSON(http.StatusCreated, newTaskResponse(task))
}

func updateTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskID(c)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		var req taskRequest
		if err := decodeTask(c, &req); err != nil {
			// an unknown id is reported as 404 whatever the body looks like
			if _, getErr := svc.Get(ctx, id); getErr != nil {
				return getErr
			}
			return err
		}
		task, err := svc.Update(ctx, id, req.draft())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newTaskResponse(task))
	}
}

func deleteTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskID(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.Request().Context(), id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func healthz(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			if logger != nil {
				logger.WithError(err).Warn("health check failed")
			}
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

func apiDocs(statuses []domain.Status) echo.HandlerFunc {
	doc, docErr := buildAPIDoc(statuses)
	return func(c echo.Context) error {
		if docErr != nil {
			return docErr
		}
		return c.JSON(http.StatusOK, doc)
	}
}

func taskID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &domain.Error{Kind: domain.KindBadRequest, Msg: "Invalid task id: " + raw, Err: err}
	}
	return id, nil
}

func decodeTask(c echo.Context, req *taskRequest) error {
	err := c.Echo().JSONSerializer.Deserialize(c, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBodyTooLarge):
		return &domain.Error{Kind: domain.KindBadRequest, Msg: "Request body too large", Err: err}
	case errors.Is(err, errInvalidGzip):
		return &domain.Error{Kind: domain.KindBadRequest, Msg: "invalid gzip body", Err: err}
	default:
		return &domain.Error{Kind: domain.KindBadRequest, Msg: "Malformed JSON request", Err: err}
	}
}
