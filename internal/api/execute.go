package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sandboxd/internal/executor"
	"sandboxd/internal/metrics"
	"sandboxd/internal/runrequest"
	"sandboxd/internal/sandboxerr"
	"sandboxd/internal/tarmerge"
)

// handleExecute implements POST /execute/: a multipart form carrying a
// "config" field (the JSON command list) and an optional "environment"
// file (a gzip tar overlay applied on top of a stored base environment).
func (s *Server) handleExecute(c *gin.Context) {
	in, err := s.buildExecuteInput(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.runExecute(c, in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// buildExecuteInput parses the request body into an executor.Input,
// materializing any overlay/base tar merge into a fresh stored entry.
func (s *Server) buildExecuteInput(c *gin.Context) (executor.Input, error) {
	configField := c.Request.FormValue("config")
	if configField == "" {
		return executor.Input{}, sandboxerr.NewBadRequest("missing required \"config\" form field")
	}

	req, err := runrequest.Parse([]byte(configField), s.cfg.ExecuteTimeout)
	if err != nil {
		return executor.Input{}, err
	}

	var overlay []byte
	if fileHeader, ferr := c.FormFile("environment"); ferr == nil {
		f, err := fileHeader.Open()
		if err != nil {
			return executor.Input{}, sandboxerr.NewBadRequest("could not open uploaded environment: %v", err)
		}
		defer f.Close()
		overlay, err = io.ReadAll(f)
		if err != nil {
			return executor.Input{}, sandboxerr.NewBadRequest("could not read uploaded environment: %v", err)
		}
	}

	var base []byte
	if req.Environment != "" {
		path, ok := s.store.Get(req.Environment)
		if !ok {
			return executor.Input{}, sandboxerr.NewNotFound("environment " + req.Environment)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return executor.Input{}, sandboxerr.NewNotFound("environment " + req.Environment)
		}
		base = data
	}

	in := executor.Input{
		Commands:   req.Commands,
		ResultPath: req.ResultPath,
		Save:       req.Save,
		SaveAs:     req.SaveAs,
	}

	switch {
	case len(overlay) == 0 && len(base) == 0:
		// no input environment at all
	case len(overlay) == 0:
		in.EnvID = req.Environment
	default:
		merged, err := tarmerge.Merge(overlay, base)
		if err != nil {
			return executor.Input{}, sandboxerr.NewBadRequest("could not merge uploaded environment: %v", err)
		}
		id := uuid.New().String()
		if err := s.store.Put(id, merged); err != nil {
			return executor.Input{}, err
		}
		in.EnvID = id
	}

	return in, nil
}

// runExecute acquires a pool slot, runs in against it, and always
// releases the slot back to the pool before returning.
func (s *Server) runExecute(c *gin.Context, in executor.Input) (*executor.Result, error) {
	start := time.Now()

	slot, err := s.pool.Acquire(c.Request.Context(), s.cfg.WaitForContainerDuration)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(slot)

	result, err := s.executor.Run(c.Request.Context(), slot, in)
	duration := time.Since(start)
	if err != nil {
		metrics.Get().RecordExecution("error", duration)
		return nil, err
	}
	metrics.Get().RecordExecution(executionLabel(result.Status), duration)
	return result, nil
}

func executionLabel(status int) string {
	switch {
	case status == 0:
		return "success"
	case status < 0:
		return "sandbox_error"
	default:
		return "command_failure"
	}
}

// respondError maps the sandboxerr taxonomy onto HTTP status codes;
// anything unrecognized is an unhandled failure reported as a 500.
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		badRequest  *sandboxerr.BadRequestError
		notFound    *sandboxerr.NotFoundError
		unavailable *sandboxerr.UnavailableError
		unsafePath  *sandboxerr.UnsafePathError
	)
	switch {
	case errors.As(err, &badRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": badRequest.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.Error()})
	case errors.As(err, &unsafePath):
		c.JSON(http.StatusBadRequest, gin.H{"error": unsafePath.Error()})
	default:
		s.log.Error("api: request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "internal error",
			"status":     int(sandboxerr.Unknown),
			"sandboxerr": err.Error(),
		})
	}
}
