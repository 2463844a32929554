// Package runrequest validates and normalizes the client-supplied
// command array plus options (component E): environ, result_path,
// save, environment.
package runrequest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sandboxd/internal/sandboxerr"
)

// Command is one normalized command to run inside a sandbox.
type Command struct {
	Command       string
	Timeout       time.Duration
	IgnoreFailure bool
	Environ       map[string]string
}

// RunRequest is the fully parsed and normalized /execute/ request body.
type RunRequest struct {
	Commands    []Command
	ResultPath  string
	Save        bool
	SaveAs      string // explicit overwrite-on-save id; empty means "fresh UUID"
	Environment string
}

// rawRequest mirrors the uploaded JSON config's wire schema before normalization.
type rawRequest struct {
	Commands    []json.RawMessage      `json:"commands"`
	Environ     map[string]interface{} `json:"environ"`
	ResultPath  string                 `json:"result_path"`
	Save        bool                   `json:"save"`
	SaveAs      string                 `json:"save_as"`
	Environment string                 `json:"environment"`
}

type rawCommandObject struct {
	Command string  `json:"command"`
	Timeout float64 `json:"timeout"`
}

// Parse validates body against the /execute/ config schema, returning a
// *sandboxerr.BadRequestError with a human-readable reason on any
// violation. defaultTimeout fills in a command's timeout when the
// client did not specify one.
func Parse(body []byte, defaultTimeout time.Duration) (*RunRequest, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, sandboxerr.NewBadRequest("invalid JSON body: %v", err)
	}
	if len(raw.Commands) == 0 {
		return nil, sandboxerr.NewBadRequest("commands must be a non-empty array")
	}

	topEnviron, err := stringifyEnviron(raw.Environ)
	if err != nil {
		return nil, err
	}

	commands := make([]Command, 0, len(raw.Commands))
	for i, item := range raw.Commands {
		cmd, err := parseCommand(item, defaultTimeout, topEnviron)
		if err != nil {
			return nil, sandboxerr.NewBadRequest("commands[%d]: %v", i, err)
		}
		commands = append(commands, cmd)
	}

	return &RunRequest{
		Commands:    commands,
		ResultPath:  raw.ResultPath,
		Save:        raw.Save,
		SaveAs:      raw.SaveAs,
		Environment: raw.Environment,
	}, nil
}

func parseCommand(item json.RawMessage, defaultTimeout time.Duration, topEnviron map[string]string) (Command, error) {
	trimmed := strings.TrimSpace(string(item))

	var raw string
	var timeout time.Duration = defaultTimeout

	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(item, &raw); err != nil {
			return Command{}, fmt.Errorf("must be a string or object: %w", err)
		}
	} else {
		var obj rawCommandObject
		if err := json.Unmarshal(item, &obj); err != nil {
			return Command{}, fmt.Errorf("must be a string or {command, timeout}: %w", err)
		}
		if obj.Command == "" {
			return Command{}, fmt.Errorf("object form requires a non-empty \"command\" field")
		}
		raw = obj.Command
		if obj.Timeout > 0 {
			timeout = time.Duration(obj.Timeout * float64(time.Second))
		}
	}

	ignoreFailure := false
	command := raw
	if strings.HasPrefix(command, "-") {
		ignoreFailure = true
		command = strings.TrimPrefix(command, "-")
	}
	if strings.TrimSpace(command) == "" {
		return Command{}, fmt.Errorf("command text must not be empty")
	}
	if timeout <= 0 {
		return Command{}, fmt.Errorf("timeout must be > 0")
	}

	environ := make(map[string]string, len(topEnviron))
	for k, v := range topEnviron {
		environ[k] = v
	}

	return Command{
		Command:       command,
		Timeout:       timeout,
		IgnoreFailure: ignoreFailure,
		Environ:       environ,
	}, nil
}

// stringifyEnviron coerces the request-level environ map's string|number
// values into strings.
func stringifyEnviron(in map[string]interface{}) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = formatNumber(val)
		default:
			return nil, sandboxerr.NewBadRequest("environ[%q] must be a string or number", k)
		}
	}
	return out, nil
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
