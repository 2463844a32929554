package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// executeResult mirrors executor.Result's wire shape without importing
// the service's internal package from a separate module boundary.
type executeResult struct {
	Status    int    `json:"status"`
	TotalTime float64 `json:"total_time"`
	Result      *string `json:"result,omitempty"`
	Environment *string `json:"environment,omitempty"`
	Execution []struct {
		Command  string  `json:"command"`
		ExitCode int     `json:"exit_code"`
		Stdout   string  `json:"stdout"`
		Stderr   string  `json:"stderr"`
		Time     float64 `json:"time"`
	} `json:"execution"`
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func headOK(url string) (bool, error) {
	resp, err := httpClient.Head(url)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func submitExecute(server, configPath, envPath string) (*executeResult, error) {
	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("config", string(configBytes)); err != nil {
		return nil, err
	}
	if envPath != "" {
		envBytes, err := os.ReadFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("read environment overlay: %w", err)
		}
		part, err := w.CreateFormFile("environment", "environment.tgz")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(envBytes); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, server+"/execute/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var result executeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
