package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is a non-2xx response from a platform API.
type APIError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Platform, e.StatusCode, e.Body)
}

const maxErrorBody = 512

// doJSON sends req and decodes a 2xx JSON body into out, which may be nil.
func doJSON(client *http.Client, platform string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", platform, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(platform, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", platform, err)
	}
	return nil
}

func checkStatus(platform string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Platform: platform, StatusCode: resp.StatusCode, Body: string(body)}
}

// pollUntil calls check every interval until it reports done, fails, or the context ends.
func pollUntil(ctx context.Context, interval time.Duration, attempts int, check func() (bool, error)) error {
	for i := 0; i < attempts; i++ {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("still processing after %d checks", attempts)
}
