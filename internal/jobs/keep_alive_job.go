package job

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const keepAliveTimeout = 10 * time.Second

// KeepAliveJob pings the service's own public URL so free-tier hosts do not
// put it to sleep between polls.
type KeepAliveJob struct {
	url    string
	client *http.Client
}

func NewKeepAliveJob(url string) *KeepAliveJob {
	return &KeepAliveJob{url: url, client: &http.Client{Timeout: keepAliveTimeout}}
}

func (j *KeepAliveJob) Run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		log.Error().Err(err).Str("url", j.url).Msg("invalid keep-alive URL")
		return
	}
	resp, err := j.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", j.url).Msg("keep-alive ping failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	log.Debug().Int("status", resp.StatusCode).Str("url", j.url).Msg("keep-alive ping")
}
