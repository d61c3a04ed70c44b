package backup

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// Mirror is the otsd-backup.py-equivalent puller of the
// "/experimental/backup/{N}" external interface: it polls one upstream
// calendar for the next not-yet-fetched chunk, verifies it parses, and
// hands the verified (key, value) records to Sink.
//
// Grounded on networks/rpc/http_test.go's fasthttp client use for bulk
// chunk fetching.
type Mirror struct {
	client   fasthttp.Client
	upstream string
	timeout  time.Duration

	// Sink receives every verified chunk's decoded records, in fetch order.
	Sink func(chunk uint64, records map[string][]byte) error
}

// NewMirror constructs a Mirror pulling from upstream (a base URL such as
// "http://calendar.example.com").
func NewMirror(upstream string, timeout time.Duration) *Mirror {
	return &Mirror{upstream: upstream, timeout: timeout}
}

// FetchChunk retrieves and verifies chunk k from the upstream. A 404
// response (chunk not yet complete) is reported as ErrNotFound.
func (m *Mirror) FetchChunk(k uint64) (map[string][]byte, error) {
	url := fmt.Sprintf("%s/experimental/backup/%d", m.upstream, k)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := m.client.DoTimeout(req, resp, m.timeout); err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("backup: upstream returned status %d for chunk %d", resp.StatusCode(), k)
	}

	body := append([]byte{}, resp.Body()...)
	records, err := ParseChunk(body)
	if err != nil {
		return nil, fmt.Errorf("backup: chunk %d failed to parse: %w", k, err)
	}
	return records, nil
}

// Run polls chunks starting at startChunk, advancing one chunk at a time
// once each fetch succeeds, and backing off pollInterval whenever the
// upstream's next chunk isn't available yet.
func (m *Mirror) Run(quit <-chan struct{}, startChunk uint64, pollInterval time.Duration) {
	k := startChunk
	for {
		select {
		case <-quit:
			return
		default:
		}

		records, err := m.FetchChunk(k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Debug("upstream chunk not yet available", "chunk", k)
			} else {
				logger.Warn("chunk fetch failed", "chunk", k, "err", err)
			}
			select {
			case <-quit:
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		if m.Sink != nil {
			if err := m.Sink(k, records); err != nil {
				logger.Error("chunk sink failed, retrying", "chunk", k, "err", err)
				select {
				case <-quit:
					return
				case <-time.After(pollInterval):
				}
				continue
			}
		}

		logger.Info("mirrored chunk", "chunk", k, "records", len(records))
		k++
	}
}
