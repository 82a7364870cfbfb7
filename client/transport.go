package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TUM-AIMED/hyfed/pkg/api"
	"github.com/fxamacker/cbor/v2"
)

const (
	joinPath    = "/project/join"
	infoPath    = "/project/info"
	startedPath = "/project/started"
	uploadPath  = "/project/parameters/local"
	syncPath    = "/project/parameters/global"
	resultPath  = "/project/result"
	noisePath   = "/noise"
)

// errEncode marks a failure to construct a request payload. Unlike transport
// errors it is never worth retrying.
var errEncode = errors.New("failed to encode request")

// comms is the driver's HTTP plumbing: CBOR envelopes with a per-call
// timeout.
type comms struct {
	httpc *http.Client
}

func (c *comms) post(ctx context.Context, url string, timeout time.Duration, in, out any) error {
	body, err := c.exchange(ctx, url, timeout, in)
	if err != nil {
		return err
	}
	defer body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, body)

		return nil
	}

	return cbor.NewDecoder(body).Decode(out)
}

func (c *comms) postForBytes(ctx context.Context, url string, timeout time.Duration, in any) ([]byte, error) {
	body, err := c.exchange(ctx, url, timeout, in)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return io.ReadAll(body)
}

// exchange issues the request; the returned body must be closed to release
// the per-call timeout.
func (c *comms) exchange(ctx context.Context, url string, timeout time.Duration, in any) (io.ReadCloser, error) {
	raw, err := cbor.Marshal(in)
	if err != nil {
		return nil, errors.Join(errEncode, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		cancel()

		return nil, errors.Join(errEncode, err)
	}
	req.Header.Set("Content-Type", api.ContentTypeCBOR)

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()

		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cancel()

		return nil, fmt.Errorf("%s answered %d", url, resp.StatusCode)
	}

	return &cancelingBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelingBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelingBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}
