package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/server"
)

// transport carries one request body to the session and returns the reply body.
// A non-nil error means no usable reply arrived.
type transport interface {
	roundTrip(ctx context.Context, op server.Op, body []byte) ([]byte, error)
}

type httpTransport struct {
	baseURL string
	client  *http.Client
}

var httpMethods = map[server.Op]string{
	server.OpReset: http.MethodPost,
	server.OpStep:  http.MethodPost,
	server.OpState: http.MethodGet,
	server.OpClose: http.MethodPost,
}

func (t *httpTransport) roundTrip(ctx context.Context, op server.Op, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethods[op], t.baseURL+"/"+string(op), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Error statuses carry a typed error body; anything else is left for the decoder to reject.
	if resp.StatusCode >= 400 && !bytes.Contains(data, []byte(`"error"`)) {
		return nil, core.Errorf(core.KindProtocol, "%s %s returned %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

type natsTransport struct {
	nc     *nats.Conn
	prefix string
}

func (t *natsTransport) roundTrip(ctx context.Context, op server.Op, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte("{}")
	}
	msg, err := t.nc.RequestWithContext(ctx, server.Subject(t.prefix, op), body)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// transportError classifies a failed round trip.
func transportError(op server.Op, err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	if isTimeout(err) {
		return core.Wrap(core.KindTimeout, err, "%s: no reply in time", op)
	}
	return core.Wrap(core.KindProtocol, err, "%s: transport failure", op)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func normalizeURL(u string) string {
	u = strings.TrimRight(u, "/")
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return u
}
