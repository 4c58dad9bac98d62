package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/timectrl"
)

// HTTPUplink posts enveloped command packets to the satellite command
// endpoint.
type HTTPUplink struct {
	url    string
	client *http.Client
	clock  timectrl.Clock
}

// NewHTTPUplink posts to url. A nil client uses 2s connect and 4s read bounds.
func NewHTTPUplink(url string, client *http.Client, clock timectrl.Clock) *HTTPUplink {
	if client == nil {
		client = events.NewHTTPClient(0, 0)
	}
	return &HTTPUplink{url: url, client: client, clock: timectrl.OrWall(clock)}
}

// Uplink implements Uplinker. Non-2xx replies are failures carrying the
// satellite's body.
func (u *HTTPUplink) Uplink(ctx context.Context, p *packet.Packet) (json.RawMessage, error) {
	body, err := json.Marshal(packet.Wrap(p, u.clock.Now().Unix()))
	if err != nil {
		return nil, fmt.Errorf("%w: encode packet: %v", ErrUplinkFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUplinkFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUplinkFailed, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read reply: %v", ErrUplinkFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: satellite returned HTTP %d: %s", ErrUplinkFailed, resp.StatusCode, bytes.TrimSpace(reply))
	}
	if !json.Valid(reply) {
		return nil, fmt.Errorf("%w: satellite reply is not JSON", ErrUplinkFailed)
	}
	return json.RawMessage(reply), nil
}
