// Package lan implements the local transport: direct HTTP delivery to
// devices on the home network, an inbound callback handler for pushed
// deltas, and a heartbeat monitor that drives local reachability.
package lan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/relaysync/internal/transport"
)

// Device endpoints.
const (
	PathUpdate = "/zeroconf/update"
	PathInfo   = "/zeroconf/info"
)

const (
	// DefaultTimeout bounds one request when ClientOptions.Timeout is zero.
	DefaultTimeout = 2 * time.Second

	// DefaultPort is used for addresses configured without a port.
	DefaultPort = 8081

	maxResponseSize = 64 << 10
)

// Request is the body POSTed to a device.
type Request struct {
	DeviceID string           `json:"deviceid"`
	APIKey   string           `json:"apikey"`
	Data     transport.Params `json:"data"`
}

// Response is a device's reply. A nonzero Error is a failure.
type Response struct {
	Error int              `json:"error"`
	Data  transport.Params `json:"data,omitempty"`
}

// Receiver accepts inbound local traffic. Implemented by *transport.Router.
type Receiver interface {
	Receive(in transport.Inbound)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout     time.Duration
	DefaultPort int

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// Client delivers commands to devices over the LAN.
type Client struct {
	http        *http.Client
	timeout     time.Duration
	defaultPort int
	receiver    Receiver
}

// NewClient creates a LAN client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		http:        opts.HTTPClient,
		timeout:     opts.Timeout,
		defaultPort: opts.DefaultPort,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.defaultPort <= 0 {
		c.defaultPort = DefaultPort
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Attach sets where state reports returned by RequestState are delivered.
// Must be called before the client is in use.
func (c *Client) Attach(r Receiver) {
	c.receiver = r
}

// Send POSTs params to the device's update endpoint.
func (c *Client) Send(ctx context.Context, dst transport.Destination, params transport.Params) error {
	_, err := c.post(ctx, dst, PathUpdate, params)
	return err
}

// RequestState asks the device for its full state. The reply is forwarded
// to the attached receiver as a local inbound message.
func (c *Client) RequestState(ctx context.Context, dst transport.Destination) error {
	resp, err := c.post(ctx, dst, PathInfo, transport.Params{})
	if err != nil {
		return err
	}
	if c.receiver != nil && len(resp.Data) > 0 {
		c.receiver.Receive(transport.Inbound{
			DeviceID: dst.DeviceID,
			Source:   transport.SourceLocal,
			Params:   resp.Data,
			Address:  dst.Address,
		})
	}
	return nil
}

// Probe checks that the device answers on address. Used by Monitor.
func (c *Client) Probe(ctx context.Context, dst transport.Destination) error {
	_, err := c.post(ctx, dst, PathInfo, transport.Params{})
	return err
}

func (c *Client) post(ctx context.Context, dst transport.Destination, path string, data transport.Params) (*Response, error) {
	if dst.Address == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, dst.DeviceID)
	}
	if data == nil {
		data = transport.Params{}
	}
	body, err := json.Marshal(Request{DeviceID: dst.DeviceID, APIKey: dst.APIKey, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.hostPort(dst.Address)+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, dst.DeviceID, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrRequestFailed, dst.DeviceID, res.StatusCode)
	}

	var out Response
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading response: %w", ErrRequestFailed, dst.DeviceID, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: %s: decoding response: %w", ErrRequestFailed, dst.DeviceID, err)
		}
	}
	if out.Error != 0 {
		return nil, fmt.Errorf("%w: %s: device error %d", ErrDeviceError, dst.DeviceID, out.Error)
	}
	return &out, nil
}

func (c *Client) hostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(c.defaultPort))
}
