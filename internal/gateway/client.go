package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/session"
)

const apiPrefix = "/dpu-agent/v1"

// Options configures a Client.
type Options struct {
	Port          int
	Username      string
	Password      string
	Timeout       time.Duration
	TokenTTL      time.Duration
	BlockUser     string
	BlockPassword string
	VQCount       int
	VQSize        int
	Clock         clock.Clock
	OnLogin       func(backend string, err error)
}

type agentSession struct {
	baseURL string
	token   string
}

// Client implements Agent over the agent's REST API.
type Client struct {
	opts Options
	http *http.Client
	pool *session.Pool[*agentSession]
	log  *logrus.Entry
}

// NewClient creates an agent client. Sessions are cached per agent address.
func NewClient(opts Options) *Client {
	c := &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
		log:  logrus.WithField("backend", "gateway"),
	}
	c.pool = session.NewPool[*agentSession](session.PoolConfig{
		Name:    "gateway",
		TTL:     opts.TokenTTL,
		Clock:   opts.Clock,
		OnLogin: opts.OnLogin,
	}, c.login)
	return c
}

// result is the envelope every agent response carries.
type result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) login(ctx context.Context, addr string) (*agentSession, error) {
	base := "http://" + net.JoinHostPort(addr, strconv.Itoa(c.opts.Port))
	form := url.Values{"username": {c.opts.Username}, "password": {c.opts.Password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway login to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AgentError{Op: "login", Status: resp.StatusCode, Message: string(data)}
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway login to %s: decode response: %w", addr, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("gateway login to %s: empty token", addr)
	}
	return &agentSession{baseURL: base, token: out.AccessToken}, nil
}

// call sends an authenticated request and decodes the response into out,
// which must embed the result envelope.
func (c *Client) call(ctx context.Context, addr, op, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("gateway %s: encode request: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		sess, err := c.pool.Get(ctx, addr)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, sess.baseURL+apiPrefix+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+sess.token)

		c.log.WithFields(logrus.Fields{"gateway": addr, "op": op}).Debug("agent request")
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("gateway %s on %s: %w", op, addr, err)
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.pool.Invalidate(addr)
			continue
		}
		if resp.StatusCode/100 != 2 {
			return &AgentError{Op: op, Status: resp.StatusCode, Message: string(data)}
		}

		var env result
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("gateway %s on %s: decode response: %w", op, addr, err)
		}
		if env.Code != 0 {
			return &AgentError{Op: op, Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("gateway %s on %s: decode response: %w", op, addr, err)
			}
		}
		return nil
	}
}

// flexID accepts an identifier encoded as a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = flexID(s)
	return nil
}

// AddBlockDevice implements Agent
func (c *Client) AddBlockDevice(ctx context.Context, addr string, dev BlockDevice) (int64, error) {
	var out struct {
		UUID flexID `json:"uuid"`
	}
	err := c.call(ctx, addr, "vblk add", http.MethodPost, "/vblk/add", map[string]any{
		"rbd_path": dev.PoolPath,
		"gw_user":  c.opts.BlockUser,
		"gw_pwd":   c.opts.BlockPassword,
		"gws":      []string{dev.Cluster},
		"vq_count": c.opts.VQCount,
		"vq_size":  c.opts.VQSize,
		"bootable": true,
	}, &out)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(string(out.UUID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gateway vblk add on %s: invalid block id %q", addr, out.UUID)
	}
	return id, nil
}

// DeleteBlockDevice implements Agent
func (c *Client) DeleteBlockDevice(ctx context.Context, addr string, dev BlockDevice) error {
	return c.call(ctx, addr, "vblk del", http.MethodPost, "/vblk/del", map[string]any{
		"rbd_path": dev.PoolPath,
		"gw_user":  c.opts.BlockUser,
		"gw_pwd":   c.opts.BlockPassword,
		"gw_ip":    dev.Cluster,
		"force":    true,
		"bootable": true,
		"uuid":     dev.BlockID,
	}, nil)
}

// CreateFirstBoot implements Agent
func (c *Client) CreateFirstBoot(ctx context.Context, addr string, userData, networkConfig any) error {
	return c.call(ctx, addr, "cloudinit create", http.MethodPost, "/cloudinit/create", map[string]any{
		"user_data":      userData,
		"network_config": networkConfig,
	}, nil)
}

// DeleteFirstBoot implements Agent
func (c *Client) DeleteFirstBoot(ctx context.Context, addr string) error {
	return c.call(ctx, addr, "cloudinit delete", http.MethodPost, "/cloudinit/delete", nil, nil)
}

// SaveCheckpoint implements Agent
func (c *Client) SaveCheckpoint(ctx context.Context, addr string) error {
	return c.call(ctx, addr, "checkpoint save", http.MethodPost, "/checkpoint/save", nil, nil)
}

// CloudDiskEnabled implements Agent
func (c *Client) CloudDiskEnabled(ctx context.Context, addr string) (bool, error) {
	var out struct {
		Enabled bool `json:"clouddisk_enable"`
	}
	if err := c.call(ctx, addr, "get clouddisk setting", http.MethodGet, "/settings/clouddisk_enable", nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

// SetCloudDiskEnabled implements Agent
func (c *Client) SetCloudDiskEnabled(ctx context.Context, addr string, enabled bool) error {
	return c.call(ctx, addr, "set clouddisk setting", http.MethodPut, "/settings/clouddisk_enable",
		map[string]bool{"clouddisk_enable": enabled}, nil)
}

// AddNetDevice implements Agent
func (c *Client) AddNetDevice(ctx context.Context, addr string, dev NetDevice) (string, error) {
	var out struct {
		UUID flexID `json:"uuid"`
	}
	err := c.call(ctx, addr, "xscnet add", http.MethodPost, "/xscnet/add", map[string]any{
		"vq_count": c.opts.VQCount,
		"vq_size":  c.opts.VQSize,
		"mac":      dev.MAC,
		"mtu":      dev.MTU,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.UUID == "" {
		return "", fmt.Errorf("gateway xscnet add on %s: empty device id", addr)
	}
	return string(out.UUID), nil
}

// DeleteNetDevice implements Agent
func (c *Client) DeleteNetDevice(ctx context.Context, addr string, deviceID string) error {
	return c.call(ctx, addr, "xscnet del", http.MethodPost, "/xscnet/del", map[string]string{"uuid": deviceID}, nil)
}

// AddFlow implements Agent
func (c *Client) AddFlow(ctx context.Context, addr string, flow Flow) error {
	params := map[string]any{
		"uuid":        flow.DeviceID,
		"vlan":        flow.VLAN,
		"ip":          flow.IP,
		"gw_ip":       flow.Gateway,
		"src_mac":     flow.SrcMAC,
		"dhcp_server": flow.DHCPServer,
	}
	if len(flow.DNS) > 0 {
		params["dns"] = flow.DNS
	}
	return c.call(ctx, addr, "ovsflow add", http.MethodPost, "/ovsflow/add", params, nil)
}

// ListNICs implements Agent
func (c *Client) ListNICs(ctx context.Context, addr string) ([]NIC, error) {
	var out struct {
		NICs []NIC `json:"nics_info"`
	}
	if err := c.call(ctx, addr, "list nics", http.MethodGet, "/rdma/list_nics", nil, &out); err != nil {
		return nil, err
	}
	return out.NICs, nil
}
