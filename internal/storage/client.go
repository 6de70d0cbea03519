package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/session"
)

const acceptHeader = "application/vnd.ceph.api.v1.0+json"

// Options configures a Client.
type Options struct {
	Port               int
	Username           string
	Password           string
	Timeout            time.Duration
	TokenTTL           time.Duration
	InsecureSkipVerify bool
	Clock              clock.Clock
	OnLogin            func(backend string, err error)
}

type apiSession struct {
	baseURL string
	token   string
}

// Client implements Backend over the storage dashboard REST API.
type Client struct {
	opts Options
	http *http.Client
	pool *session.Pool[*apiSession]
	log  *logrus.Entry
}

// NewClient creates a storage client. Sessions are cached per cluster.
func NewClient(opts Options) *Client {
	c := &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec
			},
		},
		log: logrus.WithField("backend", "storage"),
	}
	c.pool = session.NewPool[*apiSession](session.PoolConfig{
		Name:    "storage",
		TTL:     opts.TokenTTL,
		Clock:   opts.Clock,
		OnLogin: opts.OnLogin,
	}, c.login)
	return c
}

func (c *Client) baseURL(cluster string) string {
	return "https://" + net.JoinHostPort(cluster, strconv.Itoa(c.opts.Port))
}

func (c *Client) login(ctx context.Context, cluster string) (*apiSession, error) {
	base := c.baseURL(cluster)
	body, err := json.Marshal(map[string]string{"username": c.opts.Username, "password": c.opts.Password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage login to %s: %w", cluster, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Op: "login", Status: resp.StatusCode, Body: string(data)}
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("storage login to %s: decode response: %w", cluster, err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("storage login to %s: empty token", cluster)
	}
	return &apiSession{baseURL: base, token: out.Token}, nil
}

// do sends an authenticated request, logging in again once if the cached
// token was rejected.
func (c *Client) do(ctx context.Context, cluster, op, method, path string, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("storage %s: encode request: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		sess, err := c.pool.Get(ctx, cluster)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, sess.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+sess.token)

		c.log.WithFields(logrus.Fields{"cluster": cluster, "op": op, "path": path}).Debug("storage request")
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("storage %s: %w", op, err)
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.pool.Invalidate(cluster)
			continue
		}
		if resp.StatusCode/100 != 2 {
			return &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
		}
		return nil
	}
}

func imagePath(img ImageSpec) string {
	return "/api/block/image/" + url.PathEscape(img.String())
}

// Clone implements Backend
func (c *Client) Clone(ctx context.Context, cluster string, parent ImageSpec, snap string, child ImageSpec) error {
	return c.do(ctx, cluster, "clone", http.MethodPost,
		imagePath(parent)+"/snap/"+url.PathEscape(snap)+"/clone",
		map[string]string{"child_pool_name": child.Pool, "child_image_name": child.Name})
}

// Flatten implements Backend
func (c *Client) Flatten(ctx context.Context, cluster string, img ImageSpec) error {
	return c.do(ctx, cluster, "flatten", http.MethodPost, imagePath(img)+"/flatten", nil)
}

// Resize implements Backend
func (c *Client) Resize(ctx context.Context, cluster string, img ImageSpec, sizeBytes int64) error {
	if sizeBytes <= 0 {
		return errors.New("storage resize: size must be positive")
	}
	return c.do(ctx, cluster, "resize", http.MethodPut, imagePath(img), map[string]int64{"size": sizeBytes})
}

// Copy implements Backend
func (c *Client) Copy(ctx context.Context, cluster string, src, dst ImageSpec) error {
	return c.do(ctx, cluster, "copy", http.MethodPost, imagePath(src)+"/copy", map[string]string{
		"dest_pool_name":  dst.Pool,
		"dest_namespace":  "",
		"dest_image_name": dst.Name,
	})
}

// CreateSnapshot implements Backend
func (c *Client) CreateSnapshot(ctx context.Context, cluster string, img ImageSpec, snap string) error {
	return c.do(ctx, cluster, "create snapshot", http.MethodPost, imagePath(img)+"/snap", map[string]any{
		"snapshot_name":       snap,
		"mirrorImageSnapshot": false,
	})
}

// SetSnapshotProtection implements Backend
func (c *Client) SetSnapshotProtection(ctx context.Context, cluster string, img ImageSpec, snap string, protected bool) error {
	op := "protect snapshot"
	if !protected {
		op = "unprotect snapshot"
	}
	return c.do(ctx, cluster, op, http.MethodPut, imagePath(img)+"/snap/"+url.PathEscape(snap),
		map[string]bool{"is_protected": protected})
}

// DeleteSnapshot implements Backend
func (c *Client) DeleteSnapshot(ctx context.Context, cluster string, img ImageSpec, snap string) error {
	return c.do(ctx, cluster, "delete snapshot", http.MethodDelete, imagePath(img)+"/snap/"+url.PathEscape(snap), nil)
}

// DeleteImage implements Backend
func (c *Client) DeleteImage(ctx context.Context, cluster string, img ImageSpec) error {
	return c.do(ctx, cluster, "delete image", http.MethodDelete, imagePath(img), nil)
}
