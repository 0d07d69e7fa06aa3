package cm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is the Cloudera Manager API surface the reconciler depends on.
// HTTPClient talks to a real CM server; Fake is the in-memory test double.
type Client interface {
	GetCluster(ctx context.Context, cluster string) (*Cluster, error)
	ListHosts(ctx context.Context) ([]Host, error)

	ListServices(ctx context.Context, cluster string) ([]Service, error)
	GetService(ctx context.Context, cluster, name string) (*Service, error)
	CreateService(ctx context.Context, cluster, name, serviceType string) (*Service, error)
	DeleteService(ctx context.Context, cluster, name string) error
	UpdateServiceConfig(ctx context.Context, cluster, service string, config map[string]string) error

	ListRoles(ctx context.Context, cluster, service string) ([]Role, error)
	CreateRoles(ctx context.Context, cluster, service string, specs []RoleSpec) ([]Role, error)
	ListRoleConfigGroups(ctx context.Context, cluster, service string) ([]RoleConfigGroup, error)
	UpdateRoleConfigGroupConfig(ctx context.Context, cluster, service, group string, config map[string]string) error

	StartService(ctx context.Context, cluster, service string) (*Command, error)
	StopService(ctx context.Context, cluster, service string) (*Command, error)
	RestartService(ctx context.Context, cluster, service string) (*Command, error)
	DeployClientConfig(ctx context.Context, cluster, service string) (*Command, error)
	ServiceCommand(ctx context.Context, cluster, service, command string) (*Command, error)
	GetCommand(ctx context.Context, id int64) (*Command, error)
}

// Options configures the HTTP client.
type Options struct {
	Host          string
	Port          int
	APIVersion    string // e.g. "v19"
	Username      string
	Password      string
	TLS           bool
	TLSSkipVerify bool
	Timeout       time.Duration // per-request budget, default 30s
}

// HTTPClient implements Client against a real Cloudera Manager server.
type HTTPClient struct {
	base     string
	username string
	password string

	// Lookups ride a retrying transport; mutations are never retried so a
	// flaky 502 cannot double-submit a start/stop/bootstrap command.
	get *http.Client
	mut *http.Client
}

// NewHTTPClient creates a CM API client from the given options.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("cm: manager host is required")
	}
	scheme := "http"
	port := opts.Port
	if opts.TLS {
		scheme = "https"
		if port == 0 {
			port = 7183
		}
	} else if port == 0 {
		port = 7180
	}
	version := opts.APIVersion
	if version == "" {
		version = "v19"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	newClient := func(retries int) *http.Client {
		rc := retryablehttp.NewClient()
		rc.RetryMax = retries
		rc.RetryWaitMin = 500 * time.Millisecond
		rc.RetryWaitMax = 5 * time.Second
		rc.Logger = nil
		rc.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
		return rc.StandardClient()
	}

	return &HTTPClient{
		base:     fmt.Sprintf("%s://%s:%d/api/%s", scheme, opts.Host, port, version),
		username: opts.Username,
		password: opts.Password,
		get:      newClient(3),
		mut:      newClient(0),
	}, nil
}

// BaseURL returns the resolved API base, e.g. https://cm:7183/api/v19.
func (c *HTTPClient) BaseURL() string { return c.base }

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.mut
	if method == http.MethodGet {
		httpClient = c.get
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling cm api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    readAPIMessage(resp.Body),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding cm response: %w", err)
	}
	return nil
}

// readAPIMessage pulls the "message" field out of a CM error body. Bodies
// that are not JSON come back trimmed as-is.
func readAPIMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8192))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

func (c *HTTPClient) GetCluster(ctx context.Context, cluster string) (*Cluster, error) {
	var out Cluster
	if err := c.do(ctx, http.MethodGet, "/clusters/"+url.PathEscape(cluster), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListHosts(ctx context.Context) ([]Host, error) {
	var out itemList[Host]
	if err := c.do(ctx, http.MethodGet, "/hosts", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) ListServices(ctx context.Context, cluster string) ([]Service, error) {
	var out itemList[Service]
	if err := c.do(ctx, http.MethodGet, servicesPath(cluster), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) GetService(ctx context.Context, cluster, name string) (*Service, error) {
	var out Service
	if err := c.do(ctx, http.MethodGet, servicePath(cluster, name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateService(ctx context.Context, cluster, name, serviceType string) (*Service, error) {
	req := itemList[Service]{Items: []Service{{Name: name, Type: serviceType}}}
	var out itemList[Service]
	if err := c.do(ctx, http.MethodPost, servicesPath(cluster), req, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("cm api returned no service for create %s/%s", cluster, name)
	}
	return &out.Items[0], nil
}

func (c *HTTPClient) DeleteService(ctx context.Context, cluster, name string) error {
	return c.do(ctx, http.MethodDelete, servicePath(cluster, name), nil, nil)
}

func (c *HTTPClient) UpdateServiceConfig(ctx context.Context, cluster, service string, config map[string]string) error {
	return c.do(ctx, http.MethodPut, servicePath(cluster, service)+"/config", NewConfigList(config), nil)
}

func (c *HTTPClient) ListRoles(ctx context.Context, cluster, service string) ([]Role, error) {
	var out itemList[Role]
	if err := c.do(ctx, http.MethodGet, servicePath(cluster, service)+"/roles", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) CreateRoles(ctx context.Context, cluster, service string, specs []RoleSpec) ([]Role, error) {
	req := itemList[Role]{Items: make([]Role, len(specs))}
	for i, spec := range specs {
		req.Items[i] = Role{
			Name:    spec.Name,
			Type:    spec.Type,
			HostRef: HostRef{HostID: spec.HostID},
		}
	}
	var out itemList[Role]
	if err := c.do(ctx, http.MethodPost, servicePath(cluster, service)+"/roles", req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) ListRoleConfigGroups(ctx context.Context, cluster, service string) ([]RoleConfigGroup, error) {
	var out itemList[RoleConfigGroup]
	if err := c.do(ctx, http.MethodGet, servicePath(cluster, service)+"/roleConfigGroups", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) UpdateRoleConfigGroupConfig(ctx context.Context, cluster, service, group string, config map[string]string) error {
	path := servicePath(cluster, service) + "/roleConfigGroups/" + url.PathEscape(group) + "/config"
	return c.do(ctx, http.MethodPut, path, NewConfigList(config), nil)
}

func (c *HTTPClient) StartService(ctx context.Context, cluster, service string) (*Command, error) {
	return c.serviceCommand(ctx, cluster, service, "start")
}

func (c *HTTPClient) StopService(ctx context.Context, cluster, service string) (*Command, error) {
	return c.serviceCommand(ctx, cluster, service, "stop")
}

func (c *HTTPClient) RestartService(ctx context.Context, cluster, service string) (*Command, error) {
	return c.serviceCommand(ctx, cluster, service, "restart")
}

func (c *HTTPClient) DeployClientConfig(ctx context.Context, cluster, service string) (*Command, error) {
	return c.serviceCommand(ctx, cluster, service, "deployClientConfig")
}

// ServiceCommand issues an arbitrary service-scoped command, e.g.
// createOozieDb or yarnCreateJobHistoryDirCommand.
func (c *HTTPClient) ServiceCommand(ctx context.Context, cluster, service, command string) (*Command, error) {
	return c.serviceCommand(ctx, cluster, service, command)
}

func (c *HTTPClient) serviceCommand(ctx context.Context, cluster, service, command string) (*Command, error) {
	var out Command
	path := servicePath(cluster, service) + "/commands/" + url.PathEscape(command)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetCommand(ctx context.Context, id int64) (*Command, error) {
	var out Command
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/commands/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func servicesPath(cluster string) string {
	return "/clusters/" + url.PathEscape(cluster) + "/services"
}

func servicePath(cluster, service string) string {
	return servicesPath(cluster) + "/" + url.PathEscape(service)
}
