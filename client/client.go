// Package client calls methods exposed by an authenticated XML-RPC dispatcher.
//
// Every call bundles its arguments into one array, seals it with the shared
// secret and sends it as the single parameter of the methodCall. The public key
// travels in the Authorization header. Each call opens its own connection.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"secure-xmlrpc/codec"
	"secure-xmlrpc/cryptobox"
	"secure-xmlrpc/loadbalance"
	"secure-xmlrpc/message"
	"secure-xmlrpc/protocol"
	"secure-xmlrpc/registry"
	"secure-xmlrpc/transport"
)

const (
	DefaultPort          = 80
	DefaultPath          = "/"
	DefaultTimeout       = 15 * time.Second
	DefaultUserAgent     = "secure-xmlrpc client"
	DefaultRootNamespace = "wp"
)

// ErrNoServer is returned by New when neither a server nor discovery is set.
var ErrNoServer = errors.New("client: no server address")

// Client is safe for concurrent use once built.
type Client struct {
	host      string
	port      int
	path      string
	secretKey string
	publicKey string
	root      string
	userAgent string
	timeout   time.Duration
	debug     io.Writer
	logger    *zap.Logger

	callbackURL string
	headers     *protocol.Header // Caller headers, applied over the defaults

	box       cryptobox.Box
	transport *transport.ClientTransport

	registry registry.Registry
	balancer loadbalance.Balancer
	service  string

	mu        sync.Mutex
	instances []registry.ServiceInstance // cached discovery result
	stopWatch context.CancelFunc         // set while a watch refreshes instances
	closed    bool
}

// Option configures a Client.
type Option func(*Client)

// WithPort overrides the port taken from the server address.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithPath overrides the path taken from the server address.
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithTimeout bounds the dial and the whole exchange. Zero disables both.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHeader adds a request header. It overrides the Authorization and
// Callback-URL defaults but never the computed Host, Content-Type, User-Agent
// and Content-Length headers.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithCallbackURL sets the Callback-URL header, the caller's pingback address.
func WithCallbackURL(u string) Option {
	return func(c *Client) { c.callbackURL = u }
}

// WithDebug copies every rendered request and raw response to w.
func WithDebug(w io.Writer) Option {
	return func(c *Client) { c.debug = w }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBox replaces the Legacy argument cipher. The server must use the same
// scheme.
func WithBox(box cryptobox.Box) Option {
	return func(c *Client) { c.box = box }
}

// WithRootNamespace replaces "wp" for Validate and Test.
func WithRootNamespace(root string) Option {
	return func(c *Client) {
		if root != "" {
			c.root = root
		}
	}
}

// WithDiscovery resolves the server for every call from reg, choosing among the
// instances advertised under service (e.g. "wp.acme") with bal. The instance
// list is cached and refreshed from reg.Watch until Close.
func WithDiscovery(reg registry.Registry, bal loadbalance.Balancer, service string) Option {
	return func(c *Client) {
		c.registry = reg
		c.balancer = bal
		c.service = service
	}
}

// New builds a client for server, which is either a URL
// ("http://example.org:8080/xmlrpc") or a host with an optional port. Both keys
// are required.
func New(server, secretKey, publicKey string, opts ...Option) (*Client, error) {
	if secretKey == "" || publicKey == "" {
		return nil, message.ErrMissingCredentials
	}

	c := &Client{
		port:      DefaultPort,
		path:      DefaultPath,
		secretKey: secretKey,
		publicKey: publicKey,
		root:      DefaultRootNamespace,
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		headers:   protocol.NewHeader(),
	}
	if err := c.parseServer(server); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.host == "" && c.registry == nil {
		return nil, ErrNoServer
	}
	if c.registry != nil && c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	if c.path == "" {
		c.path = DefaultPath
	}
	if c.box == nil {
		c.box = cryptobox.NewLegacy(secretKey)
	}
	c.transport = transport.NewClientTransport(c.timeout, c.debug, c.logger)
	return c, nil
}

func (c *Client) parseServer(server string) error {
	if server == "" {
		return nil
	}
	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("client: parse server url: %w", err)
		}
		c.host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("client: invalid port %q", p)
			}
			c.port = port
		}
		if u.Path != "" {
			c.path = u.Path
		}
		return nil
	}

	host, p, err := net.SplitHostPort(server)
	if err != nil {
		c.host = server
		return nil
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("client: invalid port %q", p)
	}
	c.host, c.port = host, port
	return nil
}

// Call invokes method with args and returns the decoded result. Rejections by
// the dispatcher come back as the result strings message.Unauthorized and
// message.MethodNotAllowed; transport, parse and remote failures as
// *message.Fault errors.
func (c *Client) Call(method string, args ...any) (any, error) {
	var reply any
	if err := c.CallInto(&reply, method, args...); err != nil {
		return nil, err
	}
	return reply, nil
}

// CallInto is Call decoding the result into reply, which must be a pointer.
func (c *Client) CallInto(reply any, method string, args ...any) error {
	t, err := c.resolve()
	if err != nil {
		return err
	}
	return c.call(t, reply, method, args)
}

func (c *Client) call(t target, reply any, method string, args []any) error {
	blob, err := c.box.Seal(args)
	if err != nil {
		return fmt.Errorf("client: seal arguments: %w", err)
	}
	body, err := codec.EncodeCall(method, []any{blob})
	if err != nil {
		return fmt.Errorf("client: encode call: %w", err)
	}

	req := protocol.NewRequest(t.path, t.host, c.userAgent, body, c.requestHeaders())

	resp, err := c.transport.RoundTrip(t.addr, req)
	if err != nil {
		return err
	}
	if err := codec.DecodeResponse(resp, reply); err != nil {
		c.logger.Debug("call failed", zap.String("method", method), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) requestHeaders() *protocol.Header {
	h := protocol.NewHeader()
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.publicKey)))
	if c.callbackURL != "" {
		h.Set("Callback-URL", c.callbackURL)
	}
	c.headers.Each(h.Set)
	return h
}

// target is where one call goes: dial address, Host header value and path.
type target struct {
	addr string
	host string
	path string
}

func (c *Client) resolve() (target, error) {
	if c.registry == nil {
		return target{addr: net.JoinHostPort(c.host, strconv.Itoa(c.port)), host: c.host, path: c.path}, nil
	}

	instances, err := c.discovered()
	if err != nil {
		return target{}, message.TransportFault("transport error - could not discover server", err)
	}
	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return target{}, message.TransportFault("transport error - could not discover server", err)
	}
	t := target{addr: inst.Addr, host: inst.Addr, path: inst.Path}
	if h, _, err := net.SplitHostPort(inst.Addr); err == nil {
		t.host = h
	}
	if t.path == "" {
		t.path = c.path
	}
	c.logger.Debug("discovered server",
		zap.String("service", c.service),
		zap.String("addr", inst.Addr),
		zap.String("balancer", c.balancer.Name()))
	return t, nil
}

// discovered returns the instances of c.service. While the cache is empty the
// registry is read directly, and the first read starts a watch that keeps the
// cache current.
func (c *Client) discovered() ([]registry.ServiceInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.instances) > 0 {
		return c.instances, nil
	}
	instances, err := c.registry.Discover(c.service)
	if err != nil {
		return nil, err
	}
	if c.closed {
		return instances, nil
	}
	c.instances = instances
	if c.stopWatch == nil {
		ctx, cancel := context.WithCancel(context.Background())
		updates := c.registry.Watch(ctx, c.service)
		if updates == nil {
			cancel()
			return instances, nil
		}
		c.stopWatch = cancel
		go c.follow(updates)
	}
	return instances, nil
}

// follow replaces the cache with every list the watch emits. When the watch
// ends the cache is dropped so the next call reads the registry again.
func (c *Client) follow(updates <-chan []registry.ServiceInstance) {
	for instances := range updates {
		c.mu.Lock()
		c.instances = instances
		c.mu.Unlock()
		c.logger.Debug("instances changed", zap.String("service", c.service), zap.Int("count", len(instances)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	c.instances = nil
}

// Close stops the discovery watch. Later calls still work but read the
// registry each time.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	c.instances = nil
	return nil
}

// Token returns the validation token the server expects when the request's
// Host header is host.
func (c *Client) Token(host string) string {
	return cryptobox.Hash(host, c.publicKey, c.secretKey)
}

// Validate asks the server to check the credentials. It reports true only when
// the server answered with boolean true.
func (c *Client) Validate() (bool, error) {
	t, err := c.resolve()
	if err != nil {
		return false, err
	}
	var reply any
	if err := c.call(t, &reply, c.root+".validate", []any{c.Token(t.host)}); err != nil {
		return false, err
	}
	ok, _ := reply.(bool)
	return ok, nil
}

// Test calls the echo method. The result is the echoed array, or one of the
// rejection strings.
func (c *Client) Test(args ...any) (any, error) {
	return c.Call(c.root+".test", args...)
}
