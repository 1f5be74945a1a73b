// xmlrpc-call invokes methods on an authenticated XML-RPC dispatcher.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"secure-xmlrpc/client"
	"secure-xmlrpc/config"
	"secure-xmlrpc/cryptobox"
	"secure-xmlrpc/loadbalance"
	"secure-xmlrpc/logging"
	"secure-xmlrpc/registry"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
	}
	ServerFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server URL or host[:port]",
	}
	PublicKeyFlag = &cli.StringFlag{
		Name:  "public-key",
		Usage: "Public key sent in the Authorization header",
	}
	SecretKeyFlag = &cli.StringFlag{
		Name:  "secret-key",
		Usage: "Shared secret the arguments are sealed with",
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Dial and exchange timeout",
	}
	SchemeFlag = &cli.StringFlag{
		Name:  "scheme",
		Usage: "Argument encryption scheme (legacy-ecb, xchacha20poly1305)",
	}
	DiscoverFlag = &cli.StringFlag{
		Name:  "discover",
		Usage: "Resolve the server through etcd under this namespace, e.g. wp.acme",
	}
	BalancerFlag = &cli.StringFlag{
		Name:  "balancer",
		Usage: "Host selection with --discover (roundrobin, weighted, hash)",
	}
	DebugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Dump the raw request and response to stderr",
	}
)

var app = &cli.App{
	Name:  "xmlrpc-call",
	Usage: "call methods on an authenticated XML-RPC dispatcher",
	Flags: []cli.Flag{
		ConfigFlag, ServerFlag, PublicKeyFlag, SecretKeyFlag, TimeoutFlag,
		SchemeFlag, DiscoverFlag, BalancerFlag, DebugFlag,
	},
	Commands: []*cli.Command{
		{
			Name:      "call",
			Usage:     "Call a method; each argument is parsed as JSON, or sent as a string",
			ArgsUsage: "<method> [args...]",
			Action:    callCmd,
		},
		{
			Name:   "validate",
			Usage:  "Check the credentials against the server",
			Action: validateCmd,
		},
		{
			Name:      "test",
			Usage:     "Call the echo method",
			ArgsUsage: "[args...]",
			Action:    testCmd,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func callCmd(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return errors.New("method name required")
	}
	c, closeFn, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := c.Call(ctx.Args().First(), parseArgs(ctx.Args().Tail())...)
	if err != nil {
		return err
	}
	return printResult(result)
}

func validateCmd(ctx *cli.Context) error {
	c, closeFn, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ok, err := c.Validate()
	if err != nil {
		return err
	}
	return printResult(ok)
}

func testCmd(ctx *cli.Context) error {
	c, closeFn, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := c.Test(parseArgs(ctx.Args().Slice())...)
	if err != nil {
		return err
	}
	return printResult(result)
}

// newClient builds the client from the configuration with flags applied over
// it. The returned func stops discovery and releases the etcd connection.
func newClient(ctx *cli.Context) (*client.Client, func(), error) {
	cfg, err := config.Load(ctx.String(ConfigFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	cc := cfg.Client
	setString(ctx, ServerFlag, &cc.Server)
	setString(ctx, PublicKeyFlag, &cc.PublicKey)
	setString(ctx, SecretKeyFlag, &cc.SecretKey)
	setString(ctx, SchemeFlag, &cc.Scheme)
	setString(ctx, DiscoverFlag, &cc.Discover)
	setString(ctx, BalancerFlag, &cc.Balancer)
	if ctx.IsSet(TimeoutFlag.Name) {
		cc.Timeout = ctx.Duration(TimeoutFlag.Name)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}

	box, err := cryptobox.New(cc.Scheme, cc.SecretKey)
	if err != nil {
		return nil, nil, err
	}
	opts := []client.Option{
		client.WithTimeout(cc.Timeout),
		client.WithBox(box),
		client.WithLogger(logger),
		client.WithRootNamespace(cfg.Server.RootNamespace),
	}
	if cc.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(cc.UserAgent))
	}
	if cc.CallbackURL != "" {
		opts = append(opts, client.WithCallbackURL(cc.CallbackURL))
	}
	if ctx.Bool(DebugFlag.Name) {
		opts = append(opts, client.WithDebug(os.Stderr))
	}

	closeFn := func() { logger.Sync() }
	if cc.Discover != "" {
		if len(cfg.Etcd.Endpoints) == 0 {
			return nil, nil, errors.New("--discover needs etcd.endpoints")
		}
		bal, err := loadbalance.New(cc.Balancer, cc.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, logger.Named("registry"))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, client.WithDiscovery(reg, bal, cc.Discover))
		closeFn = func() {
			if err := reg.Close(); err != nil {
				logger.Warn("close registry", zap.Error(err))
			}
			logger.Sync()
		}
	}

	c, err := client.New(cc.Server, cc.SecretKey, cc.PublicKey, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		closeFn()
	}, nil
}

func setString(ctx *cli.Context, flag *cli.StringFlag, dst *string) {
	if ctx.IsSet(flag.Name) {
		*dst = ctx.String(flag.Name)
	}
}

// parseArgs decodes each argument as JSON; arguments that are not valid JSON
// are passed through as strings.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}

func printResult(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
