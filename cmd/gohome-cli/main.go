package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gohome-resideo/internal/config"
	"github.com/joshp123/gohome-resideo/internal/router"
)

func main() {
	app := &cli.App{
		Name:  "gohome-cli",
		Usage: "Inspect and drive a running gohome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "grpc-addr", EnvVars: []string{"GOHOME_GRPC_ADDR"}, Usage: "gRPC address"},
			&cli.StringFlag{Name: "http-addr", EnvVars: []string{"GOHOME_HTTP_ADDR"}, Usage: "HTTP address"},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
		},
		Commands: []*cli.Command{
			{
				Name:   "services",
				Usage:  "List gRPC services via reflection",
				Action: servicesCmd,
			},
			{
				Name:      "methods",
				Usage:     "List methods of a gRPC service",
				ArgsUsage: "<service>",
				Action:    methodsCmd,
			},
			{
				Name:      "health",
				Usage:     "Query gRPC health, overall or for one plugin",
				ArgsUsage: "[plugin_id]",
				Action:    healthCmd,
			},
			{
				Name:   "plugins",
				Usage:  "List plugins and their health",
				Action: pluginsCmd,
			},
			{
				Name:   "accessories",
				Usage:  "List exposed accessories",
				Action: accessoriesCmd,
			},
			{
				Name:      "get",
				Usage:     "Show one accessory",
				ArgsUsage: "<name|uuid>",
				Action:    getCmd,
			},
			{
				Name:      "set",
				Usage:     "Write a characteristic",
				ArgsUsage: "<name|uuid> <service> <characteristic> <json-value>",
				Action:    setCmd,
			},
			{
				Name:   "discover",
				Usage:  "Run a Resideo discovery sweep now",
				Action: discoverCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("gohome-cli")
	}
}

func dial(c *cli.Context) (context.Context, context.CancelFunc, *grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	conn, err := grpcurl.BlockingDial(ctx, "tcp", grpcAddr(c), insecure.NewCredentials())
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("dial: %w", err)
	}
	return ctx, cancel, conn, nil
}

func servicesCmd(c *cli.Context) error {
	ctx, cancel, conn, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer conn.Close()

	services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, service := range services {
		fmt.Println(service)
	}
	return nil
}

func methodsCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing service name")
	}
	ctx, cancel, conn, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer conn.Close()

	methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), c.Args().First())
	if err != nil {
		return fmt.Errorf("list methods: %w", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
	return nil
}

func healthCmd(c *cli.Context) error {
	ctx, cancel, conn, err := dial(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer conn.Close()

	service := ""
	if c.NArg() > 0 {
		service = router.ServiceName(c.Args().First())
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	fmt.Println(resp.GetStatus())
	return nil
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func grpcAddr(c *cli.Context) string {
	if v := c.String("grpc-addr"); v != "" {
		return v
	}
	if cfg := loadConfig(); cfg != nil {
		return cfg.Core.GRPCAddr
	}
	return "localhost:9000"
}

func httpAddr(c *cli.Context) string {
	if v := c.String("http-addr"); v != "" {
		return v
	}
	if cfg := loadConfig(); cfg != nil {
		return cfg.Core.HTTPAddr
	}
	return "localhost:8080"
}

func loadConfig() *config.Config {
	for _, path := range configSearchPaths() {
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return nil
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}
