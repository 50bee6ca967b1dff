// Command invalidate publishes a cache invalidation to every running
// Mini App instance, e.g. after a stock import:
//
//	invalidate -scope remains -product 00-000123
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"warehouse-miniapp/internal/config"
	red "warehouse-miniapp/internal/infra/redis"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config yaml")
	scope := flag.String("scope", red.ScopeAll, "products|remains|orders|moved|events|tasks|*")
	product := flag.String("product", "", "limit to one product id")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		fmt.Fprintln(os.Stderr, "redis.url is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	msg := red.Invalidation{Scope: *scope, ProductID: *product}
	if err := red.PublishInvalidation(ctx, c, cfg.Redis.Channel, msg); err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published %s/%s on %s\n", msg.Scope, msg.ProductID, cfg.Redis.Channel)
}
