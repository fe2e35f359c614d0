// Package redis connects the shared result store and exports its pool
// statistics.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"mrtdreader/internal/platform/config"
)

// ClientName tags the connections in CLIENT LIST.
const ClientName = "mrtd-result-store"

const defaultPingTimeout = 5 * time.Second

// Client holds sealed scan results for replicas that share one store.
type Client struct {
	*redis.Client
}

// New connects to the store and checks it answers within the dial timeout.
// It returns nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.ClientName = ClientName
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	// Result reads run under HTTP request deadlines.
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("result store unreachable: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health pings the store for the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// PoolCollector exports the connection pool counters on every scrape.
type PoolCollector struct {
	client *Client

	hits, misses, timeouts, stale *prometheus.Desc
	total, idle                   *prometheus.Desc
}

func NewPoolCollector(c *Client) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("mrtd_result_store_pool_"+name, help, nil, nil)
	}
	return &PoolCollector{
		client:   c,
		hits:     desc("hits_total", "Connections found free in the pool."),
		misses:   desc("misses_total", "Connections that had to be dialed."),
		timeouts: desc("timeouts_total", "Waits for a free connection that timed out."),
		stale:    desc("stale_conns_total", "Stale connections removed from the pool."),
		total:    desc("conns", "Connections currently open."),
		idle:     desc("idle_conns", "Connections currently idle."),
	}
}

func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{p.hits, p.misses, p.timeouts, p.stale, p.total, p.idle} {
		ch <- d
	}
}

func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(p.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(p.stale, prometheus.CounterValue, float64(s.StaleConns))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.IdleConns))
}
