package carrier

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"strings"
)

// ProxyPool holds upstream proxies and hands out a uniformly random one
// per request attempt. An empty pool means direct connections.
type ProxyPool struct {
	proxies []*url.URL
}

// NewProxyPool parses proxy entries in host:port or host:port:user:pass
// form. Malformed entries are skipped with a warning rather than
// failing the pool.
func NewProxyPool(entries []string, logger *slog.Logger) *ProxyPool {
	pool := &ProxyPool{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		u, err := parseProxyEntry(entry)
		if err != nil {
			logger.Warn("skipping malformed proxy entry", "error", err)
			continue
		}
		pool.proxies = append(pool.proxies, u)
	}
	return pool
}

// LoadProxyPool reads proxy entries from a file, one per line. A
// missing file yields an empty pool, not an error.
func LoadProxyPool(path string, logger *slog.Logger) *ProxyPool {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("proxy file not found, requests go direct", "path", path)
		return &ProxyPool{}
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}
	return NewProxyPool(entries, logger)
}

// Pick returns a random proxy URL, or nil when the pool is empty.
func (p *ProxyPool) Pick() *url.URL {
	if p == nil || len(p.proxies) == 0 {
		return nil
	}
	return p.proxies[rand.Intn(len(p.proxies))]
}

// Size returns the number of usable proxies.
func (p *ProxyPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

func parseProxyEntry(entry string) (*url.URL, error) {
	parts := strings.Split(entry, ":")
	switch len(parts) {
	case 2:
		host, port := parts[0], parts[1]
		if host == "" || port == "" {
			return nil, fmt.Errorf("empty host or port in %q", entry)
		}
		return url.Parse(fmt.Sprintf("http://%s:%s", host, port))
	case 4:
		host, port, user, pass := parts[0], parts[1], parts[2], parts[3]
		if host == "" || port == "" || user == "" {
			return nil, fmt.Errorf("empty field in %q", entry)
		}
		return url.Parse(fmt.Sprintf("http://%s:%s@%s:%s", url.QueryEscape(user), url.QueryEscape(pass), host, port))
	default:
		return nil, fmt.Errorf("unsupported proxy format %q", entry)
	}
}
