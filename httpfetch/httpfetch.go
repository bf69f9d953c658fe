// Package httpfetch is an optional convenience adapter for consumers of
// qcache who want a ready-made FetchFunc backed by net/http instead of
// writing their own transport plumbing (SPEC_FULL.md §10.5). It is kept
// outside the core package: the cache engine treats the fetch function as
// an opaque caller-supplied callback, and a consumer who doesn't need an
// HTTP-backed one can ignore this package entirely.
package httpfetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	rootcerts "github.com/hashicorp/go-rootcerts"
	sockaddrTemplate "github.com/hashicorp/go-sockaddr/template"
)

// Config configures New. It mirrors the client-construction style of the
// teacher's consul_v1.go endpoint helpers, generalized to an arbitrary
// JSON HTTP endpoint instead of a fixed Consul/Vault API surface.
type Config struct {
	// BindAddressTemplate, if set, is resolved with go-sockaddr's template
	// syntax (e.g. "{{GetPrivateIP}}") to pick the local address HTTP
	// requests are issued from.
	BindAddressTemplate string

	// TLS configures the pooled transport's TLS settings via
	// go-rootcerts; a zero value uses the system cert pool.
	TLS rootcerts.Config
}

// New builds an http.Client configured per cfg, using go-cleanhttp's
// pooled transport as its base.
func New(cfg Config) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()

	tlsConfig := &tls.Config{}
	if err := rootcerts.ConfigureTLS(tlsConfig, &cfg.TLS); err != nil {
		return nil, fmt.Errorf("httpfetch: configuring TLS: %w", err)
	}
	transport.TLSClientConfig = tlsConfig

	if cfg.BindAddressTemplate != "" {
		ipStr, err := sockaddrTemplate.Parse(cfg.BindAddressTemplate)
		if err != nil {
			return nil, fmt.Errorf("httpfetch: resolving bind address: %w", err)
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return nil, fmt.Errorf("httpfetch: bind address template resolved to invalid IP %q", ipStr)
		}
		dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{Transport: transport}, nil
}

// JSONGet returns a qcache.FetchFunc (any func(context.Context)
// (interface{}, error) satisfies that type without importing qcache
// here) that issues a GET against url and decodes the JSON response body
// into a fresh value of the shape produced by newValue.
func JSONGet(client *http.Client, url string, newValue func() interface{}) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("httpfetch: %s: unexpected status %s", url, resp.Status)
		}

		value := newValue()
		if err := json.NewDecoder(resp.Body).Decode(value); err != nil {
			return nil, fmt.Errorf("httpfetch: decoding %s: %w", url, err)
		}
		return value, nil
	}
}
