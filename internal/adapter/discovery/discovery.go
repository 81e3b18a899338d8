// Package discovery advertises host shells on the local network and lets
// clients find them. The mDNS implementation is compiled in with the mdns
// build tag; otherwise Noop is used.
package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultService = "_hostbridge._tcp"
	DefaultDomain  = "local."
)

// Advertisement describes the host shell being published.
type Advertisement struct {
	Instance     string
	Port         int
	HostName     string
	FrameContext string
	GRPCPort     int
	Version      string
}

// TXT encodes the advertisement metadata as DNS-SD TXT records, sorted for
// stable output.
func (a Advertisement) TXT() []string {
	txt := []string{
		"frame_context=" + a.FrameContext,
		"host_name=" + a.HostName,
		"ws_path=/ws",
	}
	if a.GRPCPort > 0 {
		txt = append(txt, "grpc_port="+strconv.Itoa(a.GRPCPort))
	}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	slices.Sort(txt)
	return txt
}

// HostRecord is one discovered host shell.
type HostRecord struct {
	Instance string
	Host     string // IP literal
	Port     int
	Metadata map[string]string
}

// WebSocketURL returns the ws:// URL of the record's bridge endpoint.
func (r HostRecord) WebSocketURL() string {
	path := r.Metadata["ws_path"]
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + path
}

// GRPCAddr returns host:port of the record's gRPC endpoint, or "" when the
// host does not serve one.
func (r HostRecord) GRPCAddr() string {
	p, err := strconv.Atoi(r.Metadata["grpc_port"])
	if err != nil || p <= 0 {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(p))
}

// Discoverer publishes and finds host shells.
type Discoverer interface {
	// Advertise blocks until ctx is done.
	Advertise(ctx context.Context, ad Advertisement) error
	Browse(ctx context.Context) ([]HostRecord, error)
}

// First returns the first record from d, or an error when none answered.
func First(ctx context.Context, d Discoverer) (HostRecord, error) {
	records, err := d.Browse(ctx)
	if err != nil {
		return HostRecord{}, err
	}
	if len(records) == 0 {
		return HostRecord{}, fmt.Errorf("no host shell found on the local network")
	}
	return records[0], nil
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}
