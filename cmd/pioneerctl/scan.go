package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/spf13/cobra"
)

// mdnsDomain is the browse domain.
const mdnsDomain = "local."

// candidate is a discovered service that may be a receiver.
type candidate struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string
	Text      []string
}

func candidateFromEntry(entry *zeroconf.ServiceEntry) candidate {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return candidate{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Text:      entry.Text,
	}
}

// matches reports whether the instance name or a TXT record contains
// pattern, ignoring case. An empty pattern matches everything.
func (c candidate) matches(pattern string) bool {
	if pattern == "" {
		return true
	}
	pattern = strings.ToLower(pattern)
	if strings.Contains(strings.ToLower(c.Instance), pattern) {
		return true
	}
	for _, txt := range c.Text {
		if strings.Contains(strings.ToLower(txt), pattern) {
			return true
		}
	}
	return false
}

// controlHost is the address to pass to --host: the first IPv4 address,
// else the first address, else the mDNS host name.
func (c candidate) controlHost() string {
	for _, addr := range c.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return addr
		}
	}
	if len(c.Addresses) > 0 {
		return c.Addresses[0]
	}
	return strings.TrimSuffix(c.Host, ".")
}

func newScanCmd() *cobra.Command {
	var (
		service string
		match   string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find receivers on the LAN with mDNS",
		Long: `Browse mDNS for receivers. Network-enabled Pioneer receivers advertise
their web interface, so the default browses _http._tcp and keeps instances
whose name or TXT records contain "Pioneer".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			found, err := browse(ctx, service, match)
			if err != nil {
				return err
			}
			printCandidates(cmd.OutOrStdout(), found)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "_http._tcp", "mDNS service type to browse")
	cmd.Flags().StringVar(&match, "match", "Pioneer", "Case-insensitive filter on instance name and TXT records")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to listen for answers")
	return cmd
}

// browse collects matching services until ctx ends.
func browse(ctx context.Context, service, match string) ([]candidate, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- zeroconf.Browse(ctx, service, mdnsDomain, entries, removed)
	}()

	seen := make(map[string]candidate)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			c := candidateFromEntry(entry)
			if c.matches(match) {
				seen[c.Instance] = c
			}
		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			delete(seen, entry.Instance)
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("mdns browse: %w", err)
			}
			errCh = nil
		case <-ctx.Done():
			return sortedCandidates(seen), nil
		}
	}
}

func sortedCandidates(seen map[string]candidate) []candidate {
	out := make([]candidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

func printCandidates(w io.Writer, found []candidate) {
	if len(found) == 0 {
		fmt.Fprintln(w, "no receivers found")
		return
	}
	for _, c := range found {
		fmt.Fprintf(w, "%s\n  host: %s\n  mdns: %s:%d\n", c.Instance, c.controlHost(), c.Host, c.Port)
	}
}
