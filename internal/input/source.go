package input

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"
)

// Source is an open TS byte stream.
type Source struct {
	io.Reader
	closers []io.Closer
}

// Close releases the underlying connection or file.
func (s *Source) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open dials a stream location: "-" for stdin, "udp://group:port" for a
// (multicast) UDP socket, "http(s)://…" for an HTTP stream, anything else a
// file path.
func Open(ctx context.Context, location string) (*Source, error) {
	switch {
	case location == "-":
		return &Source{Reader: os.Stdin}, nil
	case strings.HasPrefix(location, "udp://"):
		return openUDP(location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return openHTTP(ctx, location)
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		return &Source{Reader: f, closers: []io.Closer{f}}, nil
	}
}

// openUDP binds the destination port and, for multicast groups, joins the
// group on the default interface (or the one named after "#" in the URL,
// e.g. udp://239.1.2.3:1234#eth0).
func openUDP(location string) (*Source, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("input: udp url: %w", err)
	}
	host := u.Hostname()
	group := net.ParseIP(host)
	if group == nil {
		return nil, fmt.Errorf("input: udp host %q is not an IP", host)
	}
	conn, err := net.ListenPacket("udp4", ":"+u.Port())
	if err != nil {
		return nil, fmt.Errorf("input: listen udp: %w", err)
	}
	if group.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		var ifi *net.Interface
		if name := u.Fragment; name != "" {
			ifi, err = net.InterfaceByName(name)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("input: interface %q: %w", name, err)
			}
		}
		if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("input: join %s: %w", group, err)
		}
	}
	return &Source{Reader: &datagramReader{conn: conn}, closers: []io.Closer{conn}}, nil
}

// datagramReader surfaces a packet socket as a byte stream. Each Read returns
// one datagram; callers hand the bytes to a Scanner for TS framing.
type datagramReader struct {
	conn net.PacketConn
}

func (d *datagramReader) Read(p []byte) (int, error) {
	n, _, err := d.conn.ReadFrom(p)
	return n, err
}

// openHTTP issues a streaming GET. Brotli responses are transparently
// decoded; some providers compress even video when the client offers it.
func openHTTP(ctx context.Context, location string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("input: build request: %w", err)
	}
	req.Header.Set("User-Agent", "tsgate/1.0")
	req.Header.Set("Accept-Encoding", "br")
	// No overall timeout: the stream is long-lived. Header timeouts keep a
	// dead upstream from hanging the pipeline forever.
	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("input: GET: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("input: HTTP %d", resp.StatusCode)
	}
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		r = brotli.NewReader(resp.Body)
	}
	return &Source{Reader: r, closers: []io.Closer{resp.Body}}, nil
}

// Paced wraps a reader so it delivers at most bitsPerSec, for realtime
// replay of file captures. The limiter buckets in kilobits so one second of
// burst never overflows the limiter's integer budget.
func Paced(r io.Reader, bitsPerSec float64) io.Reader {
	if bitsPerSec <= 0 {
		return r
	}
	kbps := bitsPerSec / 1000
	return &pacedReader{
		r:   r,
		lim: rate.NewLimiter(rate.Limit(kbps), int(kbps)+1),
	}
}

type pacedReader struct {
	r   io.Reader
	lim *rate.Limiter
}

func (p *pacedReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		kbits := n * 8 / 1000
		if kbits < 1 {
			kbits = 1
		}
		if waitErr := p.lim.WaitN(context.Background(), kbits); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return n, err
}
