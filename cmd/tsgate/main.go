// Command tsgate reads an MPEG-TS stream, descrambles the selected PIDs with
// the installed control words, and writes the cleartext stream out. Keys can
// come from flags, a YAML file, a persistent keystore, or a Redis channel.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/tsgate/tsgate/internal/config"
	"github.com/tsgate/tsgate/internal/descrambler"
	"github.com/tsgate/tsgate/internal/evloop"
	"github.com/tsgate/tsgate/internal/flow"
	"github.com/tsgate/tsgate/internal/input"
	"github.com/tsgate/tsgate/internal/keysource"
	"github.com/tsgate/tsgate/internal/keystore"
	"github.com/tsgate/tsgate/internal/pidfilter"
	"github.com/tsgate/tsgate/internal/svcident"
	"github.com/tsgate/tsgate/internal/ts"
)

// probeBudget caps how many output packets the identity probe inspects.
const probeBudget = 5000

func main() {
	cfg := config.Load()

	configPath := flag.String("config", "", "YAML config file (merged over the environment)")
	inputLoc := flag.String("input", cfg.Input, "input: '-', file path, udp://group:port, http(s)://url")
	outputLoc := flag.String("output", cfg.Output, "output: '-' or file path")
	evenCW := flag.String("even-cw", cfg.EvenCW, "even control word (hex; 16 chars CSA, 32 chars AES)")
	oddCW := flag.String("odd-cw", cfg.OddCW, "odd control word (hex, same length as even)")
	pids := flag.IntSlice("pid", nil, "PID to descramble (repeatable)")
	latency := flag.Duration("latency", time.Duration(cfg.Latency), "batching budget; >0 batches CSA decryption")
	service := flag.String("service", cfg.Service, "service name for the keystore")
	keystorePath := flag.String("keystore", cfg.KeystorePath, "SQLite keystore path ('' disables)")
	redisAddr := flag.String("redis-addr", cfg.RedisAddr, "Redis host:port for live key updates ('' disables)")
	redisChannel := flag.String("redis-channel", cfg.RedisChannel, "Redis pub/sub channel carrying 'even[:odd]' words")
	paceBits := flag.Float64("pace", cfg.PaceBits, "realtime replay bitrate for file input (bits/s; 0 = full speed)")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "HTTP listen address for /metrics and /healthz ('' disables)")
	flag.Parse()

	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
		// Flags the user did not set fall back to the merged file values.
		if !flag.CommandLine.Changed("input") {
			*inputLoc = cfg.Input
		}
		if !flag.CommandLine.Changed("output") {
			*outputLoc = cfg.Output
		}
		if !flag.CommandLine.Changed("even-cw") {
			*evenCW = cfg.EvenCW
		}
		if !flag.CommandLine.Changed("odd-cw") {
			*oddCW = cfg.OddCW
		}
		if !flag.CommandLine.Changed("latency") {
			*latency = time.Duration(cfg.Latency)
		}
		if !flag.CommandLine.Changed("service") {
			*service = cfg.Service
		}
		if !flag.CommandLine.Changed("keystore") {
			*keystorePath = cfg.KeystorePath
		}
		if !flag.CommandLine.Changed("redis-addr") {
			*redisAddr = cfg.RedisAddr
		}
		if !flag.CommandLine.Changed("redis-channel") {
			*redisChannel = cfg.RedisChannel
		}
		if !flag.CommandLine.Changed("pace") {
			*paceBits = cfg.PaceBits
		}
		if !flag.CommandLine.Changed("metrics-addr") {
			*metricsAddr = cfg.MetricsAddr
		}
	}

	out, closeOut, err := openOutput(*outputLoc)
	if err != nil {
		log.Fatalf("output: %v", err)
	}
	defer closeOut()

	pidSet := &pidfilter.Set{}
	addPID := func(pid uint16) {
		if err := pidSet.Add(pid); err != nil {
			log.Printf("pid 0x%X: %v", pid, err)
		}
	}
	for _, pid := range cfg.PIDs {
		addPID(pid)
	}
	for _, pid := range *pids {
		if pid < 0 || pid > ts.MaxPID {
			log.Fatalf("pid %d out of range", pid)
		}
		addPID(uint16(pid))
	}

	var store *keystore.Store
	if *keystorePath != "" {
		store, err = keystore.Open(*keystorePath)
		if err != nil {
			log.Fatalf("keystore: %v", err)
		}
		defer store.Close()
		if *evenCW == "" {
			even, odd, err := store.LoadKey(*service)
			if err != nil && !errors.Is(err, keystore.ErrNotFound) {
				log.Fatalf("keystore: %v", err)
			}
			*evenCW, *oddCW = even, odd
		}
		storedPIDs, err := store.PIDs(*service)
		if err != nil {
			log.Fatalf("keystore: %v", err)
		}
		for _, pid := range storedPIDs {
			addPID(pid)
		}
	}

	sink := &writerSink{w: bufio.NewWriterSize(out, 64*ts.PacketSize)}
	loop := evloop.New()
	defer loop.Close()
	desc := descrambler.New(descrambler.Config{
		Sink:    sink,
		PIDs:    pidSet,
		Loop:    loop,
		Latency: *latency,
	})

	installKey := func(even, odd string) error {
		var err error
		loop.Sync(func() { err = desc.SetKey(even, odd) })
		if err != nil {
			return err
		}
		if store != nil {
			if err := store.SaveKey(*service, even, odd); err != nil {
				log.Printf("keystore: %v", err)
			}
		}
		return nil
	}
	if *evenCW != "" {
		if err := installKey(*evenCW, *oddCW); err != nil {
			log.Fatalf("set key: %v", err)
		}
	} else {
		log.Printf("no control words installed; stream passes through")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *redisAddr != "" {
		sub := keysource.New(*redisAddr, *redisChannel, func(even, odd string) {
			if err := installKey(even, odd); err != nil {
				log.Printf("keysource: rejected words: %v", err)
			} else {
				log.Printf("keysource: installed new control words")
			}
		})
		defer sub.Close()
		go func() {
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("keysource: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "packets": sink.packets.Load()})
		})
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
		log.Printf("metrics on %s", *metricsAddr)
	}

	src, err := input.Open(ctx, *inputLoc)
	if err != nil {
		log.Fatalf("input: %v", err)
	}
	defer src.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("shutting down")
		cancel()
		src.Close()
	}()

	var reader io.Reader = src
	if *paceBits > 0 {
		reader = input.Paced(src, *paceBits)
	}

	// Announce the stream downstream before the first packet.
	loop.Sync(func() {
		if err := desc.PutFormat(&flow.Format{Def: flow.Prefix, Program: *service}); err != nil {
			log.Printf("format: %v", err)
		}
	})

	start := time.Now()
	scanner := input.NewScanner(reader)
	var count uint64
	for {
		pkt, err := scanner.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("input: %v", err)
			}
			break
		}
		buf := make([]byte, len(pkt))
		copy(buf, pkt)
		p := ts.NewWritable(buf)
		p.When = time.Now()
		loop.Post(func() { desc.Put(p) })
		count++
	}

	loop.Sync(func() { desc.Flush() })
	if err := sink.w.Flush(); err != nil {
		log.Printf("output: %v", err)
	}
	log.Printf("done packets_in=%d packets_out=%d sync_losses=%d dur=%s",
		count, sink.packets.Load(), scanner.SyncLosses(), time.Since(start).Round(time.Millisecond))
}

func openOutput(location string) (io.Writer, func(), error) {
	if location == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(location)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", location, err)
	}
	return f, func() { f.Close() }, nil
}

// writerSink writes descrambled packets to the output and feeds the first
// few thousand to the identity probe so the log names the service.
type writerSink struct {
	w        *bufio.Writer
	probe    svcident.Probe
	probed   bool
	packets  atomic.Uint64
	writeErr bool
}

func (s *writerSink) Output(p *ts.Packet) {
	n := s.packets.Add(1)
	if !s.writeErr {
		if _, err := s.w.Write(p.Data); err != nil {
			s.writeErr = true
			log.Printf("output: %v", err)
		}
	}
	if !s.probed && n <= probeBudget {
		if res, done := s.probe.Feed(p.Data); done {
			s.probed = true
			if res.Found {
				log.Printf("svcident: provider=%q service=%q type=0x%02X onid=0x%X tsid=0x%X sid=0x%X",
					res.ProviderName, res.ServiceName, res.ServiceType,
					res.OriginalNetworkID, res.TransportStreamID, res.ServiceID)
			}
		}
	}
}

func (s *writerSink) Format(f *flow.Format) {
	log.Printf("format: def=%s program=%q latency=%s", f.Def, f.Program, f.Latency)
}
