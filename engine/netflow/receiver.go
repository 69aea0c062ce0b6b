package netflow

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/99souls/zensight/engine/bridge"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// Receiver runs one UDP listener (spec §4.5). Each NetFlow exporter
// (identified by source IP) gets its own template cache and pending-data
// buffer, since templates are scoped per exporter.
type Receiver struct {
	bind                string
	templateCacheSize   int
	templateTimeout     time.Duration
	log                 logging.Logger

	mu        sync.Mutex
	caches    map[string]*templateCache
	pendings  map[string]*pendingBuffer
}

// NewReceiver builds a Receiver bound to listener.Bind, using cfg's
// template-timeout for cache TTL.
func NewReceiver(listener config.NetflowListener, cfg config.NetflowConfig, log logging.Logger) *Receiver {
	if log == nil {
		log = logging.New(nil)
	}
	timeout := time.Duration(cfg.TemplateTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}
	return &Receiver{
		bind:              listener.Bind,
		templateCacheSize: 4096,
		templateTimeout:   timeout,
		log:               log,
		caches:            make(map[string]*templateCache),
		pendings:          make(map[string]*pendingBuffer),
	}
}

// Adapter returns the bridge.AdapterFunc for this receiver.
func (r *Receiver) Adapter() bridge.AdapterFunc {
	return r.run
}

func (r *Receiver) run(ctx context.Context, pub bridge.PublisherHandle, health bridge.HealthReporter, liveness bridge.LivenessManager) error {
	addr, err := net.ResolveUDPAddr("udp", r.bind)
	if err != nil {
		return zerr.Configf("netflow: resolve bind %s: %v", r.bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return zerr.Transportf(false, "netflow: listen %s: %v", r.bind, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			health.RecordFailure(r.bind, err)
			continue
		}
		r.handleDatagram(ctx, pub, health, peer.IP.String(), append([]byte(nil), buf[:n]...))
	}
}

func (r *Receiver) handleDatagram(ctx context.Context, pub bridge.PublisherHandle, health bridge.HealthReporter, exporter string, data []byte) {
	if len(data) < 2 {
		health.RecordFailure(exporter, zerr.Parsef(exporter, "netflow: datagram too short"))
		return
	}
	cache := r.cacheFor(exporter)
	pending := r.pendingFor(exporter)
	cache.PurgeExpired()

	version := binary.BigEndian.Uint16(data[0:2])
	var records []flowRecord
	var err error

	switch version {
	case 5:
		records, err = decodeV5(data, v5RecordLen)
	case 7:
		records, err = decodeV5(data, v7RecordLen)
	case 9:
		var res decodeResult
		res, err = decodeV9(data, exporter, cache, pending)
		records = res.Records
	case 10:
		var res decodeResult
		res, err = decodeIPFIX(data, exporter, cache, pending)
		records = res.Records
	default:
		err = zerr.Parsef(exporter, "netflow: unsupported version %d", version)
	}

	if err != nil {
		health.RecordFailure(exporter, err)
		return
	}

	if version == 9 || version == 10 {
		// Buffered data sets are retried within the same window the
		// template cache itself uses for eviction (spec §4.5:
		// "retried ... within template_timeout_secs").
		ready, stale := pending.DrainRetryable(exporter, cache, r.templateTimeout)
		for _, s := range stale {
			health.RecordFailure(exporter, zerr.Parsef(exporter, "netflow: data set for template %d dropped, no template arrived within timeout", s.key.ID))
		}
		for _, s := range ready {
			if tpl, ok := cache.Get(s.key); ok {
				records = append(records, decodeDataRecords(s.data, tpl)...)
			}
		}
	}

	health.RecordSuccess(exporter, 0)
	for _, rec := range records {
		r.emit(ctx, pub, exporter, rec)
	}
}

func (r *Receiver) emit(ctx context.Context, pub bridge.PublisherHandle, exporter string, rec flowRecord) {
	pt := &telemetry.TelemetryPoint{
		Timestamp: telemetry.NowMs(),
		Source:    exporter,
		Protocol:  telemetry.ProtocolNetflow,
		Metric:    firstNonEmpty(rec.SrcAddr, "unknown") + "/" + firstNonEmpty(rec.DstAddr, "unknown"),
		Value:     telemetry.CounterValue(rec.Bytes),
		Labels: map[string]string{
			"src_addr": rec.SrcAddr,
			"dst_addr": rec.DstAddr,
			"src_port": strconv.FormatUint(uint64(rec.SrcPort), 10),
			"dst_port": strconv.FormatUint(uint64(rec.DstPort), 10),
			"protocol": strconv.FormatUint(uint64(rec.Protocol), 10),
			"packets":  strconv.FormatUint(rec.Packets, 10),
			"first":    strconv.FormatUint(rec.First, 10),
			"last":     strconv.FormatUint(rec.Last, 10),
		},
	}
	if err := pub.Publish(ctx, pt); err != nil {
		r.log.WarnCtx(ctx, "netflow: publish failed", "exporter", exporter, "error", err)
	}

	// Every flow endpoint IP is correlated under its own identity: NetFlow
	// has no friendlier name for an endpoint than the IP itself, but
	// publishing it still lets the SNMP side's device-name correlation
	// join against it (spec §4.9).
	for _, ip := range []string{rec.SrcAddr, rec.DstAddr} {
		if ip == "" {
			continue
		}
		if err := pub.Correlate(ctx, ip, ip); err != nil {
			r.log.WarnCtx(ctx, "netflow: correlation publish failed", "ip", ip, "error", err)
		}
	}
}

func (r *Receiver) cacheFor(exporter string) *templateCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[exporter]
	if !ok {
		c = newTemplateCache(r.templateCacheSize, r.templateTimeout)
		r.caches[exporter] = c
	}
	return c
}

func (r *Receiver) pendingFor(exporter string) *pendingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pendings[exporter]
	if !ok {
		p = newPendingBuffer(16)
		r.pendings[exporter] = p
	}
	return p
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

