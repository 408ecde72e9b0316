package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/capture"
	"firestige.xyz/netcap/internal/config"
	"firestige.xyz/netcap/internal/core"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func udpFrame(t *testing.T, src, dst uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src), DstPort: layers.UDPPort(dst)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("x")))
	return buf.Bytes()
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.REPL = false
	cfg.Log.Level = "error"
	if mutate != nil {
		mutate(cfg)
		require.NoError(t, cfg.ValidateAndApplyDefaults())
	}
	return cfg
}

type harness struct {
	app    *App
	dev    *capture.MemoryDevice
	stdout *syncBuffer
	stderr *syncBuffer
	done   chan error
}

func startApp(t *testing.T, cfg *config.Config, stdin io.Reader, frames ...[]byte) *harness {
	t.Helper()
	h := &harness{
		dev:    capture.NewMemoryDevice(frames...),
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		done:   make(chan error, 1),
	}
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	a, err := New(cfg,
		WithIO(stdin, h.stdout, h.stderr),
		WithDeviceOpener(func(capture.Options) (capture.Device, error) { return h.dev, nil }),
	)
	require.NoError(t, err)
	h.app = a
	go func() { h.done <- a.Run(context.Background()) }()
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunExtractsAndForwards(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Pipeline.DSL = "udp-ports"
	})
	h := startApp(t, cfg, nil, udpFrame(t, 40000, 53), udpFrame(t, 40001, 123))

	assert.Eventually(t, func() bool { return h.app.Stats().Forwarded.Load() == 2 }, 2*time.Second, time.Millisecond)
	h.app.TriggerShutdown()
	require.NoError(t, h.wait(t))

	out := h.stdout.String()
	assert.Contains(t, out, "40000,53\n")
	assert.Contains(t, out, "40001,123\n")
	snap := h.app.Stats().Snapshot()
	assert.Equal(t, uint64(2), snap.Captured)
	assert.Equal(t, uint64(2), snap.Processed)
}

func TestInitialFilterIsApplied(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Pipeline.DSL = "udp-ports"
		c.Capture.Filter = "udp dst port 53"
	})
	h := startApp(t, cfg, nil, udpFrame(t, 40000, 53), udpFrame(t, 40001, 123))

	assert.Eventually(t, func() bool { return h.app.Stats().Forwarded.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "udp dst port 53", h.dev.Filter())
	assert.Equal(t, "udp dst port 53", h.app.Filters().String())
	h.app.TriggerShutdown()
	require.NoError(t, h.wait(t))
	assert.NotContains(t, h.stdout.String(), "123")
}

func TestInvalidInitialFilter(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Capture.Filter = "udp port"
	})
	h := startApp(t, cfg, nil)
	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrFilterSyntax)
}

func TestQuitFromREPL(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.REPL = true
		c.Pipeline.DynamicTransformation = true
	})
	stdin := strings.NewReader("af udp\nsdtf udp-ports\nsp {udp: {src: 7, dst: 9}}\nquit\n")
	h := startApp(t, cfg, stdin)
	require.NoError(t, h.wait(t))

	out := h.stdout.String()
	assert.Contains(t, out, "filter: udp\n")
	assert.Contains(t, out, "transformation: udpSrc,udpDst\n")
	assert.Contains(t, out, "sent ")
	assert.Len(t, h.dev.Sent(), 1)
	assert.Equal(t, "dsl", h.app.Handle().Load().Name)
}

func TestDurationEndsRun(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Duration = 1
		c.Stats.Interval = 100
	})
	h := startApp(t, cfg, nil, udpFrame(t, 1, 2))
	require.NoError(t, h.wait(t))

	assert.Contains(t, h.stderr.String(), "captured=")
	assert.Equal(t, uint64(1), h.app.Stats().Snapshot().DeviceReceived)
}

func TestDefaultTransformationIsHex(t *testing.T) {
	frame := udpFrame(t, 1, 2)
	cfg := testConfig(t, nil)
	h := startApp(t, cfg, nil, frame)

	assert.Eventually(t, func() bool { return h.app.Stats().Forwarded.Load() == 1 }, 2*time.Second, time.Millisecond)
	h.app.TriggerShutdown()
	require.NoError(t, h.wait(t))
	assert.Equal(t, DefaultTransformation, h.app.Handle().Load().Name)
	assert.Contains(t, h.stdout.String(), "000102030405")
}

func TestNewRejectsUnknownNames(t *testing.T) {
	opener := WithDeviceOpener(func(capture.Options) (capture.Device, error) { return capture.NewMemoryDevice(), nil })

	cfg := testConfig(t, func(c *config.Config) { c.Pipeline.Transformation = "nope" })
	_, err := New(cfg, opener)
	assert.ErrorIs(t, err, core.ErrNameNotFound)

	cfg = testConfig(t, func(c *config.Config) { c.Forwarder.Name = "nope" })
	_, err = New(cfg, opener)
	assert.ErrorIs(t, err, core.ErrNameNotFound)

	cfg = testConfig(t, func(c *config.Config) { c.Pipeline.DSL = "not-registered" })
	_, err = New(cfg, opener)
	assert.ErrorIs(t, err, core.ErrNameNotFound)
}

func TestAdaptationWiring(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Pipeline.DSL = "ipv4-5tuple"
		c.Adaptation.Interval = 20
	})
	h := startApp(t, cfg, nil)
	require.NotNil(t, h.app.controller)
	assert.Eventually(t, func() bool {
		return h.app.controller.Status().State.String() == "monitoring"
	}, 2*time.Second, time.Millisecond)
	h.app.TriggerShutdown()
	require.NoError(t, h.wait(t))
}

func TestPIDFileLifecycle(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "netcap.pid")
	cfg := testConfig(t, func(c *config.Config) { c.PIDFile = pidPath })
	h := startApp(t, cfg, nil)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(pidPath)
		return err == nil && string(data) == strconv.Itoa(os.Getpid())+"\n"
	}, 2*time.Second, time.Millisecond)

	h.app.TriggerShutdown()
	require.NoError(t, h.wait(t))
	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}
