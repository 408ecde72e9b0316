package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netcap/internal/adapt"
	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/filter"
	"firestige.xyz/netcap/internal/pipeline"
	"firestige.xyz/netcap/internal/stats"
	"firestige.xyz/netcap/internal/transform"
)

type fakeDevice struct {
	mu      sync.Mutex
	filters []string
}

func (d *fakeDevice) SetFilter(expr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.Contains(expr, "bogus") {
		return errors.New("syntax error")
	}
	d.filters = append(d.filters, expr)
	return nil
}

type fakeInjector struct {
	frames [][]byte
	panics bool
}

func (i *fakeInjector) Inject(data []byte) error {
	if i.panics {
		panic("device exploded")
	}
	i.frames = append(i.frames, data)
	return nil
}

func newTestDispatcher(dynamic bool) (*Dispatcher, *fakeInjector, *pipeline.Handle) {
	inj := &fakeInjector{}
	raw, _ := transform.NewRegistry().Get("raw")
	h := pipeline.NewHandle(raw)
	d := NewDispatcher(Options{
		Filters:   filter.NewManager(&fakeDevice{}, time.Second),
		Injector:  inj,
		Publisher: h,
		Compiler:  dsl.NewCache(0),
		Dynamic:   dynamic,
	})
	return d, inj, h
}

func exec(t *testing.T, d *Dispatcher, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	quit, err := d.Execute(line, &out)
	assert.False(t, quit)
	return out.String(), err
}

func TestFilterCommands(t *testing.T) {
	d, _, _ := newTestDispatcher(false)

	out, err := exec(t, d, "add-filter tcp")
	require.NoError(t, err)
	assert.Equal(t, "filter: tcp\n", out)

	out, err = exec(t, d, "af or udp")
	require.NoError(t, err)
	assert.Equal(t, "filter: tcp or udp\n", out)

	out, err = exec(t, d, "rf udp with-filter icmp")
	require.NoError(t, err)
	assert.Equal(t, "filter: tcp or icmp\n", out)

	out, err = exec(t, d, "gf")
	require.NoError(t, err)
	assert.Equal(t, "0\t-\ttcp\n1\tor\ticmp\nfilter: tcp or icmp\n", out)

	_, err = exec(t, d, "af and bogus")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)

	_, err = exec(t, d, "af udp")
	assert.ErrorIs(t, err, core.ErrFilterSyntax)

	out, err = exec(t, d, "rlf")
	require.NoError(t, err)
	assert.Equal(t, "filter: tcp\n", out)

	out, err = exec(t, d, "raf")
	require.NoError(t, err)
	assert.Equal(t, "filter: (none)\n", out)
}

func TestReplaceFilterErrors(t *testing.T) {
	d, _, _ := newTestDispatcher(false)

	_, err := exec(t, d, "rf tcp")
	assert.ErrorIs(t, err, core.ErrCommandParse)

	_, err = exec(t, d, "replace-filter tcp with-filter udp")
	assert.ErrorIs(t, err, filter.ErrClauseNotFound)

	_, err = exec(t, d, "af")
	assert.ErrorIs(t, err, core.ErrCommandParse)
}

func TestPacketCommands(t *testing.T) {
	d, inj, _ := newTestDispatcher(false)

	out, err := exec(t, d, "gp {udp: {dst: 53}}")
	require.NoError(t, err)
	assert.Contains(t, out, "08 00 45")

	out, err = exec(t, d, "sp de ad be ef")
	require.NoError(t, err)
	assert.Equal(t, "sent 4 bytes\n", out)
	require.Len(t, inj.frames, 1)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, inj.frames[0])

	_, err = exec(t, d, "send-packet {udp: {dst: 53}}")
	require.NoError(t, err)
	assert.Len(t, inj.frames, 2)

	_, err = exec(t, d, "gp {tcp: {flags: [nope]}}")
	assert.ErrorIs(t, err, core.ErrCommandParse)
}

func TestSetDSLRequiresDynamic(t *testing.T) {
	d, _, h := newTestDispatcher(false)
	before := h.Load()

	_, err := exec(t, d, "sdtf udp-ports")
	assert.ErrorIs(t, err, core.ErrDynamicDisabled)
	assert.Same(t, before, h.Load())
}

func TestSetDSL(t *testing.T) {
	d, _, h := newTestDispatcher(true)

	out, err := exec(t, d, "set-dsl-tr-fn udp-ports")
	require.NoError(t, err)
	assert.Equal(t, "transformation: udpSrc,udpDst\n", out)
	require.NotNil(t, h.Load().Program)
	assert.Equal(t, []string{"udpSrc", "udpDst"}, h.Load().Program.Names())

	_, err = exec(t, d, "sdtf no-such-expression")
	assert.ErrorIs(t, err, core.ErrNameNotFound)

	_, err = exec(t, d, "sdtf {fields: [{name: x, type: uint8, offset: 70000}]}")
	assert.ErrorIs(t, err, core.ErrCompile)
	assert.Equal(t, []string{"udpSrc", "udpDst"}, h.Load().Program.Names(), "failed swap keeps the active program")
}

func TestSetDSLRetargetsAdaptation(t *testing.T) {
	cache := dsl.NewCache(0)
	target, err := dsl.Resolve("udp-ports")
	require.NoError(t, err)
	prog, err := cache.Compile(target)
	require.NoError(t, err)
	h := pipeline.NewHandle(transform.FromProgram("dsl", prog))

	ctrl, err := adapt.New(adapt.Config{Target: target, Threshold: 0.1, Interpolation: 2, Inactivity: 1}, cache, h)
	require.NoError(t, err)

	d := NewDispatcher(Options{Publisher: h, Compiler: cache, Targeter: ctrl, Dynamic: true})

	var snap stats.Snapshot
	ctrl.Tick(snap)
	snap.Captured, snap.QueueDropped = 100, 50
	ctrl.Tick(snap)
	require.Equal(t, adapt.Adjusting, ctrl.Status().State)

	out, err := exec(t, d, "sdtf ipv4-5tuple")
	require.NoError(t, err)
	assert.Equal(t, "transformation: src,dst,proto,srcPort,dstPort\n", out)

	snap.Captured += 100
	ctrl.Tick(snap)
	assert.Equal(t, []string{"src", "dst", "proto", "srcPort", "dstPort"}, h.Load().Program.Names())
	assert.Equal(t, 2, ctrl.Status().Level)
}

func TestPanicIsRecovered(t *testing.T) {
	d, inj, _ := newTestDispatcher(false)
	inj.panics = true

	_, err := exec(t, d, "sp 00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device exploded")
}

func TestRunLoop(t *testing.T) {
	d, _, _ := newTestDispatcher(false)

	in := strings.NewReader("\n   \nfrobnicate\naf tcp\nquit\naf udp\n")
	var out bytes.Buffer
	quit, err := d.Run(context.Background(), in, &out)
	require.NoError(t, err)
	assert.True(t, quit)

	text := out.String()
	assert.Contains(t, text, `error: netcap: command parse error: unknown command "frobnicate"`)
	assert.Contains(t, text, "commands:\n")
	assert.Contains(t, text, "filter: tcp\n")
	assert.NotContains(t, text, "udp", "lines after quit are not executed")
}

func TestRunEOF(t *testing.T) {
	d, _, _ := newTestDispatcher(false)
	quit, err := d.Run(context.Background(), strings.NewReader("help\n"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, quit)
}

func TestQuitAlias(t *testing.T) {
	d, _, _ := newTestDispatcher(false)
	quit, err := d.Execute("q", &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestHelpListsEveryCommand(t *testing.T) {
	d, _, _ := newTestDispatcher(false)
	out, err := exec(t, d, "?")
	require.NoError(t, err)
	for _, c := range d.commands {
		assert.Contains(t, out, c.name+", "+c.alias)
	}
}
