package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/gajzzs/garmind/internal/device"
	"github.com/gajzzs/garmind/internal/logger"
)

var (
	watch = device.Descriptor{ID: "/dev/sdb1#1a2b3c4d", Kind: device.KindUSB, DisplayName: "GARMIN", Node: "/dev/sdb1"}
	edge  = device.Descriptor{ID: "/dev/sdc1#5e6f7a8b", Kind: device.KindUSB, DisplayName: "EDGE", Node: "/dev/sdc1"}
	band  = device.Descriptor{ID: "C4:AA:01:02:03:04", Kind: device.KindBluetooth, DisplayName: "Garmin Venu", Address: "C4:AA:01:02:03:04"}
)

type transitionLog struct {
	mu    sync.Mutex
	steps map[string][]State
}

func (l *transitionLog) record(id string, _, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.steps == nil {
		l.steps = make(map[string][]State)
	}
	l.steps[id] = append(l.steps[id], to)
}

func (l *transitionLog) of(id string) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.steps[id]...)
}

func newMockTransport(ctrl *gomock.Controller, kind device.Kind) *device.MockTransport {
	tr := device.NewMockTransport(ctrl)
	tr.EXPECT().Kind().Return(kind).AnyTimes()
	return tr
}

func newTestCoordinator(transitions *transitionLog, transports ...device.Transport) *Coordinator {
	opts := Options{
		Retry:      RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		ScanWindow: time.Millisecond,
	}
	if transitions != nil {
		opts.OnTransition = transitions.record
	}
	return New(opts, logger.NewTestLogger(), transports...)
}

func emit(descs ...device.Descriptor) func(context.Context, time.Duration, func(device.Descriptor)) error {
	return func(_ context.Context, _ time.Duration, found func(device.Descriptor)) error {
		for _, d := range descs {
			found(d)
		}
		return nil
	}
}

func usbHandle(path string) *device.Handle {
	return &device.Handle{Kind: device.KindUSB, MountPath: path, Owned: true}
}

func busy() error {
	return device.NewError(device.ReasonDeviceBusy, "mount", "", nil)
}

func collectScan(t *testing.T, c *Coordinator, kind device.Kind) ([]device.Descriptor, error) {
	t.Helper()
	var out []device.Descriptor
	for d, err := range c.Scan(context.Background(), kind) {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func TestScanRegistersDescriptors(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Discover(gomock.Any(), time.Millisecond, gomock.Any()).DoAndReturn(emit(watch, edge))

	c := newTestCoordinator(nil, tr)

	found, err := collectScan(t, c, device.KindUSB)
	require.NoError(t, err)
	assert.Equal(t, []device.Descriptor{watch, edge}, found)
	assert.Len(t, c.Devices(device.KindUSB), 2)
	assert.Empty(t, c.Devices(device.KindBluetooth))
}

func TestScanSupersedesStaleDescriptors(t *testing.T) {
	ctrl := gomock.NewController(t)
	renamed := watch
	renamed.DisplayName = "FENIX 7"

	tr := newMockTransport(ctrl, device.KindUSB)
	gomock.InOrder(
		tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(emit(watch)),
		tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(emit(renamed)),
	)
	c := newTestCoordinator(nil, tr)

	_, err := collectScan(t, c, device.KindUSB)
	require.NoError(t, err)
	_, err = collectScan(t, c, device.KindUSB)
	require.NoError(t, err)

	devices := c.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "FENIX 7", devices[0].DisplayName)
}

func TestScanReportsTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindBluetooth)
	tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(device.NewError(device.ReasonNoAdapter, "discover", "", nil))

	c := newTestCoordinator(nil, tr)

	_, err := collectScan(t, c, device.KindBluetooth)
	assert.True(t, device.IsReason(err, device.ReasonNoAdapter))
}

func TestScanWithoutTransport(t *testing.T) {
	c := newTestCoordinator(nil)

	_, err := collectScan(t, c, device.KindUSB)
	assert.True(t, device.IsReason(err, device.ReasonSubsystemUnavailable))
}

func TestScanStopsWhenConsumerBreaks(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	stopped := make(chan struct{})
	tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ time.Duration, found func(device.Descriptor)) error {
			defer close(stopped)
			found(watch)
			found(edge)
			<-ctx.Done()
			return device.NewError(device.ReasonCancelled, "discover", "", ctx.Err())
		})

	c := newTestCoordinator(nil, tr)
	for d, err := range c.Scan(context.Background(), device.KindUSB) {
		require.NoError(t, err)
		assert.Equal(t, watch, d)
		break
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("discovery kept running after the consumer stopped")
	}
}

func TestConnectRetriesBusyThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	gomock.InOrder(
		tr.EXPECT().Open(gomock.Any(), watch).Return(nil, busy()),
		tr.EXPECT().Open(gomock.Any(), watch).Return(nil, busy()),
		tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle("/mnt/garmin/sdb1"), nil),
	)

	var steps transitionLog
	c := newTestCoordinator(&steps, tr)
	c.registry.Put(watch)

	snap, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	assert.Equal(t, StateMounted, snap.State)
	assert.Equal(t, 3, snap.Attempts)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, "/mnt/garmin/sdb1", snap.MountPath)
	assert.Equal(t, []State{
		StateCandidateFound,
		StateConnecting, StateFailed,
		StateConnecting, StateFailed,
		StateConnecting, StateMounted,
	}, steps.of(watch.ID))
}

func TestConnectPermissionDeniedFailsFast(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).
		Return(nil, device.NewError(device.ReasonPermissionDenied, "mount", watch.ID, os.ErrPermission)).
		Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	snap, err := c.Connect(context.Background(), watch.ID)
	require.Error(t, err)
	assert.True(t, device.IsReason(err, device.ReasonPermissionDenied))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, 1, snap.Attempts)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, device.ReasonPermissionDenied, snap.LastError.Reason)
}

func TestConnectSubsystemUnavailableFailsFast(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindBluetooth)
	tr.EXPECT().Open(gomock.Any(), band).
		Return(nil, device.NewError(device.ReasonSubsystemUnavailable, "pair", band.ID, nil)).
		Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(band)

	snap, err := c.Connect(context.Background(), band.ID)
	assert.True(t, device.IsReason(err, device.ReasonSubsystemUnavailable))
	assert.Equal(t, 1, snap.Attempts)
}

func TestConnectExhaustsRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindBluetooth)
	tr.EXPECT().Open(gomock.Any(), band).
		Return(nil, device.NewError(device.ReasonTimeout, "pair", band.ID, nil)).
		Times(3)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(band)

	snap, err := c.Connect(context.Background(), band.ID)
	assert.True(t, device.IsReason(err, device.ReasonTimeout))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, 3, snap.Attempts)
}

func TestConnectUnclassifiedErrorBecomesUnknown(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(nil, os.ErrInvalid)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	snap, err := c.Connect(context.Background(), watch.ID)
	var de *device.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, device.ReasonUnknown, de.Reason)
	assert.Equal(t, 1, snap.Attempts)
}

func TestConnectPairsBluetooth(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindBluetooth)
	tr.EXPECT().Open(gomock.Any(), band).Return(&device.Handle{
		Kind:       device.KindBluetooth,
		ObjectPath: "/org/bluez/hci0/dev_C4_AA_01_02_03_04",
		Owned:      true,
	}, nil)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(band)

	snap, err := c.Connect(context.Background(), band.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaired, snap.State)
	assert.Equal(t, "/org/bluez/hci0/dev_C4_AA_01_02_03_04", snap.PairingPath)
	assert.Empty(t, snap.MountPath)
}

func TestConnectWhenAlreadyConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle("/mnt/garmin/sdb1"), nil).Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	snap, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)
	assert.Equal(t, StateMounted, snap.State)
	assert.Equal(t, 1, snap.Attempts)
}

func TestConcurrentConnectSameID(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	entered := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		close(entered)
		<-release
		return usbHandle("/mnt/garmin/sdb1"), nil
	}).Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	type result struct {
		snap Snapshot
		err  error
	}
	first := make(chan result, 1)
	go func() {
		snap, err := c.Connect(context.Background(), watch.ID)
		first <- result{snap, err}
	}()

	<-entered
	_, err := c.Connect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonAlreadyConnecting))
	close(release)

	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, StateMounted, r.snap.State)
	assert.Len(t, c.Sessions(), 1)
}

func TestConnectManyCallersSameID(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	release := make(chan struct{})
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		<-release
		return usbHandle("/mnt/garmin/sdb1"), nil
	}).Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, refused int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Connect(context.Background(), watch.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case device.IsReason(err, device.ReasonAlreadyConnecting):
				refused++
			}
		}()
	}

	// let every caller either claim the attempt or be refused before releasing it
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return refused == callers-1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, refused)
	assert.Len(t, c.Sessions(), 1)
}

func TestConnectDifferentIDsInParallel(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	var both sync.WaitGroup
	both.Add(2)
	tr.EXPECT().Open(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, d device.Descriptor) (*device.Handle, error) {
		both.Done()
		both.Wait()
		return usbHandle("/mnt/garmin/" + filepath.Base(d.Node)), nil
	}).Times(2)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	c.registry.Put(edge)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{watch.ID, edge.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Connect(context.Background(), id)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, c.Sessions(), 2)
}

func TestConnectUnknownIDDiscoversFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(emit(edge, watch))
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle("/mnt/garmin/sdb1"), nil)

	var steps transitionLog
	c := newTestCoordinator(&steps, tr)

	snap, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)
	assert.Equal(t, StateMounted, snap.State)
	assert.Equal(t, watch, snap.Device)
	assert.Equal(t, []State{StateDiscovering, StateCandidateFound, StateConnecting, StateMounted}, steps.of(watch.ID))
	assert.Len(t, c.Devices(), 2)
}

func TestConnectUnknownIDNotFoundTimesOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	usb := newMockTransport(ctrl, device.KindUSB)
	usb.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(emit(edge))
	bt := newMockTransport(ctrl, device.KindBluetooth)
	bt.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(device.NewError(device.ReasonNoAdapter, "discover", "", nil))

	var steps transitionLog
	c := newTestCoordinator(&steps, usb, bt)

	snap, err := c.Connect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonTimeout))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, 0, snap.Attempts)
	assert.Equal(t, []State{StateDiscovering, StateFailed}, steps.of(watch.ID))
}

func TestConnectCancelledMidAttemptReleases(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	partial := usbHandle("/mnt/garmin/sdb1")
	ctx, cancel := context.WithCancel(context.Background())
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		cancel()
		return partial, nil
	})
	tr.EXPECT().Close(gomock.Any(), partial).Return(nil).Times(1)

	var steps transitionLog
	c := newTestCoordinator(&steps, tr)
	c.registry.Put(watch)

	snap, err := c.Connect(ctx, watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonCancelled))
	assert.Equal(t, StateFailed, snap.State)
	assert.Empty(t, snap.MountPath)
	assert.Equal(t, []State{StateCandidateFound, StateConnecting, StateDisconnecting, StateFailed}, steps.of(watch.ID))
}

func TestConnectCancelledDuringBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	ctx, cancel := context.WithCancel(context.Background())
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		return nil, busy()
	}).Times(1)

	c := New(Options{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}}, logger.NewTestLogger(), tr)
	c.registry.Put(watch)

	snap, err := c.Connect(ctx, watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonCancelled))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, 1, snap.Attempts)
}

func TestScanQueuesDescriptorWhileConnecting(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	renamed := watch
	renamed.DisplayName = "RENAMED"

	entered := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		close(entered)
		<-release
		return usbHandle("/mnt/garmin/sdb1"), nil
	})
	tr.EXPECT().Discover(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(emit(renamed))

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background(), watch.ID)
		done <- err
	}()
	<-entered

	found, err := collectScan(t, c, device.KindUSB)
	require.NoError(t, err)
	assert.Equal(t, []device.Descriptor{renamed}, found)

	d, _ := c.registry.Get(watch.ID)
	assert.Equal(t, "GARMIN", d.DisplayName)

	close(release)
	require.NoError(t, <-done)

	d, _ = c.registry.Get(watch.ID)
	assert.Equal(t, "RENAMED", d.DisplayName)
}

func TestDisconnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	h := usbHandle("/mnt/garmin/sdb1")
	tr.EXPECT().Open(gomock.Any(), watch).Return(h, nil)
	tr.EXPECT().Close(gomock.Any(), h).Return(nil).Times(1)

	var steps transitionLog
	c := newTestCoordinator(&steps, tr)
	c.registry.Put(watch)

	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	require.NoError(t, c.Disconnect(context.Background(), watch.ID))
	err = c.Disconnect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonNotConnected))

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StateIdle, sessions[0].State)

	states := steps.of(watch.ID)
	assert.Equal(t, []State{StateDisconnecting, StateIdle}, states[len(states)-2:])
}

func TestDisconnectWithoutSession(t *testing.T) {
	c := newTestCoordinator(nil)
	c.registry.Put(watch)

	err := c.Disconnect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonNotConnected))
	assert.Equal(t, []device.Descriptor{watch}, c.Devices())
	assert.Empty(t, c.Sessions())
}

func TestDisconnectFailedSessionIsNotConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(nil, device.NewError(device.ReasonPermissionDenied, "mount", "", nil))

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	_, _ = c.Connect(context.Background(), watch.ID)

	err := c.Disconnect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonNotConnected))
}

func TestDisconnectSwallowsReleaseError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	h := usbHandle("/mnt/garmin/sdb1")
	tr.EXPECT().Open(gomock.Any(), watch).Return(h, nil)
	tr.EXPECT().Close(gomock.Any(), h).Return(device.NewError(device.ReasonUnknown, "unmount", "", os.ErrNotExist))

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	assert.NoError(t, c.Disconnect(context.Background(), watch.ID))
	assert.Equal(t, StateIdle, c.Sessions()[0].State)
}

func TestExtractFilesRequiresMounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	usb := newMockTransport(ctrl, device.KindUSB)
	bt := newMockTransport(ctrl, device.KindBluetooth)

	dir := t.TempDir()
	gomock.InOrder(
		usb.EXPECT().Open(gomock.Any(), watch).Return(nil, device.NewError(device.ReasonPermissionDenied, "mount", "", nil)),
		usb.EXPECT().Open(gomock.Any(), watch).Return(usbHandle(dir), nil),
	)
	usb.EXPECT().Close(gomock.Any(), gomock.Any()).Return(nil)
	bt.EXPECT().Open(gomock.Any(), band).Return(&device.Handle{Kind: device.KindBluetooth, ObjectPath: "/org/bluez/hci0/dev_C4"}, nil)

	c := newTestCoordinator(nil, usb, bt)
	c.registry.Put(watch)
	c.registry.Put(band)

	assertNotMounted := func(id string) {
		t.Helper()
		seq, err := c.ExtractFiles(context.Background(), id)
		assert.Nil(t, seq)
		assert.True(t, device.IsReason(err, device.ReasonNotMounted), "got %v", err)
	}

	assertNotMounted(watch.ID)

	_, err := c.Connect(context.Background(), watch.ID)
	require.Error(t, err)
	assertNotMounted(watch.ID)

	_, err = c.Connect(context.Background(), band.ID)
	require.NoError(t, err)
	assertNotMounted(band.ID)

	_, err = c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)
	require.NoError(t, c.Disconnect(context.Background(), watch.ID))
	assertNotMounted(watch.ID)
}

func TestExtractFilesListsActivityFiles(t *testing.T) {
	root := t.TempDir()
	activity := filepath.Join(root, "GARMIN", "Activity")
	require.NoError(t, os.MkdirAll(activity, 0755))
	for name, size := range map[string]int{"a.FIT": 3, "b.fit": 4, "c.txt": 5} {
		require.NoError(t, os.WriteFile(filepath.Join(activity, name), make([]byte, size), 0644))
	}

	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle(root), nil)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	seq, err := c.ExtractFiles(context.Background(), watch.ID)
	require.NoError(t, err)

	// the sequence is restartable while mounted
	for run := 0; run < 2; run++ {
		var names []string
		for entry, err := range seq {
			require.NoError(t, err)
			names = append(names, filepath.Base(entry.Path))
		}
		sort.Strings(names)
		assert.Equal(t, []string{"a.FIT", "b.fit"}, names)
	}
}

func TestExtractFilesEmptyMount(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle(t.TempDir()), nil)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	seq, err := c.ExtractFiles(context.Background(), watch.ID)
	require.NoError(t, err)
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestCloseReleasesEverything(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	h := usbHandle("/mnt/garmin/sdb1")
	tr.EXPECT().Open(gomock.Any(), watch).Return(h, nil)
	tr.EXPECT().Close(gomock.Any(), h).Return(nil).Times(1)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)
	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	c.Close(context.Background())

	assert.Equal(t, StateIdle, c.Sessions()[0].State)
	_, err = c.Connect(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonSubsystemUnavailable))
}

func TestAcquireConnectsFreshSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle("/mnt/garmin/sdb1"), nil)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	snap, err := c.Acquire(context.Background(), watch.ID)
	require.NoError(t, err)
	assert.Equal(t, StateMounted, snap.State)
}

func TestAcquireRefusesSessionConnectedElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.fit"), []byte("fit"), 0644))

	tr := newMockTransport(ctrl, device.KindUSB)
	tr.EXPECT().Open(gomock.Any(), watch).Return(usbHandle(root), nil).Times(1)
	tr.EXPECT().Close(gomock.Any(), gomock.Any()).Times(0)

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	_, err := c.Connect(context.Background(), watch.ID)
	require.NoError(t, err)

	snap, err := c.Acquire(context.Background(), watch.ID)
	assert.True(t, device.IsReason(err, device.ReasonAlreadyConnecting))
	assert.Equal(t, StateMounted, snap.State)

	// the first caller still owns a working mount
	seq, err := c.ExtractFiles(context.Background(), watch.ID)
	require.NoError(t, err)
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestSessionsDoesNotWaitForConnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := newMockTransport(ctrl, device.KindUSB)

	entered := make(chan struct{})
	release := make(chan struct{})
	tr.EXPECT().Open(gomock.Any(), watch).DoAndReturn(func(context.Context, device.Descriptor) (*device.Handle, error) {
		close(entered)
		<-release
		return usbHandle("/mnt/garmin/sdb1"), nil
	})

	c := newTestCoordinator(nil, tr)
	c.registry.Put(watch)

	done := make(chan error, 1)
	go func() {
		_, err := c.Connect(context.Background(), watch.ID)
		done <- err
	}()
	<-entered

	listed := make(chan []Snapshot, 1)
	go func() { listed <- c.Sessions() }()

	select {
	case sessions := <-listed:
		require.Len(t, sessions, 1)
		assert.Equal(t, StateConnecting, sessions[0].State)
		assert.Equal(t, 1, sessions[0].Attempts)
	case <-time.After(time.Second):
		t.Fatal("Sessions blocked behind an in-flight connect")
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateMounted, c.Sessions()[0].State)
	assert.Equal(t, "/mnt/garmin/sdb1", c.Sessions()[0].MountPath)
}
