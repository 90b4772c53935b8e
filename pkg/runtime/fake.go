package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/bagleyctf/labrange/pkg/types"
)

// FakeDriver is an in-memory Driver for testing the lifecycle
// controller without a container engine. Failure injection fields make
// partial-creation and drift scenarios scriptable.
type FakeDriver struct {
	mu sync.Mutex

	networks   map[string]string
	containers map[string]*fakeContainer
	nextIP     int

	// Failure injection
	FailCreate     error
	FailStop       error
	FailRemove     error
	FailInspect    error
	WithholdAddr   bool
	CreateAttempts int
	StopCalls      int
}

type fakeContainer struct {
	spec    CreateSpec
	address string
	running bool
}

// NewFakeDriver creates an empty fake driver
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		networks:   make(map[string]string),
		containers: make(map[string]*fakeContainer),
		nextIP:     2,
	}
}

func (f *FakeDriver) EnsureNetwork(ctx context.Context, name, subnet, protectedRange string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = subnet
	return nil
}

func (f *FakeDriver) CreateLab(ctx context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateAttempts++
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("container %s already exists", spec.Name)
	}

	c := &fakeContainer{spec: spec, running: true}
	if !f.WithholdAddr {
		c.address = fmt.Sprintf("172.20.0.%d", f.nextIP)
		f.nextIP++
	}
	f.containers[spec.Name] = c
	return "fake-" + spec.Name, nil
}

func (f *FakeDriver) InstanceAddress(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return "", nil
	}
	return c.address, nil
}

func (f *FakeDriver) IsRunning(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailInspect != nil {
		return false, f.FailInspect
	}
	c, ok := f.containers[name]
	return ok && c.running, nil
}

func (f *FakeDriver) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailInspect != nil {
		return false, f.FailInspect
	}
	_, ok := f.containers[name]
	return ok, nil
}

func (f *FakeDriver) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls++
	if f.FailStop != nil {
		return f.FailStop
	}
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
	return nil
}

func (f *FakeDriver) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRemove != nil {
		return f.FailRemove
	}
	delete(f.containers, name)
	return nil
}

func (f *FakeDriver) HostStats(ctx context.Context) (types.HostStats, error) {
	return types.HostStats{
		DockerDisk: "1.0 GB",
		CPUCores:   "8",
		Memory:     "16G",
		GPU:        "N/A",
	}, nil
}

func (f *FakeDriver) Close() error { return nil }

// Kill simulates a container dying outside the orchestrator's control
func (f *FakeDriver) Kill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
}

// Destroy simulates a container being removed out of band
func (f *FakeDriver) Destroy(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

// ContainerCount returns how many containers the fake engine holds
func (f *FakeDriver) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Spec returns the create spec recorded for a container
func (f *FakeDriver) Spec(name string) (CreateSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return CreateSpec{}, false
	}
	return c.spec, true
}
