package runtime

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/bagleyctf/labrange/pkg/log"
	labtypes "github.com/bagleyctf/labrange/pkg/types"
)

// DockerDriver implements Driver against the Docker Engine API
type DockerDriver struct {
	cli *client.Client
}

// NewDockerDriver connects to the local Docker daemon
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

// Close closes the Docker client connection
func (d *DockerDriver) Close() error {
	if d.cli != nil {
		return d.cli.Close()
	}
	return nil
}

// EnsureNetwork creates the isolated bridge network if it does not
// exist. On first creation it installs an iptables DROP in the
// DOCKER-USER chain so lab traffic can never reach the protected range.
func (d *DockerDriver) EnsureNetwork(ctx context.Context, name, subnet, protectedRange string) error {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}

	if protectedRange != "" {
		out, err := exec.CommandContext(ctx,
			"iptables", "-I", "DOCKER-USER",
			"-s", subnet, "-d", protectedRange, "-j", "DROP",
		).CombinedOutput()
		if err != nil {
			// The network exists either way; an unreachable firewall is
			// an operator problem, not a per-request one.
			log.Logger.Error().
				Err(err).
				Str("output", strings.TrimSpace(string(out))).
				Msg("failed to install egress block rule")
		}
	}

	log.Audit("NETWORK_CREATED").
		Str("network", name).
		Str("subnet", subnet).
		Send()
	return nil
}

// CreateLab launches a hardened lab container and returns its id
func (d *DockerDriver) CreateLab(ctx context.Context, spec CreateSpec) (string, error) {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
	}

	pids := spec.Resources.PidsLimit
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"NET_BIND_SERVICE"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     spec.Resources.MemoryBytes,
			MemorySwap: spec.Resources.MemoryBytes,
			NanoCPUs:   int64(spec.Resources.CPUs * 1e9),
			PidsLimit:  &pids,
		},
		Tmpfs: parseTmpfs(spec.Tmpfs),
	}

	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Leave no half-created container behind
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

// parseTmpfs converts "path:options" entries into the engine's map form
func parseTmpfs(entries []string) map[string]string {
	if len(entries) == 0 {
		entries = []string{"/tmp:rw,noexec,nosuid"}
	}
	tmpfs := make(map[string]string, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) == 2 {
			tmpfs[parts[0]] = parts[1]
		} else {
			tmpfs[parts[0]] = "rw,noexec,nosuid"
		}
	}
	return tmpfs
}

func (d *DockerDriver) ensureImage(ctx context.Context, ref string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Drain the stream so the pull completes
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// InstanceAddress returns the container's IP on the lab network
func (d *DockerDriver) InstanceAddress(ctx context.Context, name string) (string, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	if info.NetworkSettings == nil {
		return "", nil
	}
	for _, endpoint := range info.NetworkSettings.Networks {
		if endpoint.IPAddress != "" {
			return endpoint.IPAddress, nil
		}
	}
	return "", nil
}

// IsRunning reports whether the container is actively running
func (d *DockerDriver) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return info.State != nil && info.State.Running, nil
}

// Exists reports whether the engine knows the container
func (d *DockerDriver) Exists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return true, nil
}

// Stop gracefully stops a running container
func (d *DockerDriver) Stop(ctx context.Context, name string) error {
	timeout := 10
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove force-removes a container
func (d *DockerDriver) Remove(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// HostStats collects host capacity summaries. Individual probes that
// fail report "unknown" rather than failing the whole call.
func (d *DockerDriver) HostStats(ctx context.Context) (labtypes.HostStats, error) {
	stats := labtypes.HostStats{
		DockerDisk: "unknown",
		CPUCores:   "unknown",
		Memory:     "unknown",
		GPU:        "N/A",
	}

	if du, err := d.cli.DiskUsage(ctx, types.DiskUsageOptions{}); err == nil {
		stats.DockerDisk = fmt.Sprintf("%.1f GB", float64(du.LayersSize)/1e9)
	}

	if out, err := exec.CommandContext(ctx, "nproc").Output(); err == nil {
		stats.CPUCores = strings.TrimSpace(string(out))
	}
	if out, err := exec.CommandContext(ctx, "free", "-h", "--si").Output(); err == nil {
		stats.Memory = strings.TrimSpace(string(out))
	}
	if out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits").Output(); err == nil {
		stats.GPU = strings.TrimSpace(string(out))
	}

	return stats, nil
}
