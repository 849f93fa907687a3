package containeradapter

import (
	"context"
	"strconv"

	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/client"
)

// DockerHalf implements the plain container-lifecycle operations of
// Adapter directly against the Docker Engine API -- the operations the
// Hub can perform itself without delegating to dvm (spec.md §4.3).
type DockerHalf struct {
	api *client.Client
}

// NewDockerHalf wraps an already-configured Docker API client.
func NewDockerHalf(api *client.Client) *DockerHalf {
	return &DockerHalf{api: api}
}

// Ls returns the set of all container names, running or not, so the
// reconciliation and provisioning pipelines can tell a missing container
// apart from a stopped one.
func (d *DockerHalf) Ls(ctx context.Context) (map[string]struct{}, error) {
	result, err := d.api.ContainerList(ctx, client.ContainerListOptions{All: true})
	if err != nil {
		return nil, classify("", err, "")
	}
	names := make(map[string]struct{}, len(result.Items))
	for _, c := range result.Items {
		for _, n := range c.Names {
			names[trimLeadingSlash(n)] = struct{}{}
		}
	}
	return names, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// Ports returns the current host<->container port mappings for container.
func (d *DockerHalf) Ports(ctx context.Context, container string) ([]Port, error) {
	inspect, err := d.api.ContainerInspect(ctx, container, client.ContainerInspectOptions{})
	if err != nil {
		return nil, classify(container, err, "")
	}
	var ports []Port
	if inspect.Container.NetworkSettings == nil {
		return ports, nil
	}
	portMap := nat.PortMap(inspect.Container.NetworkSettings.Ports)
	for containerPort, bindings := range portMap {
		cp := containerPort.Int()
		for _, b := range bindings {
			hp, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			ports = append(ports, Port{HostPort: hp, ContainerPort: cp})
		}
	}
	return ports, nil
}

// Start starts a stopped container.
func (d *DockerHalf) Start(ctx context.Context, container string) error {
	_, err := d.api.ContainerStart(ctx, container, client.ContainerStartOptions{})
	return classify(container, err, "")
}

// Stop stops a running container with a generous grace period -- agent
// CLIs may need time to flush session state on SIGTERM.
func (d *DockerHalf) Stop(ctx context.Context, container string) error {
	timeout := 15
	_, err := d.api.ContainerStop(ctx, container, client.ContainerStopOptions{Timeout: &timeout})
	return classify(container, err, "")
}

// Remove force-removes a container, optionally keeping its volumes.
func (d *DockerHalf) Remove(ctx context.Context, container string, keepVolume bool) error {
	_, err := d.api.ContainerRemove(ctx, container, client.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: !keepVolume,
	})
	return classify(container, err, "")
}
