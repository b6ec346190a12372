package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

const containerImage = "browserless/chrome:latest"

// Container is one running containerized browser, addressed by its CDP
// endpoint.
type Container struct {
	ID          string
	ConnectURL  string
	Port        string
	UserDataDir string
}

// Containers manages browserless/chrome instances for the remote
// backend, used when the daemon host can't run a headful browser
// itself.
type Containers struct {
	client *client.Client
	log    *zap.SugaredLogger
}

func NewContainers(log *zap.SugaredLogger) (*Containers, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Containers{client: cli, log: log}, nil
}

// Start launches a container whose profile dir is bind-mounted so login
// state survives container churn.
func (c *Containers) Start(ctx context.Context, name, profileDir string) (*Container, error) {
	if profileDir == "" {
		profileDir = filepath.Join(os.TempDir(), "agentify-browser", name)
		if err := os.MkdirAll(profileDir, 0o755); err != nil {
			return nil, fmt.Errorf("profile dir: %w", err)
		}
	}

	cfg := &container.Config{
		Image: containerImage,
		Labels: map[string]string{
			"agentify-profile": name,
			"managed-by":       "agentifyd",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{"3000/tcp": struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: profileDir,
			Target: "/data",
		}},
	}

	resp, err := c.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, fmt.Sprintf("agentify-%s", name))
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspect, err := c.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("container %s exposed no port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := waitForDevtools(port); err != nil {
		return nil, fmt.Errorf("browser not ready: %w", err)
	}

	c.log.Infow("browser container started", "id", resp.ID[:12], "port", port)
	return &Container{
		ID:          resp.ID,
		ConnectURL:  fmt.Sprintf("ws://localhost:%s", port),
		Port:        port,
		UserDataDir: profileDir,
	}, nil
}

// Stop stops and removes the container.
func (c *Containers) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := c.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Healthy reports whether the container process is still running.
func (c *Containers) Healthy(ctx context.Context, containerID string) bool {
	inspect, err := c.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the browser image if it isn't present locally.
func (c *Containers) EnsureImage(ctx context.Context) error {
	images, err := c.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == containerImage {
				return nil
			}
		}
	}

	c.log.Infow("pulling browser image", "image", containerImage)
	reader, err := c.client.ImagePull(ctx, containerImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Containers) Close() error {
	return c.client.Close()
}

func waitForDevtools(port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	const maxRetries = 20
	for i := 0; i < maxRetries; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				// The websocket endpoint lags the HTTP one slightly.
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("devtools endpoint not ready after %d attempts", maxRetries)
}
