package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// RuntimeEnv overrides container runtime detection.
const RuntimeEnv = "ENVD_RUNTIME"

// AddrEnv sets the listen address of `envd serve` inside the container.
const AddrEnv = "ENVD_SERVER_ADDR"

// DefaultContainerPort is the port `envd serve` listens on inside the image.
const DefaultContainerPort = 8000

// Container runs one session in a detached docker or podman container.
type Container struct {
	Image string
	// Runtime is the container CLI; empty means DetectRuntime.
	Runtime string
	// Port is the session port inside the container.
	Port int
	// Args are appended after the image name.
	Args []string
	Env  []string

	mu      sync.Mutex
	runtime string
	name    string
}

// DetectRuntime returns $ENVD_RUNTIME if set, otherwise podman or docker from PATH
// (podman first, for rootless setups), or "" when neither is installed.
func DetectRuntime() string {
	if rt := os.Getenv(RuntimeEnv); rt != "" {
		return rt
	}
	if _, err := exec.LookPath("podman"); err == nil {
		return "podman"
	}
	if _, err := exec.LookPath("docker"); err == nil {
		return "docker"
	}
	return ""
}

// Name is the container name of the running session, or "".
func (c *Container) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Container) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.name != "" {
		return "", fmt.Errorf("container %s already started", c.name)
	}
	if c.Image == "" {
		return "", fmt.Errorf("container provider has no image")
	}
	runtime := c.Runtime
	if runtime == "" {
		runtime = DetectRuntime()
	}
	if runtime == "" {
		return "", fmt.Errorf("no container runtime found (docker/podman)")
	}

	hostPort, err := freePort("127.0.0.1")
	if err != nil {
		return "", err
	}
	name := "envd-" + strings.ToLower(ulid.Make().String())

	out, err := exec.CommandContext(ctx, runtime, c.runArgs(name, hostPort)...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("start container: %w: %s", err, strings.TrimSpace(string(out)))
	}

	c.runtime = runtime
	c.name = name
	logf("started container %s (%s) with %s", name, c.Image, runtime)
	return fmt.Sprintf("http://127.0.0.1:%d", hostPort), nil
}

func (c *Container) runArgs(name string, hostPort int) []string {
	port := c.Port
	if port <= 0 {
		port = DefaultContainerPort
	}
	args := []string{
		"run", "-d",
		"-p", fmt.Sprintf("%d:%d", hostPort, port),
		"--name", name,
		// The server must listen on all interfaces for the published port to reach it.
		"-e", fmt.Sprintf("%s=0.0.0.0:%d", AddrEnv, port),
	}
	for _, e := range c.Env {
		args = append(args, "-e", e)
	}
	args = append(args, c.Image)
	return append(args, c.Args...)
}

// Stop force-removes the container.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.name == "" {
		return nil
	}
	out, err := exec.CommandContext(ctx, c.runtime, "rm", "-f", c.name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("remove container %s: %w: %s", c.name, err, strings.TrimSpace(string(out)))
	}
	logf("removed container %s", c.name)
	c.name = ""
	return nil
}
