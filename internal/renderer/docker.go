package renderer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerClient is the slice of the Docker API the controller needs, kept
// as an interface so tests can run against a fake.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// NewClient connects to the Docker daemon from the environment.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Options configure the Docker controller.
type Options struct {
	// Image is the renderer image tag.
	Image string

	// WorkRoot is the host directory under which per-job work dirs are
	// created.
	WorkRoot string

	// MemoryMB caps the renderer container's memory.
	MemoryMB int64

	// StopGrace is how long Cancel waits for a graceful stop before
	// escalating to a kill.
	StopGrace time.Duration

	// TailLines is how many trailing stderr lines are kept as the
	// failure diagnostic.
	TailLines int
}

type handle struct {
	jobID       string
	containerID string

	mu       sync.Mutex
	paused   bool
	exited   bool
	killed   bool
	tail     []string
	stopLogs context.CancelFunc
}

func (h *handle) appendTail(line string, max int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tail = append(h.tail, line)
	if len(h.tail) > max {
		h.tail = h.tail[len(h.tail)-max:]
	}
}

func (h *handle) tailString() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.tail, "\n")
}

// DockerController runs the renderer as a Docker container. Pause and
// resume map to container pause/unpause, cancellation to a graceful stop
// escalating to a kill.
type DockerController struct {
	client DockerClient
	opts   Options
	hooks  Hooks

	mu      sync.Mutex
	handles map[string]*handle
}

func NewDockerController(cli DockerClient, opts Options, hooks Hooks) *DockerController {
	if opts.MemoryMB <= 0 {
		opts.MemoryMB = 512
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	return &DockerController{
		client:  cli,
		opts:    opts,
		hooks:   hooks,
		handles: make(map[string]*handle),
	}
}

func (c *DockerController) Spawn(ctx context.Context, jobID string, spec *Spec) error {
	workDir := filepath.Join(c.opts.WorkRoot, jobID)
	if err := os.MkdirAll(filepath.Join(workDir, OutputDirName), 0755); err != nil {
		return fmt.Errorf("%w: create work dir: %v", ErrProcessFailed, err)
	}
	if err := spec.Write(filepath.Join(workDir, SpecFileName)); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessFailed, err)
	}

	containerConfig := &container.Config{
		Image: c.opts.Image,
		Cmd:   []string{"--spec", ContainerWorkDir + "/" + SpecFileName},
	}

	hostConfig := &container.HostConfig{
		Binds: []string{workDir + ":" + ContainerWorkDir},
		Resources: container.Resources{
			Memory:     c.opts.MemoryMB * 1024 * 1024,
			MemorySwap: -1,
		},
		AutoRemove:     false,
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
	}

	createResp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "overlay-preview-"+jobID)
	if err != nil {
		return fmt.Errorf("%w: create container: %v", ErrProcessFailed, err)
	}
	containerID := createResp.ID

	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
		return fmt.Errorf("%w: start container: %v", ErrProcessFailed, err)
	}

	monitorCtx, stopLogs := context.WithCancel(context.Background())
	h := &handle{jobID: jobID, containerID: containerID, stopLogs: stopLogs}

	c.mu.Lock()
	c.handles[jobID] = h
	c.mu.Unlock()

	log.Printf("Started renderer container %s for job %s", shortID(containerID), jobID)

	go c.monitor(monitorCtx, h)

	return nil
}

// monitor follows the container's output, relaying progress markers, and
// reports the exit code once the container stops. The exit report is
// only delivered after all output has been processed.
func (c *DockerController) monitor(ctx context.Context, h *handle) {
	var wg sync.WaitGroup

	logs, err := c.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		log.Printf("Failed to attach to container %s logs: %v", shortID(h.containerID), err)
		logs = nil
	} else {
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()

		wg.Add(2)
		go func() {
			defer wg.Done()
			c.scanStdout(h, outR)
		}()
		go func() {
			defer wg.Done()
			c.scanStderr(h, errR)
		}()

		go func() {
			_, err := stdcopy.StdCopy(outW, errW, logs)
			outW.CloseWithError(err)
			errW.CloseWithError(err)
		}()
	}

	statusCh, errCh := c.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	exitCode := -1
	forceKilled := false
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			forceKilled = true
		} else {
			log.Printf("Wait failed for container %s: %v", shortID(h.containerID), err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	if logs != nil {
		logs.Close()
	}
	wg.Wait()

	h.mu.Lock()
	h.exited = true
	forceKilled = forceKilled || h.killed
	h.mu.Unlock()

	if forceKilled {
		// ForceKill already removed the container and the handle, and
		// the job record is gone.
		return
	}

	c.client.ContainerRemove(context.Background(), h.containerID, container.RemoveOptions{Force: true})

	c.mu.Lock()
	delete(c.handles, h.jobID)
	c.mu.Unlock()

	if c.hooks.OnExit != nil {
		c.hooks.OnExit(h.jobID, exitCode, h.tailString())
	}
}

func (c *DockerController) scanStdout(h *handle, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if pct, ok := parseProgress(line); ok {
			if c.hooks.OnProgress != nil {
				c.hooks.OnProgress(h.jobID, pct)
			}
			continue
		}
		if msg, ok := parseWarning(line); ok {
			if c.hooks.OnWarning != nil {
				c.hooks.OnWarning(h.jobID, msg)
			}
			continue
		}
		if c.hooks.OnLog != nil {
			c.hooks.OnLog(h.jobID, line)
		}
	}
}

func (c *DockerController) scanStderr(h *handle, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		h.appendTail(line, c.opts.TailLines)
		if c.hooks.OnLog != nil {
			c.hooks.OnLog(h.jobID, line)
		}
	}
}

func (c *DockerController) Pause(ctx context.Context, jobID string) error {
	h := c.handle(jobID)
	if h == nil {
		return ErrPauseFailed
	}

	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return ErrPauseFailed
	}

	if err := c.client.ContainerPause(ctx, h.containerID); err != nil {
		return fmt.Errorf("%w: %v", ErrPauseFailed, err)
	}

	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
	return nil
}

func (c *DockerController) Resume(ctx context.Context, jobID string) error {
	h := c.handle(jobID)
	if h == nil {
		return ErrResumeNotPaused
	}

	h.mu.Lock()
	paused := h.paused
	h.mu.Unlock()
	if !paused {
		return ErrResumeNotPaused
	}

	if err := c.client.ContainerUnpause(ctx, h.containerID); err != nil {
		return fmt.Errorf("%w: %v", ErrResumeNotPaused, err)
	}

	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
	return nil
}

func (c *DockerController) Cancel(ctx context.Context, jobID string) error {
	h := c.handle(jobID)
	if h == nil {
		return nil // already exited
	}

	// A paused container won't act on the stop signal.
	h.mu.Lock()
	paused := h.paused
	h.mu.Unlock()
	if paused {
		c.client.ContainerUnpause(ctx, h.containerID)
	}

	grace := int(c.opts.StopGrace.Seconds())
	if err := c.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &grace}); err != nil {
		log.Printf("Graceful stop of container %s failed, killing: %v", shortID(h.containerID), err)
		if err := c.client.ContainerKill(ctx, h.containerID, "SIGKILL"); err != nil {
			log.Printf("Kill of container %s failed: %v", shortID(h.containerID), err)
		}
	}
	return nil
}

func (c *DockerController) ForceKill(ctx context.Context, jobID string) {
	c.mu.Lock()
	h, ok := c.handles[jobID]
	if ok {
		delete(c.handles, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.stopLogs()

	// Best effort only; an already-dead container is fine.
	c.client.ContainerKill(ctx, h.containerID, "SIGKILL")
	c.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}

func (c *DockerController) handle(jobID string) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[jobID]
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
