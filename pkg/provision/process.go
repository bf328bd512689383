package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process runs `<Binary> serve --addr <Host>:<port> [Args...]` as a local child process.
type Process struct {
	// Binary defaults to the running executable.
	Binary string
	Args   []string
	Host   string
	Env    []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *Process) Start(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return "", fmt.Errorf("process already started (pid %d)", p.cmd.Process.Pid)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	binary := p.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolving executable: %w", err)
		}
		binary = exe
	}
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := freePort(host)
	if err != nil {
		return "", err
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	args := append([]string{"serve", "--addr", addr}, p.Args...)
	// Not bound to ctx: the session outlives the call that starts it.
	cmd := exec.Command(binary, args...)
	cmd.Env = append(cmd.Environ(), p.Env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start session process: %w", err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	p.cmd = cmd
	p.done = done
	logf("started %s (pid %d) on %s", binary, cmd.Process.Pid, addr)
	return "http://" + addr, nil
}

// Stop interrupts the process and kills it if it has not exited when ctx is done.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return nil
	}
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil

	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal session process: %w", err)
	}

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
	}
	logf("stopped pid %d", cmd.Process.Pid)
	return nil
}
