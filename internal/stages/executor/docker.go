package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"pilot-runtime/internal/shared/model"
	"pilot-runtime/pkg/docker"
)

// SandboxMount 容器内沙箱挂载点
const SandboxMount = "/sandbox"

// DockerLauncher 在容器中运行可执行程序，沙箱挂载到 /sandbox
//
// 容器分配 TTY，stdout 与 stderr 合并写入 Result.Stdout。
type DockerLauncher struct {
	client *docker.Client
	image  string
}

// NewDockerLauncher 连接本机 Docker
func NewDockerLauncher(ctx context.Context, image string) (*DockerLauncher, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker unavailable: %w", err)
	}
	return &DockerLauncher{client: cli, image: image}, nil
}

func (l *DockerLauncher) Name() string { return "docker" }

// Close 关闭客户端
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

func (l *DockerLauncher) Launch(ctx context.Context, e *model.Entity) (*Result, error) {
	if e.Task == nil || e.Task.Executable == "" {
		return nil, fmt.Errorf("task %s has no executable", e.UID)
	}
	image := e.Task.Image
	if image == "" {
		image = l.image
	}
	cfg := &docker.ContainerConfig{
		Name:       containerName(e.UID),
		Image:      image,
		Cmd:        append([]string{e.Task.Executable}, e.Task.Arguments...),
		Env:        envList(taskEnv(e)),
		WorkingDir: SandboxMount,
		CPUs:       e.Task.CoresOrDefault(),
		Tty:        true,
	}
	if e.Sandbox != "" {
		cfg.Volumes = map[string]string{e.Sandbox: SandboxMount}
	}

	id, err := l.client.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.client.RemoveContainer(rmCtx, id, true)
	}()

	if err := l.client.StartContainer(ctx, id); err != nil {
		return nil, fmt.Errorf("start container %s: %w", id, err)
	}
	code, err := l.client.WaitContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("wait container %s: %w", id, err)
	}

	res := &Result{ExitCode: int(code)}
	logs, err := l.client.ContainerLogs(ctx, id, "all")
	if err != nil {
		return res, nil
	}
	defer logs.Close()
	out, _ := io.ReadAll(logs)
	res.Stdout = string(out)
	return res, nil
}

// containerName 容器名只允许 [a-zA-Z0-9_.-]
func containerName(uid string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return '_'
	}, uid)
	return "pilot-" + name
}

var _ Launcher = (*DockerLauncher)(nil)
