// Package docker 封装 Docker API 客户端
//
// 使用官方 github.com/moby/moby/client 库，供执行器在容器中运行任务
package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ContainerConfig 容器配置
type ContainerConfig struct {
	Name       string            // 容器名称
	Image      string            // 镜像名称
	Cmd        []string          // 启动命令
	Env        []string          // 环境变量
	WorkingDir string            // 工作目录
	Volumes    map[string]string // 挂载 host:container
	CPUs       int               // 可用核数，0 表示不限
	Tty        bool              // 是否分配TTY（日志不再分流）
}

// Client Docker客户端封装
type Client struct {
	cli *client.Client
}

// NewClient 创建Docker客户端
func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping 检查Docker连接
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx, client.PingOptions{})
	return err
}

// CreateContainer 创建容器
func (c *Client) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	var binds []string
	for hostPath, containerPath := range cfg.Volumes {
		binds = append(binds, fmt.Sprintf("%s:%s", hostPath, containerPath))
	}

	host := &container.HostConfig{Binds: binds}
	if cfg.CPUs > 0 {
		host.NanoCPUs = int64(cfg.CPUs) * 1e9
	}

	result, err := c.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name:  cfg.Name,
		Image: cfg.Image,
		Config: &container.Config{
			Cmd:          cfg.Cmd,
			Env:          cfg.Env,
			WorkingDir:   cfg.WorkingDir,
			Tty:          cfg.Tty,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: host,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return result.ID, nil
}

// StartContainer 启动容器
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	_, err := c.cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// StopContainer 停止容器
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout *int) error {
	_, err := c.cli.ContainerStop(ctx, containerID, client.ContainerStopOptions{Timeout: timeout})
	return err
}

// RemoveContainer 删除容器，容器不存在不算错误
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	_, err := c.cli.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{Force: force})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// WaitContainer 等待容器退出，返回退出码
func (c *Client) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	waitResult := c.cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	select {
	case err := <-waitResult.Error:
		if err != nil {
			return -1, err
		}
		return 0, nil
	case resp := <-waitResult.Result:
		return resp.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ContainerLogs 获取容器日志
func (c *Client) ContainerLogs(ctx context.Context, containerID string, tail string) (io.ReadCloser, error) {
	result, err := c.cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
