package stager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pilot-runtime/internal/shared/model"
)

// ObjectScheme 对象存储一端的前缀
const ObjectScheme = "object://"

// ObjectStore 搬运用到的对象存储操作
type ObjectStore interface {
	DownloadFile(ctx context.Context, key, path string) error
	UploadFile(ctx context.Context, key, path string) error
}

// ErrNoObjectStore 指令引用了对象存储但未启用
var ErrNoObjectStore = fmt.Errorf("object staging requested but staging is disabled")

// objectKey 解析 object://key，不是对象地址时返回 false
func objectKey(s string) (string, bool) {
	if !strings.HasPrefix(s, ObjectScheme) {
		return "", false
	}
	return strings.TrimPrefix(s, ObjectScheme), true
}

// inSandbox 把相对路径解析到沙箱内，拒绝逃逸
func inSandbox(sandbox, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("sandbox path %q must be relative", rel)
	}
	p := filepath.Join(sandbox, rel)
	if p != sandbox && !strings.HasPrefix(p, sandbox+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox path %q escapes the sandbox", rel)
	}
	return p, nil
}

// stageIn 执行一条输入指令：Source 为对象或本地绝对路径，Target 为沙箱内相对路径
func stageIn(ctx context.Context, store ObjectStore, sandbox string, d model.StagingDirective) error {
	dst, err := inSandbox(sandbox, d.Target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if key, ok := objectKey(d.Source); ok {
		if store == nil {
			return ErrNoObjectStore
		}
		return store.DownloadFile(ctx, key, dst)
	}
	return copyFile(d.Source, dst)
}

// stageOut 执行一条输出指令：Source 为沙箱内相对路径，Target 为对象或本地绝对路径
func stageOut(ctx context.Context, store ObjectStore, sandbox string, d model.StagingDirective) error {
	src, err := inSandbox(sandbox, d.Source)
	if err != nil {
		return err
	}
	if key, ok := objectKey(d.Target); ok {
		if store == nil {
			return ErrNoObjectStore
		}
		return store.UploadFile(ctx, key, src)
	}
	if err := os.MkdirAll(filepath.Dir(d.Target), 0o755); err != nil {
		return err
	}
	return copyFile(src, d.Target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
