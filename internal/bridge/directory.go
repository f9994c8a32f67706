package bridge

import (
	"fmt"
	"sort"
)

// Directory 通道名 → 地址
//
// 构造完成后只读，各组件实例持有各自的副本。
type Directory map[string]Address

// Lookup 查找通道地址
func (d Directory) Lookup(name string) (Address, error) {
	addr, ok := d[name]
	if !ok {
		return Address{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return addr, nil
}

// Has 是否包含通道
func (d Directory) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Names 按字母序返回全部通道名
func (d Directory) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone 复制目录
func (d Directory) Clone() Directory {
	if d == nil {
		return nil
	}
	out := make(Directory, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
