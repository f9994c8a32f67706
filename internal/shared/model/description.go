package model

import "time"

// ============================================================================
// TaskDescription - 任务描述
// ============================================================================

// BodyKind 任务体类型
type BodyKind string

const (
	// BodyExecutable 外部可执行程序
	BodyExecutable BodyKind = "executable"
	// BodyFunction 已注册的函数（按名称查找，不做运行时求值）
	BodyFunction BodyKind = "function"
)

// StagingDirective 数据搬运指令
//
// Source/Target 中以 "object://" 开头的一端表示对象存储中的 key，
// 另一端为沙箱内的相对路径。
type StagingDirective struct {
	Source string `json:"source" yaml:"source" bson:"source"`
	Target string `json:"target" yaml:"target" bson:"target"`
}

// TaskDescription 任务描述，提交后不可变
type TaskDescription struct {
	Name        string            `json:"name,omitempty" yaml:"name" bson:"name,omitempty"`
	Kind        BodyKind          `json:"kind,omitempty" yaml:"kind" bson:"kind,omitempty"`
	Executable  string            `json:"executable,omitempty" yaml:"executable" bson:"executable,omitempty"`
	Function    string            `json:"function,omitempty" yaml:"function" bson:"function,omitempty"`
	Arguments   []string          `json:"arguments,omitempty" yaml:"arguments" bson:"arguments,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment" bson:"environment,omitempty"`
	Image       string            `json:"image,omitempty" yaml:"image" bson:"image,omitempty"`
	Cores       int               `json:"cores,omitempty" yaml:"cores" bson:"cores,omitempty"`
	GPUs        int               `json:"gpus,omitempty" yaml:"gpus" bson:"gpus,omitempty"`

	InputStaging  []StagingDirective `json:"input_staging,omitempty" yaml:"input_staging" bson:"input_staging,omitempty"`
	OutputStaging []StagingDirective `json:"output_staging,omitempty" yaml:"output_staging" bson:"output_staging,omitempty"`

	Tags map[string]string `json:"tags,omitempty" yaml:"tags" bson:"tags,omitempty"`
}

// CoresOrDefault 未声明时按 1 核处理
func (d *TaskDescription) CoresOrDefault() int {
	if d.Cores <= 0 {
		return 1
	}
	return d.Cores
}

// Clone 深拷贝
func (d TaskDescription) Clone() TaskDescription {
	c := d
	c.Arguments = append([]string(nil), d.Arguments...)
	c.InputStaging = append([]StagingDirective(nil), d.InputStaging...)
	c.OutputStaging = append([]StagingDirective(nil), d.OutputStaging...)
	if d.Environment != nil {
		c.Environment = make(map[string]string, len(d.Environment))
		for k, v := range d.Environment {
			c.Environment[k] = v
		}
	}
	if d.Tags != nil {
		c.Tags = make(map[string]string, len(d.Tags))
		for k, v := range d.Tags {
			c.Tags[k] = v
		}
	}
	return c
}

// ============================================================================
// PilotDescription - Pilot 描述
// ============================================================================

// PilotDescription 资源分配描述
type PilotDescription struct {
	Resource string        `json:"resource" yaml:"resource" bson:"resource"`
	Nodes    []string      `json:"nodes,omitempty" yaml:"nodes" bson:"nodes,omitempty"`
	Cores    int           `json:"cores" yaml:"cores" bson:"cores"` // 每节点核数
	GPUs     int           `json:"gpus,omitempty" yaml:"gpus" bson:"gpus,omitempty"`
	Runtime  time.Duration `json:"runtime,omitempty" yaml:"runtime" bson:"runtime,omitempty"`
	Queue    string        `json:"queue,omitempty" yaml:"queue" bson:"queue,omitempty"`
	Project  string        `json:"project,omitempty" yaml:"project" bson:"project,omitempty"`
}
