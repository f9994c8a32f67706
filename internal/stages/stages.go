// Package stages 参考流水线的组件注册
//
//	scheduling → staging_input → executing → staging_output
//
// update worker 与 monitor 只订阅 state 主题。
package stages

import (
	"pilot-runtime/internal/component"
	"pilot-runtime/internal/stages/executor"
	"pilot-runtime/internal/stages/monitor"
	"pilot-runtime/internal/stages/pipeline"
	"pilot-runtime/internal/stages/scheduler"
	"pilot-runtime/internal/stages/stager"
	"pilot-runtime/internal/stages/updater"
)

// Registry 注册全部参考组件类型
func Registry() *component.Registry {
	return RegistryWithFuncs(nil)
}

// RegistryWithFuncs 执行器使用给定的函数注册表
func RegistryWithFuncs(funcs *executor.FuncRegistry) *component.Registry {
	r := component.NewRegistry()
	r.MustRegister(pipeline.TypeScheduler, scheduler.New)
	r.MustRegister(pipeline.TypeStagerInput, stager.NewInput)
	r.MustRegister(pipeline.TypeExecutor, executor.NewWithFuncs(funcs))
	r.MustRegister(pipeline.TypeStagerOutput, stager.NewOutput)
	r.MustRegister(pipeline.TypeUpdateWorker, updater.New)
	r.MustRegister(pipeline.TypeMonitor, monitor.New)
	return r
}
