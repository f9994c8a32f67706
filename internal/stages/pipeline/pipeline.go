// Package pipeline 参考流水线的组件类型名与通道名
//
// 各阶段和 cmd 共享这些名字；桥接后缀决定通道类型（*queue / *pubsub）。
package pipeline

// 组件类型
const (
	TypeStagerInput  = "agent_stager_input"
	TypeScheduler    = "agent_scheduler"
	TypeExecutor     = "agent_executor"
	TypeStagerOutput = "agent_stager_output"
	TypeUpdateWorker = "agent_update_worker"
	TypeMonitor      = "agent_monitor"
)

// 队列
const (
	StagingInputQueue  = "agent_staging_input_queue"
	SchedulingQueue    = "agent_scheduling_queue"
	ExecutingQueue     = "agent_executing_queue"
	StagingOutputQueue = "agent_staging_output_queue"
)

// 发布订阅通道（默认名，实际以 runtime.state_channel / command_channel 为准）
const (
	StatePubSub   = "agent_state_pubsub"
	CommandPubSub = "agent_command_pubsub"
)

// Bridges 参考流水线需要的全部桥接，按任务流经的顺序
func Bridges() []string {
	return []string{
		SchedulingQueue,
		StagingInputQueue,
		ExecutingQueue,
		StagingOutputQueue,
		StatePubSub,
		CommandPubSub,
	}
}

// EntryQueue 新提交任务的入口：NEW → SCHEDULING_PENDING 后放入调度队列
const EntryQueue = SchedulingQueue
