package constants

type DebugMessageType string

const (
	RequestMessage  DebugMessageType = "request"
	ResponseMessage DebugMessageType = "response"
	EventMessage    DebugMessageType = "event"
)

// DebugState 调试器生命周期状态
// birth -> initialized -> running <-> stepping -> terminated -> birth
type DebugState string

const (
	// Birth 调试器刚创建，只接受initialize和disconnect
	Birth DebugState = "birth"
	// Initialized 已完成initialize握手，可以配置断点
	Initialized DebugState = "initialized"
	// Running 虚拟机执行中，异步接受main类命令
	Running DebugState = "running"
	// Stepping 虚拟机停在hook内部，main和hook类命令都接受
	Stepping DebugState = "stepping"
	// Terminated 会话已结束，下一次update会回收到birth
	Terminated DebugState = "terminated"
)

// StepType 单步调试类型
type StepType string

const (
	// StepIn 下一步，会进入函数内部
	StepIn StepType = "in"
	// StepOver 下一步，不会进入函数内部
	StepOver StepType = "over"
	// StepOut 单步退出当前函数
	StepOut StepType = "out"
)

// HookEventType 虚拟机hook事件类型
type HookEventType int

const (
	HookCall HookEventType = iota
	HookRet
	HookLine
)

// StoppedReasonType 程序停止原因
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "pause"
	ExceptionStopped  StoppedReasonType = "exception"
)

// OutputCategory 输出事件的类别
type OutputCategory string

const (
	OutputStdout  OutputCategory = "stdout"
	OutputStderr  OutputCategory = "stderr"
	OutputConsole OutputCategory = "console"
)

// ScopeName 作用域名称
// Local: 当前栈帧中的局部变量和参数。
// Upvalue: 闭包捕获的上值。
// Global: 全局环境中的变量。
type ScopeName string

const (
	ScopeLocal   ScopeName = "Locals"
	ScopeUpvalue ScopeName = "Upvalues"
	ScopeGlobal  ScopeName = "Globals"
)
