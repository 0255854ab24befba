package debugger

import (
	"path"
	"path/filepath"
	"time"

	"github.com/google/go-dap"

	"github.com/fansqz/lua-debugger/constants"
)

// VMHandle 虚拟机实例的不透明标识
// 同一个全局环境下的不同协程是不同的handle，步进不会跨协程
type VMHandle interface{}

// Activation 虚拟机hook触发时的活动记录
type Activation struct {
	Event constants.HookEventType
	// Source 虚拟机形式的源标识
	Source string
	Line   int
	// FunctionName 当前函数名，可能为空
	FunctionName string
}

// HookFunc 调试核心暴露给宿主的hook入口
type HookFunc func(vm VMHandle, ar *Activation)

// EventMask hook关注的事件掩码
type EventMask int

const (
	MaskCall EventMask = 1 << iota
	MaskRet
	MaskLine
)

// HostAdapter 把调试核心绑定到虚拟机hook槽位的适配器
// InstallHook之后宿主负责在每个call/ret/line事件上转发hook调用
type HostAdapter interface {
	InstallHook(hook HookFunc, mask EventMask) error
	RemoveHook() error
}

// Frame 栈帧，每次停下时从虚拟机现场重新计算，不做缓存
type Frame struct {
	Index  int
	Source string
	Line   int
	Name   string
}

// Variable 变量的展示形式
type Variable struct {
	Name  string
	Type  string
	Value string
	// HasChildren 为true时可以继续展开
	HasChildren bool
}

// Inspector 栈模型的虚拟机侧后端
// 所有方法都只会在虚拟机停在hook内部时调用
type Inspector interface {
	// StackDepth 当前调用深度，探测失败返回0
	StackDepth(vm VMHandle) int
	// Frames 枚举当前所有栈帧，下标0是最内层
	Frames(vm VMHandle) ([]*Frame, error)
	// Scopes 某个栈帧可见的作用域列表
	Scopes(vm VMHandle, frameIndex int) ([]constants.ScopeName, error)
	// Variables 枚举某个作用域下path路径处的变量，path为空表示作用域根
	Variables(vm VMHandle, frameIndex int, scope constants.ScopeName, path []string) ([]*Variable, error)
	// SetVariable 修改变量并返回写入后的值
	SetVariable(vm VMHandle, frameIndex int, scope constants.ScopeName, path []string, name string, value string) (*Variable, error)
}

// Evaluator 在某个栈帧的上下文中编译并求值表达式
type Evaluator interface {
	Evaluate(vm VMHandle, frameIndex int, expression string, context string) (*Variable, error)
}

// PathConverter 在IDE和虚拟机的源标识之间做规范化转换
type PathConverter interface {
	// ToVM IDE路径转虚拟机源标识
	ToVM(clientPath string) string
	// ToClient 虚拟机源标识转IDE路径
	ToClient(vmSource string) string
	// Normalize 规范化成断点表的键，两侧来源必须收敛到同一个键
	Normalize(source string) string
}

// DefaultPathConverter 默认的路径转换，统一斜杠并做词法清理
type DefaultPathConverter struct{}

func (DefaultPathConverter) ToVM(clientPath string) string {
	return path.Clean(filepath.ToSlash(clientPath))
}

func (DefaultPathConverter) ToClient(vmSource string) string {
	return vmSource
}

func (DefaultPathConverter) Normalize(source string) string {
	return path.Clean(filepath.ToSlash(source))
}

// Custom 停等循环中的宿主策略
// UpdateStop在虚拟机停住期间被周期性调用，给嵌入方做刷新界面之类的杂务
type Custom interface {
	UpdateStop()
}

type defaultCustom struct{}

func (defaultCustom) UpdateStop() {}

// Channel 调试核心看到的消息通道
// Input和Update都不允许阻塞，Send必须是并发安全的
type Channel interface {
	Update(timeout time.Duration)
	Input() dap.Message
	Send(message dap.Message) error
	SetSchema(path string) error
	Closed() bool
	Close() error
}
