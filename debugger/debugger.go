// Package debugger is the core of the DAP bridge: it attaches to a
// running scripting VM through its instruction hook and exposes a DAP
// request/response stream so an IDE can set breakpoints, step, inspect
// frames and evaluate expressions.
package debugger

import (
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/lua-debugger/constants"
	e "github.com/fansqz/lua-debugger/error"
	"github.com/fansqz/lua-debugger/protocol"
	"github.com/fansqz/lua-debugger/utils"
)

const mainThreadID = 1

// Debugger 一次虚拟机挂接对应的调试器单例
// 状态、栈深度、断点表的修改都发生在hook所在的虚拟机线程上，
// 宿主线程只在虚拟机不执行时通过Update驱动
type Debugger struct {
	// vm 主虚拟机handle
	vm VMHandle

	channel     Channel
	host        HostAdapter
	inspector   Inspector
	evaluator   Evaluator
	pathConvert PathConverter

	customMu sync.RWMutex
	custom   Custom

	status *utils.StatusManager

	seqMu sync.Mutex
	seq   int

	// stepMu 保护步进相关字段，pause会从宿主线程写入
	stepMu         sync.Mutex
	step           constants.StepType
	anchorVM       VMHandle
	anchorLevel    int
	pauseRequested bool

	// stackLevel 只在hook里更新：call加一，ret减一
	stackLevel int

	// parked 虚拟机线程正停在停等循环里
	parked bool

	breakpoints *BreakpointSet
	stack       *StackModel

	workingDir string
	noreplInit bool

	sessionID string
}

// AttachOption 挂接参数
// Channel不传时默认在ip:port上启动protocol.Transport
type AttachOption struct {
	Host          HostAdapter
	Inspector     Inspector
	Evaluator     Evaluator
	PathConverter PathConverter
	Custom        Custom
	Channel       Channel
}

// Attach 构造调试器并开始监听
// 这一步只建立通道，安装hook要等Open
func Attach(vm VMHandle, ip string, port int, option *AttachOption) (*Debugger, error) {
	if option == nil {
		option = &AttachOption{}
	}
	channel := option.Channel
	if channel == nil {
		transport, err := protocol.NewTransport(ip, port)
		if err != nil {
			return nil, err
		}
		channel = transport
	}
	pathConvert := option.PathConverter
	if pathConvert == nil {
		pathConvert = DefaultPathConverter{}
	}
	custom := option.Custom
	if custom == nil {
		custom = defaultCustom{}
	}
	d := &Debugger{
		vm:          vm,
		channel:     channel,
		host:        option.Host,
		inspector:   option.Inspector,
		evaluator:   option.Evaluator,
		pathConvert: pathConvert,
		custom:      custom,
		status:      utils.NewStatusManager(),
		seq:         1,
		step:        constants.StepIn,
		breakpoints: NewBreakpointSet(),
		stack:       NewStackModel(),
		sessionID:   utils.GetUUID(),
	}
	logrus.Infof("[Debugger] session %s attached", d.sessionID)
	return d, nil
}

// Open 安装虚拟机hook，掩码是call|line|ret
// 栈深度用探测到的当前深度做种子，这样在执行中途挂接时
// stepOut依然有参照系；探测不到时从0开始，此时从最初那帧
// stepOut永远不会命中
func (d *Debugger) Open() error {
	if d.host == nil {
		return e.ErrVMNotAttached
	}
	d.stackLevel = 0
	if d.inspector != nil {
		d.stackLevel = d.inspector.StackDepth(d.vm)
	}
	return d.host.InstallHook(d.Hook, MaskCall|MaskLine|MaskRet)
}

// Close 卸载hook并恢复到刚挂接的状态
// 断点、栈引用、workingdir清空，seq回到1，栈深度归零
func (d *Debugger) Close() error {
	var err error
	if d.host != nil {
		err = d.host.RemoveHook()
	}
	d.breakpoints.Clear()
	d.stack.Reset()
	d.workingDir = ""
	d.seqMu.Lock()
	d.seq = 1
	d.seqMu.Unlock()
	d.stepMu.Lock()
	d.step = constants.StepIn
	d.pauseRequested = false
	d.stepMu.Unlock()
	d.stackLevel = 0
	d.status.Set(constants.Birth)
	return err
}

// Shutdown 结束挂接并销毁通道
func (d *Debugger) Shutdown() error {
	closeErr := d.Close()
	if err := d.channel.Close(); err != nil {
		return err
	}
	return closeErr
}

// Update 宿主tick，驱动hook之外的状态流转
// 虚拟机不在执行时必须周期性调用
func (d *Debugger) Update() {
	d.channel.Update(0)
	if d.channel.Closed() && !d.status.Is(constants.Terminated, constants.Birth) {
		// 通道故障视作会话终止
		d.status.Set(constants.Terminated)
		d.stack.Reset()
		return
	}
	switch {
	case d.status.Is(constants.Birth):
		msg := d.channel.Input()
		if msg == nil {
			return
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			return
		}
		// birth状态只认initialize和disconnect
		switch request := msg.(type) {
		case *dap.InitializeRequest:
			d.onInitialize(request)
		case *dap.DisconnectRequest:
			d.onDisconnect(request)
		default:
			d.sendErrorResponse(req.GetRequest(), notYetImplemented(req.GetRequest().Command))
		}
	case d.status.Is(constants.Initialized, constants.Running, constants.Stepping):
		// stepping也走main分发：步进还没到达下一个行事件时，
		// disconnect这类命令必须照常被处理
		msg := d.channel.Input()
		if msg == nil {
			return
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			return
		}
		if handled, _ := d.updateMain(req); !handled {
			d.sendErrorResponse(req.GetRequest(), notYetImplemented(req.GetRequest().Command))
		}
	case d.status.Is(constants.Terminated):
		// 下一个会话可以在同一个通道上重新initialize
		d.status.Set(constants.Birth)
	}
}

// SetSchema 把请求校验的schema文件交给通道
func (d *Debugger) SetSchema(path string) error {
	return d.channel.SetSchema(path)
}

// SetCustom 覆盖停等循环中的宿主策略
func (d *Debugger) SetCustom(custom Custom) {
	d.customMu.Lock()
	defer d.customMu.Unlock()
	if custom == nil {
		custom = defaultCustom{}
	}
	d.custom = custom
}

func (d *Debugger) getCustom() Custom {
	d.customMu.RLock()
	defer d.customMu.RUnlock()
	return d.custom
}

// Output 转发一段调试对象的输出，buffer按字节透传，允许包含0字节
func (d *Debugger) Output(category constants.OutputCategory, buffer []byte) {
	d.eventOutput(category, buffer)
}

// NoreplInitialize 调整initialize应答中是否宣告表达式求值能力
func (d *Debugger) NoreplInitialize(norepl bool) {
	d.noreplInit = norepl
}

// State 当前生命周期状态
func (d *Debugger) State() constants.DebugState {
	return d.status.Get()
}

// StackLevel 当前观测到的调用深度
func (d *Debugger) StackLevel() int {
	return d.stackLevel
}

func notYetImplemented(command string) string {
	return command + " not yet implemented"
}
