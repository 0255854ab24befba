package debugger

import (
	"time"

	"github.com/google/go-dap"

	"github.com/fansqz/lua-debugger/constants"
)

// idleSleep 停等循环空转时的让出时长
// 不是超时：没有恢复类命令之前虚拟机会一直停着
const idleSleep = 10 * time.Millisecond

// Hook 虚拟机每个call/ret/line事件的入口，由宿主适配器转发
// 行事件上的判断在虚拟机执行的关键路径上，必须尽快返回
func (d *Debugger) Hook(vm VMHandle, ar *Activation) {
	if d.parked {
		// 已经停在hook里了，停顿期间的求值再进虚拟机不重入
		return
	}
	if ar.Event == constants.HookCall {
		d.stackLevel++
		return
	}
	if ar.Event == constants.HookRet {
		d.stackLevel--
		return
	}
	if ar.Event != constants.HookLine {
		return
	}
	if d.status.Is(constants.Terminated) {
		return
	}

	bp := false
	if d.status.Is(constants.Running) {
		if d.checkBreakpoint(ar) {
			bp = true
		} else if !d.pausePending() {
			return
		}
	}

	if d.status.Is(constants.Stepping) {
		if d.isStep(constants.StepOut) || d.isStep(constants.StepOver) {
			if !d.checkBreakpoint(ar) {
				if !d.checkStep(vm) {
					return
				}
			} else {
				bp = true
			}
		}
	}

	d.eventStopped(d.stopReason(bp))
	// 停下之后回到最细的步进粒度，等待IDE的下一个指令
	d.armStepIn()
	d.stopLoop(vm, ar)
}

// Exception 宿主上报一个运行期错误
// 发出stopped(exception)并停住，让IDE检查出错的栈帧
func (d *Debugger) Exception(vm VMHandle, ar *Activation, message string) {
	if d.parked || d.status.Is(constants.Terminated, constants.Birth) {
		return
	}
	d.eventOutput(constants.OutputStderr, []byte(message))
	d.eventStopped(constants.ExceptionStopped)
	d.armStepIn()
	d.stopLoop(vm, ar)
}

// stopReason 判断这次停顿上报的原因
func (d *Debugger) stopReason(bp bool) constants.StoppedReasonType {
	if bp {
		return constants.BreakpointStopped
	}
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	if d.pauseRequested {
		d.pauseRequested = false
		return constants.PauseStopped
	}
	return constants.StepStopped
}

// checkBreakpoint 当前行上是否有断点
func (d *Debugger) checkBreakpoint(ar *Activation) bool {
	return d.breakpoints.Contains(d.pathConvert.Normalize(ar.Source), ar.Line)
}

// checkStep 步进谓词
// over: 回到锚定虚拟机且深度不超过锚点时停下，<=让提前return之后
// 到达的第一行也能停住；out: 必须真正离开锚定的那一帧，严格小于；
// 锚点里的vm handle保证步进不会跨协程
func (d *Debugger) checkStep(vm VMHandle) bool {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	switch d.step {
	case constants.StepOver:
		return vm == d.anchorVM && d.stackLevel <= d.anchorLevel
	case constants.StepOut:
		return vm == d.anchorVM && d.stackLevel < d.anchorLevel
	default:
		return true
	}
}

// pausePending 有一个还没兑现的pause请求
func (d *Debugger) pausePending() bool {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	return d.pauseRequested
}

func (d *Debugger) isStep(step constants.StepType) bool {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	return d.step == step
}

// armStepIn 进入停顿状态：state=stepping，步进粒度回到in
func (d *Debugger) armStepIn() {
	d.stepMu.Lock()
	d.step = constants.StepIn
	d.stepMu.Unlock()
	d.status.Set(constants.Stepping)
}

// setStepAnchor 记录一次步进的起点
func (d *Debugger) setStepAnchor(vm VMHandle, step constants.StepType) {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	d.step = step
	d.anchorVM = vm
	d.anchorLevel = d.stackLevel
}

// stopLoop 停等循环，虚拟机线程在这里被挂起
// 只有恢复类命令（continue/next/stepIn/stepOut/disconnect）会退出
func (d *Debugger) stopLoop(vm VMHandle, ar *Activation) {
	// 同一个虚拟机同时最多只有一个停顿
	d.parked = true
	defer func() { d.parked = false }()
	quit := false
	for !quit {
		d.getCustom().UpdateStop()
		d.channel.Update(0)
		if d.channel.Closed() {
			// 通道故障，结束会话并把控制权还给虚拟机
			d.status.Set(constants.Terminated)
			d.stack.Reset()
			return
		}

		msg := d.channel.Input()
		if msg == nil {
			time.Sleep(idleSleep)
			continue
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			continue
		}
		if handled, q := d.updateMain(req); handled {
			quit = q
			continue
		}
		if handled, q := d.updateHook(req, vm, ar); handled {
			quit = q
			continue
		}
		d.sendErrorResponse(req.GetRequest(), notYetImplemented(req.GetRequest().Command))
	}
}
