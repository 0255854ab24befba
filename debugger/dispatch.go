package debugger

import (
	"github.com/google/go-dap"
)

// 请求路由分成两张互斥的表：main表在任意活跃状态下可用，
// hook表只在虚拟机停住（stepping）时可用。命令集是封闭的，
// 这里用类型switch静态展开，handler返回true表示退出停等循环。

// updateMain main命令分发
// handled为false表示不是main命令，由调用方继续尝试hook表
func (d *Debugger) updateMain(msg dap.RequestMessage) (handled bool, quit bool) {
	switch request := msg.(type) {
	case *dap.InitializeRequest:
		return true, d.onInitialize(request)
	case *dap.LaunchRequest:
		return true, d.onLaunch(request)
	case *dap.AttachRequest:
		return true, d.onAttach(request)
	case *dap.DisconnectRequest:
		return true, d.onDisconnect(request)
	case *dap.SetBreakpointsRequest:
		return true, d.onSetBreakpoints(request)
	case *dap.ConfigurationDoneRequest:
		return true, d.onConfigurationDone(request)
	case *dap.PauseRequest:
		return true, d.onPause(request)
	}
	return false, false
}

// updateHook hook命令分发，只会在停等循环里被调用
func (d *Debugger) updateHook(msg dap.RequestMessage, vm VMHandle, ar *Activation) (handled bool, quit bool) {
	switch request := msg.(type) {
	case *dap.ContinueRequest:
		return true, d.onContinue(request)
	case *dap.NextRequest:
		return true, d.onNext(request, vm)
	case *dap.StepInRequest:
		return true, d.onStepIn(request, vm)
	case *dap.StepOutRequest:
		return true, d.onStepOut(request, vm)
	case *dap.StackTraceRequest:
		return true, d.onStackTrace(request, vm)
	case *dap.ScopesRequest:
		return true, d.onScopes(request, vm)
	case *dap.VariablesRequest:
		return true, d.onVariables(request, vm)
	case *dap.SetVariableRequest:
		return true, d.onSetVariable(request, vm)
	case *dap.SourceRequest:
		return true, d.onSource(request)
	case *dap.ThreadsRequest:
		return true, d.onThreads(request)
	case *dap.EvaluateRequest:
		return true, d.onEvaluate(request, vm)
	}
	return false, false
}
