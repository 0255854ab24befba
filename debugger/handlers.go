package debugger

import (
	"encoding/json"
	"path"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/lua-debugger/constants"
	e "github.com/fansqz/lua-debugger/error"
)

// ---------------------------------------------------------------------
// main表：initialize/launch/attach/disconnect/setBreakpoints/
// configurationDone/pause

func (d *Debugger) onInitialize(request *dap.InitializeRequest) bool {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = false
	response.Body.SupportsConditionalBreakpoints = false
	response.Body.SupportsSetVariable = true
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsStepBack = false
	response.Body.SupportsDelayedStackTraceLoading = false
	response.Body.SupportTerminateDebuggee = false
	// norepl模式下不宣告求值能力
	response.Body.SupportsEvaluateForHovers = !d.noreplInit
	d.sendMessage(response)
	d.eventInitialized()
	if d.status.Is(constants.Birth) {
		d.status.Set(constants.Initialized)
	}
	return false
}

// launchArguments launch请求里本调试器关心的字段
type launchArguments struct {
	WorkingDir string `json:"workingDir"`
	Cwd        string `json:"cwd"`
}

func (d *Debugger) onLaunch(request *dap.LaunchRequest) bool {
	args := launchArguments{}
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			logrus.Warnf("[Debugger] parse launch arguments fail, err = %v", err)
		}
	}
	if args.WorkingDir != "" {
		d.workingDir = args.WorkingDir
	} else if args.Cwd != "" {
		d.workingDir = args.Cwd
	}
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return false
}

func (d *Debugger) onAttach(request *dap.AttachRequest) bool {
	// 虚拟机在构造时就已经挂好，这里只需要应答
	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return false
}

// onDisconnect 任何状态下都接受
// 会话转入terminated，若虚拟机停在hook里则立刻放行
func (d *Debugger) onDisconnect(request *dap.DisconnectRequest) bool {
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	d.eventTerminated()
	d.resume()
	d.stepMu.Lock()
	d.step = constants.StepIn
	d.stepMu.Unlock()
	d.status.Set(constants.Terminated)
	return true
}

func (d *Debugger) onSetBreakpoints(request *dap.SetBreakpointsRequest) bool {
	source := request.Arguments.Source
	lines := make([]int, 0, len(request.Arguments.Breakpoints))
	for _, bp := range request.Arguments.Breakpoints {
		lines = append(lines, bp.Line)
	}
	key := d.pathConvert.Normalize(d.pathConvert.ToVM(source.Path))
	d.breakpoints.Set(key, lines)

	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(lines))
	for i, line := range lines {
		response.Body.Breakpoints[i].Line = line
		response.Body.Breakpoints[i].Verified = true
	}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onConfigurationDone(request *dap.ConfigurationDoneRequest) bool {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	if d.status.Is(constants.Initialized) {
		d.status.Set(constants.Running)
		d.eventThread("started")
	}
	return false
}

// onPause 把步进粒度拨到in，下一个行事件就会停下
// 这里不改生命周期状态：进stepping由hook在真正停下时完成
func (d *Debugger) onPause(request *dap.PauseRequest) bool {
	if d.status.Is(constants.Running, constants.Stepping) {
		d.stepMu.Lock()
		d.step = constants.StepIn
		d.pauseRequested = true
		d.stepMu.Unlock()
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return false
}

// ---------------------------------------------------------------------
// hook表：只在虚拟机停住时可用
// continue/next/stepIn/stepOut返回true，退出停等循环

func (d *Debugger) onContinue(request *dap.ContinueRequest) bool {
	d.resume()
	d.status.Set(constants.Running)
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.sendMessage(response)
	return true
}

func (d *Debugger) onNext(request *dap.NextRequest, vm VMHandle) bool {
	d.resume()
	d.setStepAnchor(vm, constants.StepOver)
	d.status.Set(constants.Stepping)
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return true
}

func (d *Debugger) onStepIn(request *dap.StepInRequest, vm VMHandle) bool {
	d.resume()
	d.setStepAnchor(vm, constants.StepIn)
	d.status.Set(constants.Stepping)
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return true
}

func (d *Debugger) onStepOut(request *dap.StepOutRequest, vm VMHandle) bool {
	d.resume()
	d.setStepAnchor(vm, constants.StepOut)
	d.status.Set(constants.Stepping)
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.sendMessage(response)
	return true
}

// resume 恢复执行前的公共清理：一次性引用全部失效
func (d *Debugger) resume() {
	d.stack.Reset()
	d.stepMu.Lock()
	d.pauseRequested = false
	d.stepMu.Unlock()
}

func (d *Debugger) onStackTrace(request *dap.StackTraceRequest, vm VMHandle) bool {
	if d.inspector == nil {
		d.sendErrorResponse(&request.Request, e.ErrVMNotAttached.Error())
		return false
	}
	frames, err := d.inspector.Frames(vm)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	stackFrames := make([]dap.StackFrame, 0, len(frames))
	for _, frame := range frames {
		clientPath := d.pathConvert.ToClient(frame.Source)
		stackFrames = append(stackFrames, dap.StackFrame{
			Id:   frame.Index,
			Name: frame.Name,
			Line: frame.Line,
			Source: &dap.Source{
				Name: path.Base(clientPath),
				Path: clientPath,
			},
		})
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: len(stackFrames),
	}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onScopes(request *dap.ScopesRequest, vm VMHandle) bool {
	if d.inspector == nil {
		d.sendErrorResponse(&request.Request, e.ErrVMNotAttached.Error())
		return false
	}
	frameIndex := request.Arguments.FrameId
	scopes, err := d.inspector.Scopes(vm, frameIndex)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	dapScopes := make([]dap.Scope, 0, len(scopes))
	for _, scope := range scopes {
		dapScopes = append(dapScopes, dap.Scope{
			Name:               string(scope),
			VariablesReference: d.stack.MintScopeRef(frameIndex, scope),
			Expensive:          scope == constants.ScopeGlobal,
		})
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{Scopes: dapScopes}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onVariables(request *dap.VariablesRequest, vm VMHandle) bool {
	if d.inspector == nil {
		d.sendErrorResponse(&request.Request, e.ErrVMNotAttached.Error())
		return false
	}
	ref, err := d.stack.Lookup(request.Arguments.VariablesReference)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	variables, err := d.inspector.Variables(vm, ref.FrameIndex, ref.Scope, ref.Path)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	dapVariables := make([]dap.Variable, 0, len(variables))
	for _, variable := range variables {
		reference := 0
		if variable.HasChildren {
			reference = d.stack.MintChildRef(ref, variable.Name)
		}
		dapVariables = append(dapVariables, dap.Variable{
			Name:               variable.Name,
			Value:              variable.Value,
			Type:               variable.Type,
			VariablesReference: reference,
		})
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{Variables: dapVariables}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onSetVariable(request *dap.SetVariableRequest, vm VMHandle) bool {
	if d.inspector == nil {
		d.sendErrorResponse(&request.Request, e.ErrVMNotAttached.Error())
		return false
	}
	ref, err := d.stack.Lookup(request.Arguments.VariablesReference)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	variable, err := d.inspector.SetVariable(vm, ref.FrameIndex, ref.Scope, ref.Path,
		request.Arguments.Name, request.Arguments.Value)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	reference := 0
	if variable.HasChildren {
		reference = d.stack.MintChildRef(ref, variable.Name)
	}
	response := &dap.SetVariableResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.SetVariableResponseBody{
		Value:              variable.Value,
		Type:               variable.Type,
		VariablesReference: reference,
	}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onSource(request *dap.SourceRequest) bool {
	sourcePath := ""
	if request.Arguments.Source != nil {
		sourcePath = request.Arguments.Source.Path
	}
	if sourcePath == "" {
		d.sendErrorResponse(&request.Request, e.ErrSourceNotAvailable.Error())
		return false
	}
	text, err := d.stack.Source(d.pathConvert.ToVM(sourcePath))
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	response := &dap.SourceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.SourceResponseBody{Content: text}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onThreads(request *dap.ThreadsRequest) bool {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ThreadsResponseBody{
		Threads: []dap.Thread{{Id: mainThreadID, Name: "main"}},
	}
	d.sendMessage(response)
	return false
}

func (d *Debugger) onEvaluate(request *dap.EvaluateRequest, vm VMHandle) bool {
	if d.evaluator == nil {
		d.sendErrorResponse(&request.Request, e.ErrEvaluateFailed.Error())
		return false
	}
	variable, err := d.evaluator.Evaluate(vm, request.Arguments.FrameId,
		request.Arguments.Expression, request.Arguments.Context)
	if err != nil {
		d.sendErrorResponse(&request.Request, err.Error())
		return false
	}
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.EvaluateResponseBody{
		Result: variable.Value,
		Type:   variable.Type,
	}
	d.sendMessage(response)
	return false
}
