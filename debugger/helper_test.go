package debugger

import (
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/fansqz/lua-debugger/constants"
	e "github.com/fansqz/lua-debugger/error"
)

// fakeChannel 测试用的消息通道，请求靠push预先排队
type fakeChannel struct {
	mutex   sync.Mutex
	pending []dap.Message
	sent    []dap.Message
	closed  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) Update(timeout time.Duration) {}

func (c *fakeChannel) Input() dap.Message {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg
}

func (c *fakeChannel) Send(message dap.Message) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) SetSchema(path string) error { return nil }

func (c *fakeChannel) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) push(messages ...dap.Message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pending = append(c.pending, messages...)
}

func (c *fakeChannel) sentMessages() []dap.Message {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]dap.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// stoppedReasons 按发送顺序收集stopped事件的原因
func (c *fakeChannel) stoppedReasons() []string {
	reasons := []string{}
	for _, msg := range c.sentMessages() {
		if event, ok := msg.(*dap.StoppedEvent); ok {
			reasons = append(reasons, event.Body.Reason)
		}
	}
	return reasons
}

// responsesFor 按发送顺序收集某个命令的应答
func (c *fakeChannel) responsesFor(command string) []dap.ResponseMessage {
	out := []dap.ResponseMessage{}
	for _, msg := range c.sentMessages() {
		if response, ok := msg.(dap.ResponseMessage); ok {
			if response.GetResponse().Command == command {
				out = append(out, response)
			}
		}
	}
	return out
}

// fakeHost 记录hook安装情况的宿主适配器
type fakeHost struct {
	hook      HookFunc
	mask      EventMask
	installed bool
}

func (h *fakeHost) InstallHook(hook HookFunc, mask EventMask) error {
	h.hook = hook
	h.mask = mask
	h.installed = true
	return nil
}

func (h *fakeHost) RemoveHook() error {
	h.hook = nil
	h.installed = false
	return nil
}

// fakeVM 虚拟机handle，用指针身份区分协程
type fakeVM struct {
	name string
}

// fakeInspector map做后端的栈模型，所有帧共用同一张locals表
type fakeInspector struct {
	frames []*Frame
	locals map[string]string
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{
		frames: []*Frame{
			{Index: 0, Source: "main.lua", Line: 10, Name: "work"},
			{Index: 1, Source: "main.lua", Line: 30, Name: "main chunk"},
		},
		locals: map[string]string{"x": "1", "y": "hello"},
	}
}

func (i *fakeInspector) StackDepth(vm VMHandle) int { return len(i.frames) }

func (i *fakeInspector) Frames(vm VMHandle) ([]*Frame, error) { return i.frames, nil }

func (i *fakeInspector) Scopes(vm VMHandle, frameIndex int) ([]constants.ScopeName, error) {
	if frameIndex < 0 || frameIndex >= len(i.frames) {
		return nil, e.ErrFrameNotFound
	}
	return []constants.ScopeName{constants.ScopeLocal, constants.ScopeGlobal}, nil
}

func (i *fakeInspector) Variables(vm VMHandle, frameIndex int, scope constants.ScopeName, path []string) ([]*Variable, error) {
	variables := []*Variable{}
	for name, value := range i.locals {
		variables = append(variables, &Variable{Name: name, Type: "string", Value: value})
	}
	return variables, nil
}

func (i *fakeInspector) SetVariable(vm VMHandle, frameIndex int, scope constants.ScopeName, path []string, name string, value string) (*Variable, error) {
	if _, ok := i.locals[name]; !ok {
		return nil, e.ErrVariableNotFound
	}
	i.locals[name] = value
	return &Variable{Name: name, Type: "string", Value: value}, nil
}

// fakeEvaluator 固定应答的求值器
type fakeEvaluator struct {
	result *Variable
	err    error
}

func (f *fakeEvaluator) Evaluate(vm VMHandle, frameIndex int, expression string, context string) (*Variable, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// ---------------------------------------------------------------------
// 请求构造

func newTestRequest(seq int, command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  seq,
			Type: string(constants.RequestMessage),
		},
		Command: command,
	}
}

func initializeRequest(seq int) *dap.InitializeRequest {
	return &dap.InitializeRequest{Request: newTestRequest(seq, "initialize")}
}

func launchRequest(seq int) *dap.LaunchRequest {
	return &dap.LaunchRequest{Request: newTestRequest(seq, "launch")}
}

func disconnectRequest(seq int) *dap.DisconnectRequest {
	return &dap.DisconnectRequest{Request: newTestRequest(seq, "disconnect")}
}

func setBreakpointsRequest(seq int, source string, lines ...int) *dap.SetBreakpointsRequest {
	request := &dap.SetBreakpointsRequest{Request: newTestRequest(seq, "setBreakpoints")}
	request.Arguments.Source = dap.Source{Path: source}
	for _, line := range lines {
		request.Arguments.Breakpoints = append(request.Arguments.Breakpoints,
			dap.SourceBreakpoint{Line: line})
	}
	return request
}

func configurationDoneRequest(seq int) *dap.ConfigurationDoneRequest {
	return &dap.ConfigurationDoneRequest{Request: newTestRequest(seq, "configurationDone")}
}

func pauseRequest(seq int) *dap.PauseRequest {
	request := &dap.PauseRequest{Request: newTestRequest(seq, "pause")}
	request.Arguments.ThreadId = 1
	return request
}

func continueRequest(seq int) *dap.ContinueRequest {
	request := &dap.ContinueRequest{Request: newTestRequest(seq, "continue")}
	request.Arguments.ThreadId = 1
	return request
}

func nextRequest(seq int) *dap.NextRequest {
	request := &dap.NextRequest{Request: newTestRequest(seq, "next")}
	request.Arguments.ThreadId = 1
	return request
}

func stepInRequest(seq int) *dap.StepInRequest {
	request := &dap.StepInRequest{Request: newTestRequest(seq, "stepIn")}
	request.Arguments.ThreadId = 1
	return request
}

func stepOutRequest(seq int) *dap.StepOutRequest {
	request := &dap.StepOutRequest{Request: newTestRequest(seq, "stepOut")}
	request.Arguments.ThreadId = 1
	return request
}

func stackTraceRequest(seq int) *dap.StackTraceRequest {
	request := &dap.StackTraceRequest{Request: newTestRequest(seq, "stackTrace")}
	request.Arguments.ThreadId = 1
	return request
}

func scopesRequest(seq int, frameID int) *dap.ScopesRequest {
	request := &dap.ScopesRequest{Request: newTestRequest(seq, "scopes")}
	request.Arguments.FrameId = frameID
	return request
}

func variablesRequest(seq int, reference int) *dap.VariablesRequest {
	request := &dap.VariablesRequest{Request: newTestRequest(seq, "variables")}
	request.Arguments.VariablesReference = reference
	return request
}

func setVariableRequest(seq int, reference int, name string, value string) *dap.SetVariableRequest {
	request := &dap.SetVariableRequest{Request: newTestRequest(seq, "setVariable")}
	request.Arguments.VariablesReference = reference
	request.Arguments.Name = name
	request.Arguments.Value = value
	return request
}

func evaluateRequest(seq int, expression string) *dap.EvaluateRequest {
	request := &dap.EvaluateRequest{Request: newTestRequest(seq, "evaluate")}
	request.Arguments.Expression = expression
	request.Arguments.Context = "watch"
	return request
}

func threadsRequest(seq int) *dap.ThreadsRequest {
	return &dap.ThreadsRequest{Request: newTestRequest(seq, "threads")}
}

// ---------------------------------------------------------------------
// 调试器装配

type testHelper struct {
	debug     *Debugger
	channel   *fakeChannel
	host      *fakeHost
	inspector *fakeInspector
	evaluator *fakeEvaluator
	vm        *fakeVM
}

func newTestHelper() *testHelper {
	channel := newFakeChannel()
	host := &fakeHost{}
	inspector := newFakeInspector()
	evaluator := &fakeEvaluator{result: &Variable{Name: "expr", Type: "number", Value: "42"}}
	vm := &fakeVM{name: "main"}
	debug, _ := Attach(vm, "", 0, &AttachOption{
		Host:      host,
		Inspector: inspector,
		Evaluator: evaluator,
		Channel:   channel,
	})
	return &testHelper{
		debug:     debug,
		channel:   channel,
		host:      host,
		inspector: inspector,
		evaluator: evaluator,
		vm:        vm,
	}
}

// setupRunning 走完initialize/setBreakpoints/configurationDone，让
// 调试器进入running状态
func (h *testHelper) setupRunning(breakpointLines ...int) {
	h.debug.Open()
	h.channel.push(initializeRequest(1))
	h.debug.Update()
	if len(breakpointLines) > 0 {
		h.channel.push(setBreakpointsRequest(2, "main.lua", breakpointLines...))
		h.debug.Update()
	}
	h.channel.push(configurationDoneRequest(3))
	h.debug.Update()
}

// line 触发一个行事件
func (h *testHelper) line(vm *fakeVM, source string, line int) {
	h.debug.Hook(vm, &Activation{Event: constants.HookLine, Source: source, Line: line})
}

func (h *testHelper) call(vm *fakeVM) {
	h.debug.Hook(vm, &Activation{Event: constants.HookCall})
}

func (h *testHelper) ret(vm *fakeVM) {
	h.debug.Hook(vm, &Activation{Event: constants.HookRet})
}
