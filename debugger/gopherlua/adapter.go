// Package gopherlua 把调试核心绑定到gopher-lua虚拟机
// 栈帧、变量、求值都通过LState的debug接口现场取，不做缓存
package gopherlua

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/fansqz/lua-debugger/constants"
	"github.com/fansqz/lua-debugger/debugger"
	e "github.com/fansqz/lua-debugger/error"
)

const maxVariables = 256

// Adapter 一个LState上的调试适配器
// 同时实现HostAdapter、Inspector和Evaluator
type Adapter struct {
	L *lua.LState

	hook debugger.HookFunc
	mask debugger.EventMask
}

func NewAdapter(L *lua.LState) *Adapter {
	return &Adapter{L: L}
}

// ---------------------------------------------------------------------
// HostAdapter
// gopher-lua没有原生的hook槽位，事件由同包的Runner在执行
// 被插桩的代码时转发进来

func (a *Adapter) InstallHook(hook debugger.HookFunc, mask debugger.EventMask) error {
	a.hook = hook
	a.mask = mask
	return nil
}

func (a *Adapter) RemoveHook() error {
	a.hook = nil
	a.mask = 0
	return nil
}

// fire 向调试核心转发一个hook事件
func (a *Adapter) fire(vm *lua.LState, ar *debugger.Activation) {
	if a.hook == nil {
		return
	}
	switch ar.Event {
	case constants.HookCall:
		if a.mask&debugger.MaskCall == 0 {
			return
		}
	case constants.HookRet:
		if a.mask&debugger.MaskRet == 0 {
			return
		}
	case constants.HookLine:
		if a.mask&debugger.MaskLine == 0 {
			return
		}
	}
	a.hook(vm, ar)
}

// ---------------------------------------------------------------------
// Inspector

// StackDepth 当前调用深度
func (a *Adapter) StackDepth(vm debugger.VMHandle) int {
	L, ok := vm.(*lua.LState)
	if !ok {
		return 0
	}
	depth := 0
	for {
		if _, ok := L.GetStack(depth); !ok {
			break
		}
		depth++
	}
	return depth
}

// Frames 枚举Lua栈帧，跳过Go函数帧
func (a *Adapter) Frames(vm debugger.VMHandle) ([]*debugger.Frame, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	frames := make([]*debugger.Frame, 0, 8)
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("nSl", dbg, lua.LNil); err != nil {
			continue
		}
		if dbg.CurrentLine <= 0 {
			// Go函数没有行号
			continue
		}
		name := dbg.Name
		if name == "" {
			name = "main chunk"
		}
		frames = append(frames, &debugger.Frame{
			Index:  len(frames),
			Source: strings.TrimPrefix(dbg.Source, "@"),
			Line:   dbg.CurrentLine,
			Name:   name,
		})
	}
	return frames, nil
}

// Scopes 每个Lua栈帧固定有局部变量、上值、全局三个作用域
func (a *Adapter) Scopes(vm debugger.VMHandle, frameIndex int) ([]constants.ScopeName, error) {
	if _, err := a.frameDebug(vm, frameIndex); err != nil {
		return nil, err
	}
	return []constants.ScopeName{
		constants.ScopeLocal,
		constants.ScopeUpvalue,
		constants.ScopeGlobal,
	}, nil
}

// Variables 枚举作用域下path处的变量列表
func (a *Adapter) Variables(vm debugger.VMHandle, frameIndex int, scope constants.ScopeName, path []string) ([]*debugger.Variable, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	if len(path) == 0 {
		return a.scopeRoots(L, frameIndex, scope)
	}
	value, err := a.resolvePath(L, frameIndex, scope, path)
	if err != nil {
		return nil, err
	}
	table, ok := value.(*lua.LTable)
	if !ok {
		return []*debugger.Variable{}, nil
	}
	return tableChildren(table), nil
}

// SetVariable 修改变量并返回写入后的值
func (a *Adapter) SetVariable(vm debugger.VMHandle, frameIndex int, scope constants.ScopeName, path []string, name string, value string) (*debugger.Variable, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	newValue := parseLiteral(value)
	if len(path) > 0 {
		// 父引用指向一个表，直接改表项
		parent, err := a.resolvePath(L, frameIndex, scope, path)
		if err != nil {
			return nil, err
		}
		table, ok := parent.(*lua.LTable)
		if !ok {
			return nil, e.ErrVariableNotFound
		}
		table.RawSet(tableKey(name), newValue)
		return makeVariable(name, newValue), nil
	}
	switch scope {
	case constants.ScopeLocal:
		dbg, err := a.frameDebug(vm, frameIndex)
		if err != nil {
			return nil, err
		}
		for i := 1; i <= maxVariables; i++ {
			localName, _ := L.GetLocal(dbg, i)
			if localName == "" {
				break
			}
			if localName == name {
				L.SetLocal(dbg, i, newValue)
				return makeVariable(name, newValue), nil
			}
		}
		return nil, e.ErrVariableNotFound
	case constants.ScopeUpvalue:
		fn, err := a.frameFunction(vm, frameIndex)
		if err != nil {
			return nil, err
		}
		for i := 1; i <= maxVariables; i++ {
			upName, _ := L.GetUpvalue(fn, i)
			if upName == "" {
				break
			}
			if upName == name {
				L.SetUpvalue(fn, i, newValue)
				return makeVariable(name, newValue), nil
			}
		}
		return nil, e.ErrVariableNotFound
	case constants.ScopeGlobal:
		L.G.Global.RawSetString(name, newValue)
		return makeVariable(name, newValue), nil
	}
	return nil, e.ErrVariableNotFound
}

// ---------------------------------------------------------------------
// Evaluator

// Evaluate 在某个栈帧的上下文里求值表达式
// 编译成"return <expr>"，失败再按语句块编译；执行环境以该帧的
// 局部变量和上值优先，查不到再落到全局表。环境是拷贝出来的，
// 表达式里的赋值不会改到帧里的局部变量和上值，新名字的赋值写到全局
func (a *Adapter) Evaluate(vm debugger.VMHandle, frameIndex int, expression string, context string) (*debugger.Variable, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	fn, err := L.LoadString("return " + expression)
	if err != nil {
		fn, err = L.LoadString(expression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", e.ErrEvaluateFailed, err)
		}
	}
	L.SetFEnv(fn, a.frameEnv(L, frameIndex))
	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrEvaluateFailed, err)
	}
	result := L.Get(base + 1)
	L.SetTop(base)
	return makeVariable(expression, result), nil
}

// frameEnv 构造某个栈帧的求值环境
func (a *Adapter) frameEnv(L *lua.LState, frameIndex int) *lua.LTable {
	env := L.NewTable()
	if dbg, err := a.frameDebug(L, frameIndex); err == nil {
		for i := 1; i <= maxVariables; i++ {
			name, value := L.GetLocal(dbg, i)
			if name == "" {
				break
			}
			if !strings.HasPrefix(name, "(") {
				env.RawSetString(name, value)
			}
		}
	}
	if fn, err := a.frameFunction(L, frameIndex); err == nil {
		for i := 1; i <= maxVariables; i++ {
			name, value := L.GetUpvalue(fn, i)
			if name == "" {
				break
			}
			env.RawSetString(name, value)
		}
	}
	meta := L.NewTable()
	meta.RawSetString("__index", L.G.Global)
	meta.RawSetString("__newindex", L.G.Global)
	L.SetMetatable(env, meta)
	return env
}

// ---------------------------------------------------------------------
// 内部工具

// frameDebug 把对外的帧下标换回GetStack的level
// 帧视图每次都重算，下标只在一次停顿内有意义
func (a *Adapter) frameDebug(vm debugger.VMHandle, frameIndex int) (*lua.Debug, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	index := 0
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("nSl", dbg, lua.LNil); err != nil {
			continue
		}
		if dbg.CurrentLine <= 0 {
			continue
		}
		if index == frameIndex {
			return dbg, nil
		}
		index++
	}
	return nil, e.ErrFrameNotFound
}

// frameFunction 某个栈帧正在执行的函数
func (a *Adapter) frameFunction(vm debugger.VMHandle, frameIndex int) (*lua.LFunction, error) {
	L, ok := vm.(*lua.LState)
	if !ok {
		return nil, e.ErrVMNotAttached
	}
	dbg, err := a.frameDebug(vm, frameIndex)
	if err != nil {
		return nil, err
	}
	value, err := L.GetInfo("f", dbg, lua.LNil)
	if err != nil {
		return nil, e.ErrFrameNotFound
	}
	fn, ok := value.(*lua.LFunction)
	if !ok {
		return nil, e.ErrFrameNotFound
	}
	return fn, nil
}

// scopeRoots 作用域根上的变量列表
func (a *Adapter) scopeRoots(L *lua.LState, frameIndex int, scope constants.ScopeName) ([]*debugger.Variable, error) {
	switch scope {
	case constants.ScopeLocal:
		dbg, err := a.frameDebug(L, frameIndex)
		if err != nil {
			return nil, err
		}
		variables := make([]*debugger.Variable, 0, 8)
		for i := 1; i <= maxVariables; i++ {
			name, value := L.GetLocal(dbg, i)
			if name == "" {
				break
			}
			// 跳过"(*temporary)"之类的内部槽位
			if strings.HasPrefix(name, "(") {
				continue
			}
			variables = append(variables, makeVariable(name, value))
		}
		return variables, nil
	case constants.ScopeUpvalue:
		fn, err := a.frameFunction(L, frameIndex)
		if err != nil {
			return nil, err
		}
		variables := make([]*debugger.Variable, 0, 4)
		for i := 1; i <= maxVariables; i++ {
			name, value := L.GetUpvalue(fn, i)
			if name == "" {
				break
			}
			variables = append(variables, makeVariable(name, value))
		}
		return variables, nil
	case constants.ScopeGlobal:
		return tableChildren(L.G.Global), nil
	}
	return nil, e.ErrVariableNotFound
}

// resolvePath 从作用域根沿着名字路径走到目标值
func (a *Adapter) resolvePath(L *lua.LState, frameIndex int, scope constants.ScopeName, path []string) (lua.LValue, error) {
	root, err := a.lookupRoot(L, frameIndex, scope, path[0])
	if err != nil {
		return nil, err
	}
	value := root
	for _, key := range path[1:] {
		table, ok := value.(*lua.LTable)
		if !ok {
			return nil, e.ErrVariableNotFound
		}
		value = table.RawGet(tableKey(key))
		if value == lua.LNil {
			return nil, e.ErrVariableNotFound
		}
	}
	return value, nil
}

// lookupRoot 按名字在作用域根上找变量
func (a *Adapter) lookupRoot(L *lua.LState, frameIndex int, scope constants.ScopeName, name string) (lua.LValue, error) {
	switch scope {
	case constants.ScopeLocal:
		dbg, err := a.frameDebug(L, frameIndex)
		if err != nil {
			return nil, err
		}
		for i := 1; i <= maxVariables; i++ {
			localName, value := L.GetLocal(dbg, i)
			if localName == "" {
				break
			}
			if localName == name {
				return value, nil
			}
		}
	case constants.ScopeUpvalue:
		fn, err := a.frameFunction(L, frameIndex)
		if err != nil {
			return nil, err
		}
		for i := 1; i <= maxVariables; i++ {
			upName, value := L.GetUpvalue(fn, i)
			if upName == "" {
				break
			}
			if upName == name {
				return value, nil
			}
		}
	case constants.ScopeGlobal:
		value := L.G.Global.RawGetString(name)
		if value != lua.LNil {
			return value, nil
		}
	}
	return nil, e.ErrVariableNotFound
}

// tableChildren 枚举一个表的内容，按名字排序保证输出稳定
func tableChildren(table *lua.LTable) []*debugger.Variable {
	variables := make([]*debugger.Variable, 0, 8)
	table.ForEach(func(key, value lua.LValue) {
		if len(variables) >= maxVariables {
			return
		}
		variables = append(variables, makeVariable(keyString(key), value))
	})
	sort.Slice(variables, func(i, j int) bool {
		return variables[i].Name < variables[j].Name
	})
	return variables
}

func keyString(key lua.LValue) string {
	if number, ok := key.(lua.LNumber); ok {
		return strconv.FormatFloat(float64(number), 'g', -1, 64)
	}
	return key.String()
}

// tableKey 把路径段还原成表的键，数字段按数组下标处理
func tableKey(segment string) lua.LValue {
	if number, err := strconv.ParseFloat(segment, 64); err == nil {
		return lua.LNumber(number)
	}
	return lua.LString(segment)
}

func makeVariable(name string, value lua.LValue) *debugger.Variable {
	_, isTable := value.(*lua.LTable)
	return &debugger.Variable{
		Name:        name,
		Type:        value.Type().String(),
		Value:       value.String(),
		HasChildren: isTable,
	}
}

// parseLiteral 把IDE传来的文本解析成Lua值
func parseLiteral(text string) lua.LValue {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case "nil":
		return lua.LNil
	case "true":
		return lua.LTrue
	case "false":
		return lua.LFalse
	}
	if number, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return lua.LNumber(number)
	}
	if len(trimmed) >= 2 {
		if (trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"') ||
			(trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'') {
			return lua.LString(trimmed[1 : len(trimmed)-1])
		}
	}
	return lua.LString(trimmed)
}
