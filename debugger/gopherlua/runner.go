package gopherlua

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/fansqz/lua-debugger/constants"
	"github.com/fansqz/lua-debugger/debugger"
)

// lineHookName 插桩调用的全局函数名
// 用双下划线包起来的长名字，避免和脚本自己的符号撞名
const lineHookName = "__lua_debugger_line__"

// Runner 负责把一个脚本跑在调试hook之下
// gopher-lua没有lua_sethook那样的槽位，这里在AST层给每条语句
// 前面插入一个行事件调用来顶替它；call/ret事件没有插桩点，
// 用相邻两次行事件之间的栈深度差合成
type Runner struct {
	adapter *Adapter
	source  string

	lastDepth int
	// lastActivation 最近一次行事件的现场，出错时用来定位
	lastActivation *debugger.Activation
}

func NewRunner(adapter *Adapter, sourcePath string) *Runner {
	return &Runner{
		adapter: adapter,
		source:  filepath.ToSlash(sourcePath),
	}
}

// Run 加载、插桩并执行脚本，阻塞到脚本结束
// 脚本的运行期错误原样返回，由宿主决定上报方式
func (r *Runner) Run() error {
	data, err := os.ReadFile(r.source)
	if err != nil {
		return fmt.Errorf("load script fail: %w", err)
	}
	chunk, err := parse.Parse(bytes.NewReader(data), r.source)
	if err != nil {
		return fmt.Errorf("parse script fail: %w", err)
	}
	chunk = instrumentBlock(chunk)
	proto, err := lua.Compile(chunk, r.source)
	if err != nil {
		return fmt.Errorf("compile script fail: %w", err)
	}

	L := r.adapter.L
	L.SetGlobal(lineHookName, L.NewFunction(r.lineHook))
	r.lastDepth = 0
	L.Push(L.NewFunctionFromProto(proto))
	return L.PCall(0, lua.MultRet, nil)
}

// lineHook 插桩代码的落点，跑在虚拟机线程上
func (r *Runner) lineHook(L *lua.LState) int {
	line := L.CheckInt(1)
	if r.adapter.hook == nil {
		return 0
	}
	// 不含本Go函数帧的深度
	depth := r.adapter.StackDepth(L) - 1
	for r.lastDepth < depth {
		r.lastDepth++
		r.adapter.fire(L, &debugger.Activation{Event: constants.HookCall})
	}
	for r.lastDepth > depth {
		r.lastDepth--
		r.adapter.fire(L, &debugger.Activation{Event: constants.HookRet})
	}
	ar := &debugger.Activation{
		Event:  constants.HookLine,
		Source: r.source,
		Line:   line,
	}
	r.lastActivation = ar
	r.adapter.fire(L, ar)
	return 0
}

// LastActivation 最近一次行事件的现场
// 脚本一行都没跑就失败时退化成只有源标识的记录
func (r *Runner) LastActivation() *debugger.Activation {
	if r.lastActivation == nil {
		return &debugger.Activation{Event: constants.HookLine, Source: r.source}
	}
	return r.lastActivation
}

// ---------------------------------------------------------------------
// AST插桩

// instrumentBlock 给语句块里的每条语句前插一个行事件调用
func instrumentBlock(block []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(block)*2)
	for _, stmt := range block {
		out = append(out, lineHookStmt(stmt.Line()))
		instrumentStmt(stmt)
		out = append(out, stmt)
	}
	return out
}

// instrumentStmt 递归处理带嵌套块的语句和函数定义
func instrumentStmt(stmt ast.Stmt) {
	switch st := stmt.(type) {
	case *ast.DoBlockStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.WhileStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.RepeatStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.IfStmt:
		st.Then = instrumentBlock(st.Then)
		st.Else = instrumentBlock(st.Else)
	case *ast.NumberForStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.GenericForStmt:
		st.Stmts = instrumentBlock(st.Stmts)
	case *ast.FuncDefStmt:
		st.Func.Stmts = instrumentBlock(st.Func.Stmts)
	case *ast.LocalAssignStmt:
		instrumentExprs(st.Exprs)
	case *ast.AssignStmt:
		instrumentExprs(st.Rhs)
	case *ast.ReturnStmt:
		instrumentExprs(st.Exprs)
	case *ast.FuncCallStmt:
		instrumentExpr(st.Expr)
	}
}

func instrumentExprs(exprs []ast.Expr) {
	for _, expr := range exprs {
		instrumentExpr(expr)
	}
}

// instrumentExpr 找出表达式里内嵌的函数字面量并插桩其函数体
func instrumentExpr(expr ast.Expr) {
	switch ex := expr.(type) {
	case *ast.FunctionExpr:
		ex.Stmts = instrumentBlock(ex.Stmts)
	case *ast.FuncCallExpr:
		if ex.Func != nil {
			instrumentExpr(ex.Func)
		}
		instrumentExprs(ex.Args)
	case *ast.TableExpr:
		for _, field := range ex.Fields {
			if field.Key != nil {
				instrumentExpr(field.Key)
			}
			instrumentExpr(field.Value)
		}
	}
}

// lineHookStmt 构造一条 __lua_debugger_line__(N) 调用语句
func lineHookStmt(line int) ast.Stmt {
	ident := &ast.IdentExpr{Value: lineHookName}
	ident.SetLine(line)
	arg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	arg.SetLine(line)
	call := &ast.FuncCallExpr{
		Func: ident,
		Args: []ast.Expr{arg},
	}
	call.SetLine(line)
	stmt := &ast.FuncCallStmt{Expr: call}
	stmt.SetLine(line)
	return stmt
}
