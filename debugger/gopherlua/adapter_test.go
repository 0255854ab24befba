package gopherlua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	lua "github.com/yuin/gopher-lua"

	"github.com/fansqz/lua-debugger/constants"
	"github.com/fansqz/lua-debugger/debugger"
)

func newTestAdapter(t *testing.T) (*Adapter, *lua.LState) {
	L := lua.NewState()
	t.Cleanup(L.Close)
	return NewAdapter(L), L
}

func TestEvaluateGlobals(t *testing.T) {
	adapter, L := newTestAdapter(t)
	assert.Nil(t, L.DoString(`x = 10`))

	variable, err := adapter.Evaluate(L, 0, "x + 5", "watch")
	assert.Nil(t, err)
	assert.Equal(t, "15", variable.Value)
	assert.Equal(t, "number", variable.Type)
}

func TestEvaluateInvalidExpression(t *testing.T) {
	adapter, L := newTestAdapter(t)
	_, err := adapter.Evaluate(L, 0, "1 +", "watch")
	assert.NotNil(t, err)
}

func TestEvaluateRuntimeError(t *testing.T) {
	adapter, L := newTestAdapter(t)
	_, err := adapter.Evaluate(L, 0, "nil + 1", "watch")
	assert.NotNil(t, err)
}

func TestGlobalVariables(t *testing.T) {
	adapter, L := newTestAdapter(t)
	assert.Nil(t, L.DoString(`answer = 42`))

	variables, err := adapter.Variables(L, 0, constants.ScopeGlobal, nil)
	assert.Nil(t, err)
	found := false
	for _, variable := range variables {
		if variable.Name == "answer" {
			found = true
			assert.Equal(t, "42", variable.Value)
			assert.Equal(t, "number", variable.Type)
		}
	}
	assert.True(t, found)
}

func TestTableChildren(t *testing.T) {
	adapter, L := newTestAdapter(t)
	assert.Nil(t, L.DoString(`t = {a = 1, b = "two"}`))

	variables, err := adapter.Variables(L, 0, constants.ScopeGlobal, []string{"t"})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(variables))
	// tableChildren按名字排序
	assert.Equal(t, "a", variables[0].Name)
	assert.Equal(t, "1", variables[0].Value)
	assert.Equal(t, "b", variables[1].Name)
	assert.Equal(t, "two", variables[1].Value)
}

func TestSetGlobalVariable(t *testing.T) {
	adapter, L := newTestAdapter(t)
	assert.Nil(t, L.DoString(`x = 1`))

	variable, err := adapter.SetVariable(L, 0, constants.ScopeGlobal, nil, "x", "99")
	assert.Nil(t, err)
	assert.Equal(t, "99", variable.Value)

	result, err := adapter.Evaluate(L, 0, "x", "watch")
	assert.Nil(t, err)
	assert.Equal(t, "99", result.Value)
}

func TestSetTableField(t *testing.T) {
	adapter, L := newTestAdapter(t)
	assert.Nil(t, L.DoString(`t = {a = 1}`))

	variable, err := adapter.SetVariable(L, 0, constants.ScopeGlobal, []string{"t"}, "a", "7")
	assert.Nil(t, err)
	assert.Equal(t, "7", variable.Value)

	result, err := adapter.Evaluate(L, 0, "t.a", "watch")
	assert.Nil(t, err)
	assert.Equal(t, "7", result.Value)
}

func TestParseLiteral(t *testing.T) {
	assert.Equal(t, lua.LNil, parseLiteral("nil"))
	assert.Equal(t, lua.LTrue, parseLiteral("true"))
	assert.Equal(t, lua.LFalse, parseLiteral("false"))
	assert.Equal(t, lua.LNumber(3.5), parseLiteral("3.5"))
	assert.Equal(t, lua.LString("hi"), parseLiteral(`"hi"`))
	assert.Equal(t, lua.LString("hi"), parseLiteral("'hi'"))
	assert.Equal(t, lua.LString("bare"), parseLiteral("bare"))
}

func TestInstallRemoveHook(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	hook := func(vm debugger.VMHandle, ar *debugger.Activation) {}
	assert.Nil(t, adapter.InstallHook(hook, debugger.MaskLine))
	assert.NotNil(t, adapter.hook)
	assert.Equal(t, debugger.MaskLine, adapter.mask)
	assert.Nil(t, adapter.RemoveHook())
	assert.Nil(t, adapter.hook)
}
