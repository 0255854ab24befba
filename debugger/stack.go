package debugger

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fansqz/lua-debugger/constants"
	e "github.com/fansqz/lua-debugger/error"
)

const sourceCacheSize = 32

// ReferenceKind 引用类型
type ReferenceKind string

const (
	// ScopeReference 指向某个栈帧的一个作用域
	ScopeReference ReferenceKind = "scope"
	// ChildReference 指向某个变量的子树
	ChildReference ReferenceKind = "child"
)

// ReferenceStruct 变量引用背后的定位信息
// 引用不持有虚拟机里的值，取值时从现场重新解析
type ReferenceStruct struct {
	Kind       ReferenceKind
	FrameIndex int
	Scope      constants.ScopeName
	// Path 从作用域根到目标变量的名字路径
	Path []string
}

// StackModel 每次停下时按需构建的栈视图
// 发出去的引用是一次性的：任意一次恢复执行之后全部失效
type StackModel struct {
	mutex   sync.RWMutex
	nextRef int
	refs    map[int]*ReferenceStruct

	sourceCache *lru.Cache
}

func NewStackModel() *StackModel {
	cache, _ := lru.New(sourceCacheSize)
	return &StackModel{
		nextRef:     1000,
		refs:        map[int]*ReferenceStruct{},
		sourceCache: cache,
	}
}

// MintScopeRef 为某个栈帧的作用域发一个引用
func (s *StackModel) MintScopeRef(frameIndex int, scope constants.ScopeName) int {
	return s.mint(&ReferenceStruct{
		Kind:       ScopeReference,
		FrameIndex: frameIndex,
		Scope:      scope,
	})
}

// MintChildRef 为parent下名为name的变量子树发一个引用
func (s *StackModel) MintChildRef(parent *ReferenceStruct, name string) int {
	childPath := make([]string, 0, len(parent.Path)+1)
	childPath = append(childPath, parent.Path...)
	childPath = append(childPath, name)
	return s.mint(&ReferenceStruct{
		Kind:       ChildReference,
		FrameIndex: parent.FrameIndex,
		Scope:      parent.Scope,
		Path:       childPath,
	})
}

func (s *StackModel) mint(ref *ReferenceStruct) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	intRef := s.nextRef
	s.nextRef++
	s.refs[intRef] = ref
	return intRef
}

// Lookup 解析一个引用，已失效的引用返回ErrInvalidReference
func (s *StackModel) Lookup(reference int) (*ReferenceStruct, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ref, ok := s.refs[reference]
	if !ok {
		return nil, e.ErrInvalidReference
	}
	return ref, nil
}

// Reset 使所有已发出的引用失效
// 每次恢复执行（continue/step）以及close时必须调用
// nextRef不回退，保证旧引用不会被新的停顿复用
func (s *StackModel) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.refs = map[int]*ReferenceStruct{}
}

// Source 读取源文件内容，应答source请求
func (s *StackModel) Source(path string) (string, error) {
	if text, ok := s.sourceCache.Get(path); ok {
		return text.(string), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", e.ErrSourceNotAvailable
	}
	text := string(data)
	s.sourceCache.Add(path, text)
	return text, nil
}
