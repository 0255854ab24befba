package debugger

import (
	"sync"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

// BreakpointSet 按源文件组织的断点表
// 键必须是经过PathConverter规范化之后的源标识
type BreakpointSet struct {
	mutex   sync.RWMutex
	sources map[string]sets.Set
}

func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{
		sources: map[string]sets.Set{},
	}
}

// Set 原子地替换某个源文件的全部断点
func (b *BreakpointSet) Set(source string, lines []int) {
	set := hashset.New()
	for _, line := range lines {
		set.Add(line)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if set.Size() == 0 {
		delete(b.sources, source)
		return
	}
	b.sources[source] = set
}

// Contains 判断某一行上是否有断点，行事件的热路径，平均O(1)
func (b *BreakpointSet) Contains(source string, line int) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	set, ok := b.sources[source]
	if !ok {
		return false
	}
	return set.Contains(line)
}

// Lines 返回某个源文件的断点行，顺序不固定；没有断点时返回nil
func (b *BreakpointSet) Lines(source string) []int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	set, ok := b.sources[source]
	if !ok {
		return nil
	}
	lines := make([]int, 0, set.Size())
	for _, v := range set.Values() {
		lines = append(lines, v.(int))
	}
	return lines
}

// Clear 清空所有断点，close时调用
func (b *BreakpointSet) Clear() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sources = map[string]sets.Set{}
}
