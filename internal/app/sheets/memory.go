package sheets

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryDestination はメモリ上のタブです。--report-only の確認やテストで使います。
// Rows[0] がヘッダー行です。
type MemoryDestination struct {
	mu   sync.Mutex
	Rows [][]interface{}
	// ResolveErr が設定されていれば Resolve はそのエラーを返します。
	ResolveErr error
	Writes     int
}

func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{}
}

func (m *MemoryDestination) Name() string { return "memory" }

func (m *MemoryDestination) Resolve(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResolveErr != nil {
		return m.ResolveErr
	}
	if len(m.Rows) == 0 {
		m.Rows = append(m.Rows, Header())
	}
	return nil
}

func (m *MemoryDestination) Keys(context.Context) (map[Key]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[Key]int)
	for i := 1; i < len(m.Rows); i++ {
		if k, ok := keyOf(m.Rows[i]); ok {
			keys[k] = i + 1
		}
	}
	return keys, nil
}

func (m *MemoryDestination) Write(_ context.Context, updates map[int][]interface{}, appends [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, values := range updates {
		if n < 2 || n > len(m.Rows) {
			return fmt.Errorf("row %d out of range", n)
		}
		m.Rows[n-1] = values
	}
	m.Rows = append(m.Rows, appends...)
	m.Writes++
	return nil
}

func (m *MemoryDestination) SortByWeek(_ context.Context, descending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Rows) < 2 {
		return nil
	}
	data := m.Rows[1:]
	sort.SliceStable(data, func(i, j int) bool {
		wi, wj := fmt.Sprint(data[i][weekColumn]), fmt.Sprint(data[j][weekColumn])
		if wi != wj {
			if descending {
				return wi > wj
			}
			return wi < wj
		}
		return fmt.Sprint(data[i][brandColumn]) < fmt.Sprint(data[j][brandColumn])
	})
	return nil
}

// Count は key に一致するデータ行の数です。
func (m *MemoryDestination) Count(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := 1; i < len(m.Rows); i++ {
		if k, ok := keyOf(m.Rows[i]); ok && k == key {
			n++
		}
	}
	return n
}

// Row は key に一致する最初のデータ行です。
func (m *MemoryDestination) Row(key Key) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i < len(m.Rows); i++ {
		if k, ok := keyOf(m.Rows[i]); ok && k == key {
			return m.Rows[i]
		}
	}
	return nil
}
