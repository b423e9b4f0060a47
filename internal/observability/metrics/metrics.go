package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// collector 以进程内计数器的形式记录 keeper 的关键事件。
type collector struct {
	mu       sync.Mutex
	counters map[string]uint64
}

var keeperCollector = &collector{counters: make(map[string]uint64)}

// 计数器名称，按 Prometheus 文本格式命名习惯。
const (
	BlocksProcessed    = "chiefkeeper_blocks_processed_total"
	SchedulesSubmitted = "chiefkeeper_schedules_submitted_total"
	CastsSubmitted     = "chiefkeeper_casts_submitted_total"
	ChainErrors        = "chiefkeeper_chain_errors_total"
	GuardSkips         = "chiefkeeper_guard_skips_total"
)

// Inc 将指定计数器加一。
func Inc(name string) {
	keeperCollector.mu.Lock()
	defer keeperCollector.mu.Unlock()
	keeperCollector.counters[name]++
}

// Value 返回计数器当前值，主要用于测试。
func Value(name string) uint64 {
	keeperCollector.mu.Lock()
	defer keeperCollector.mu.Unlock()
	return keeperCollector.counters[name]
}

// Handler exposes the counters in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, keeperCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var out string
	for _, name := range names {
		out += fmt.Sprintf("# TYPE %s counter\n%s %d\n", name, name, c.counters[name])
	}
	return out
}
