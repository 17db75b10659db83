package misc

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// StatFactory accumulates named counters for one simulated component. The
// counters are rendered as "Name_key: value" lines.
type StatFactory struct {
	name  string
	stats map[string]int64
	mu    sync.Mutex
}

func (this *StatFactory) Init(name string) {
	this.name = name
	this.stats = make(map[string]int64)
}

func (this *StatFactory) Name() string {
	return this.name
}

func (this *StatFactory) Increment(key string, value int64) {
	this.mu.Lock()
	defer this.mu.Unlock()

	this.stats[key] += value
}

func (this *StatFactory) Value(key string) int64 {
	this.mu.Lock()
	defer this.mu.Unlock()

	return this.stats[key]
}

// Snapshot copies the counters.
func (this *StatFactory) Snapshot() map[string]int64 {
	this.mu.Lock()
	defer this.mu.Unlock()

	snapshot := make(map[string]int64, len(this.stats))
	for key, value := range this.stats {
		snapshot[key] = value
	}
	return snapshot
}

// ToLines renders the counters sorted by key.
func (this *StatFactory) ToLines() []string {
	snapshot := this.Snapshot()

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s_%s: %d", this.name, key, snapshot[key]))
	}
	return lines
}

// StatLine is one parsed "Section[location]_metric: value" line.
type StatLine struct {
	Section  string
	Location string
	Metric   string
	Value    int64
}

var statLinePattern = regexp.MustCompile(`^([A-Za-z]+)\[([^\]]*)\]_([A-Za-z0-9_]+):\s*(-?\d+)\s*$`)

// ParseStats reads back the output of ToLines. Lines that do not follow the
// format are skipped.
func ParseStats(text string) ([]StatLine, error) {
	lines := make([]StatLine, 0)

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		match := statLinePattern.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if match == nil {
			continue
		}

		value, err := strconv.ParseInt(match[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stat %s_%s: %w", match[1], match[3], err)
		}

		lines = append(lines, StatLine{
			Section:  match[1],
			Location: match[2],
			Metric:   match[3],
			Value:    value,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// SumStats folds parsed lines into Section -> Metric -> total, ignoring the
// location so per-unit counters can be compared across a whole run.
func SumStats(lines []StatLine) map[string]map[string]int64 {
	totals := make(map[string]map[string]int64)
	for _, line := range lines {
		section, ok := totals[line.Section]
		if !ok {
			section = make(map[string]int64)
			totals[line.Section] = section
		}
		section[line.Metric] += line.Value
	}
	return totals
}
