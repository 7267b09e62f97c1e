package command_test

import "sync"

// MockLogger for testing.
type MockLogger struct {
	mu      sync.Mutex
	entries [][2]string
}

func (l *MockLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, [2]string{level, msg})
}

func (l *MockLogger) Debug(msg string, _ map[string]interface{}) { l.add("debug", msg) }
func (l *MockLogger) Info(msg string, _ map[string]interface{})  { l.add("info", msg) }
func (l *MockLogger) Warn(msg string, _ map[string]interface{})  { l.add("warn", msg) }
func (l *MockLogger) Error(msg string, _ map[string]interface{}) { l.add("error", msg) }

func (l *MockLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string

	for _, entry := range l.entries {
		if entry[0] == level {
			out = append(out, entry[1])
		}
	}

	return out
}
