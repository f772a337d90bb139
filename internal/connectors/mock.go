package connectors

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"
)

// MockHost - хост бота в памяти: состав групп и журнал отправленных сообщений.
// Используется, когда host.base_url не задан (dry-run), и в тестах.
type MockHost struct {
	mu       sync.Mutex
	groups   map[string][]string
	removed  map[string][]string
	messages map[string][]string
	latency  bool
}

func NewMockHost(withLatency bool) *MockHost {
	return &MockHost{
		groups:   make(map[string][]string),
		removed:  make(map[string][]string),
		messages: make(map[string][]string),
		latency:  withLatency,
	}
}

// SetMembers задает состав группы.
func (m *MockHost) SetMembers(groupID string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[groupID] = append([]string(nil), members...)
}

func (m *MockHost) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %s not found", ErrRejected, groupID)
	}
	return append([]string(nil), members...), nil
}

func (m *MockHost) RemoveMember(ctx context.Context, groupID, subjectID string) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.groups[groupID]
	for i, id := range members {
		if id == subjectID {
			m.groups[groupID] = append(members[:i:i], members[i+1:]...)
			m.removed[groupID] = append(m.removed[groupID], subjectID)
			return nil
		}
	}
	return fmt.Errorf("%w: member %s not in group %s", ErrRejected, subjectID, groupID)
}

func (m *MockHost) SendGroupMessage(ctx context.Context, groupID, text string) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[groupID] = append(m.messages[groupID], text)
	return nil
}

// Removed - кого исключили из группы.
func (m *MockHost) Removed(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed[groupID]...)
}

// Messages - что отправили в группу.
func (m *MockHost) Messages(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages[groupID]...)
}

func (m *MockHost) simulate(ctx context.Context) error {
	if !m.latency {
		return ctx.Err()
	}
	// Имитируем задержку 20-120мс
	latency := time.Duration(20+rand.IntN(100)) * time.Millisecond
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
