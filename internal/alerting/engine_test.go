package alerting

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/dedup"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// mockStore is a minimal in-memory Store.
type mockStore struct {
	mu       sync.Mutex
	rules    []rules.Rule
	alerts   []alert.Alert
	states   []rules.Rule
	cutoff   time.Time
	listErr  error
	saveErr  error
	rulesErr error
}

func newMockStore(rs ...rules.Rule) *mockStore {
	return &mockStore{rules: rs}
}

func (m *mockStore) ListRules(_ context.Context) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	return append([]rules.Rule(nil), m.rules...), nil
}

func (m *mockStore) GetEnabledRules(_ context.Context) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	var out []rules.Rule
	for i := range m.rules {
		if m.rules[i].Enabled {
			out = append(out, m.rules[i])
		}
	}
	return out, nil
}

func (m *mockStore) CreateRule(_ context.Context, rule *rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = rules.ID(strconv.Itoa(len(m.rules) + 1))
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *mockStore) SaveRuleState(_ context.Context, rule *rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, *rule)
	return nil
}

func (m *mockStore) ListAlertsSince(_ context.Context, since time.Time) ([]alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []alert.Alert
	for i := range m.alerts {
		if !m.alerts[i].OccurredAt().Before(since) {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

func (m *mockStore) SaveAlerts(_ context.Context, alerts []alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.alerts = append(m.alerts, alerts...)
	return nil
}

func (m *mockStore) DeleteAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = cutoff
	var kept []alert.Alert
	for i := range m.alerts {
		if !m.alerts[i].OccurredAt().Before(cutoff) {
			kept = append(kept, m.alerts[i])
		}
	}
	deleted := int64(len(m.alerts) - len(kept))
	m.alerts = kept
	return deleted, nil
}

func longStopRule() rules.Rule {
	return *advancedRule("1", group(rules.LogicAnd,
		cond(rules.ConditionStatus, rules.OperatorEquals, "parado"),
		cond(rules.ConditionTime, rules.OperatorGreaterThan, 30.0),
	))
}

func newTestEngine(t *testing.T, store *mockStore) *Engine {
	t.Helper()
	stream := NewAlertStream(nil)
	t.Cleanup(stream.Stop)

	e := NewEngine(store, NewEvaluator(DefaultEvaluatorConfig()), testBuilder(),
		dedup.New(dedup.DefaultConfig()), stream, EngineConfig{}, nil)
	require.NoError(t, e.RefreshRules(t.Context()))
	return e
}

func stopEvent(equip string, ts time.Time) Event {
	return Event{
		Equipment: equip,
		Timestamp: ts,
		Data:      Data{"equipamento": equip, "status": "parado", "time": 45.0},
	}
}

func TestEngine_HandleEvent(t *testing.T) {
	t.Parallel()

	store := newMockStore(longStopRule())
	e := newTestEngine(t, store)

	emitted, err := e.HandleEvent(t.Context(), stopEvent("TRK-01", t0))
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, "TRK-01", emitted[0].Equipment)
	assert.Equal(t, rules.ID("1"), emitted[0].RuleID)

	require.Len(t, store.alerts, 1)
	require.Len(t, store.states, 1)
	assert.Equal(t, int64(1), store.states[0].TriggerCount)
	require.NotNil(t, store.states[0].LastTriggered)
	assert.Equal(t, t0, store.states[0].LastTriggered.Time)
}

func TestEngine_HandleEvent_NoMatch(t *testing.T) {
	t.Parallel()

	store := newMockStore(longStopRule())
	e := newTestEngine(t, store)

	ev := stopEvent("TRK-01", t0)
	ev.Data["time"] = 5.0
	emitted, err := e.HandleEvent(t.Context(), ev)
	require.NoError(t, err)
	assert.Empty(t, emitted)
	assert.Empty(t, store.alerts)
	assert.Empty(t, store.states)
}

func TestEngine_HandleEvent_DropsStoredDuplicates(t *testing.T) {
	t.Parallel()

	store := newMockStore(longStopRule())
	e := newTestEngine(t, store)

	first, err := e.HandleEvent(t.Context(), stopEvent("TRK-01", t0))
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := e.HandleEvent(t.Context(), stopEvent("TRK-01", t0))
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, store.alerts, 1)

	other, err := e.HandleEvent(t.Context(), stopEvent("TRK-02", t0))
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestEngine_HandleEvent_PublishesToStream(t *testing.T) {
	t.Parallel()

	store := newMockStore(longStopRule())
	stream := NewAlertStream(nil)
	received := make(chan string, 1)
	stream.Subscribe(func(a *alert.Alert) { received <- a.Equipment })

	e := NewEngine(store, NewEvaluator(DefaultEvaluatorConfig()), testBuilder(),
		dedup.New(dedup.DefaultConfig()), stream, EngineConfig{}, nil)
	require.NoError(t, e.RefreshRules(t.Context()))

	_, err := e.HandleEvent(t.Context(), stopEvent("TRK-07", t0))
	require.NoError(t, err)
	stream.Stop()

	select {
	case equip := <-received:
		assert.Equal(t, "TRK-07", equip)
	default:
		t.Fatal("alert was not published")
	}
}

func TestEngine_HandleEvent_StoreFailures(t *testing.T) {
	t.Parallel()

	listErr := errors.New("list failed")
	saveErr := errors.New("save failed")
	store := newMockStore(longStopRule())
	store.listErr = listErr
	store.saveErr = saveErr
	e := newTestEngine(t, store)

	emitted, err := e.HandleEvent(t.Context(), stopEvent("TRK-01", t0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, listErr))
	assert.True(t, errors.Is(err, saveErr))
	assert.Len(t, emitted, 1, "alerts survive store failures")
}

func TestEngine_RefreshRules(t *testing.T) {
	t.Parallel()

	disabled := longStopRule()
	disabled.ID = "2"
	disabled.Name = "disabled"
	disabled.Enabled = false
	store := newMockStore(longStopRule(), disabled)
	e := newTestEngine(t, store)

	loaded := e.Rules()
	require.Len(t, loaded, 1)
	assert.Equal(t, rules.ID("1"), loaded[0].ID)

	loaded[0].Name = "changed"
	assert.NotEqual(t, "changed", e.Rules()[0].Name, "Rules returns copies")

	store.rulesErr = errors.New("db down")
	assert.Error(t, e.RefreshRules(t.Context()))
	assert.Len(t, e.Rules(), 1, "failed refresh keeps the loaded rules")
}

func TestEngine_Cleanup(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	old := alert.Alert{ID: "old"}
	old.Timestamp.Time = time.Now().Add(-48 * time.Hour)
	fresh := alert.Alert{ID: "fresh"}
	fresh.Timestamp.Time = time.Now()
	store.alerts = []alert.Alert{old, fresh}

	e := NewEngine(store, NewEvaluator(DefaultEvaluatorConfig()), testBuilder(), nil, nil, EngineConfig{}, nil)
	e.cleanup(24 * time.Hour)

	require.Len(t, store.alerts, 1)
	assert.Equal(t, "fresh", store.alerts[0].ID)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), store.cutoff, time.Minute)

	e.StartRetentionCleanup(time.Hour)
	e.StartRetentionCleanup(time.Hour)
	e.Stop()
	e.Stop()
}
