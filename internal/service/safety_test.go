package service

import (
	"errors"
	"testing"
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

// waitSafety ждёт свежий результат для набора OSD.
func waitSafety(t *testing.T, m *SafetyMonitor, ids []string) (model.Safety, bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, ok := m.Current(testBackendGUID, ids); ok {
			return s, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return model.Safety{}, false
}

func TestSafetyMonitor_TrackAndCurrent(t *testing.T) {
	api := newFakeAPI()
	api.safety = model.Safety{Good: 3, Critical: 1}
	m := NewSafetyMonitor(api, time.Hour, testLogger())
	defer m.Close()

	if _, ok := m.Current(testBackendGUID, []string{"o1", "o2"}); ok {
		t.Fatal("результат есть до Track")
	}

	m.Track(testBackendGUID, []string{"o2", "o1"})
	s, ok := waitSafety(t, m, []string{"o1", "o2", "o1"})
	if !ok {
		t.Fatal("результат не появился")
	}
	if s.Good != 3 || s.Critical != 1 || s.ComputedAt.IsZero() {
		t.Errorf("Safety = %+v", s)
	}

	m.Track(testBackendGUID, []string{"o1", "o2"})
	if m.Tracked() != 1 {
		t.Errorf("Tracked = %d, порядок osd_id не должен создавать новый набор", m.Tracked())
	}
}

func TestSafetyMonitor_ErrorLeavesUnknown(t *testing.T) {
	api := newFakeAPI()
	api.safetyErr = errors.New("timeout")
	m := NewSafetyMonitor(api, time.Hour, testLogger())
	defer m.Close()

	m.Track(testBackendGUID, []string{"o1"})
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Current(testBackendGUID, []string{"o1"}); ok {
		t.Error("при ошибке расчёта результата быть не должно")
	}
}

func TestSafetyMonitor_StaleResultIgnored(t *testing.T) {
	api := newFakeAPI()
	api.safety = model.Safety{Good: 1, ComputedAt: time.Now().Add(-time.Hour)}
	m := NewSafetyMonitor(api, 10*time.Millisecond, testLogger())
	defer m.Close()

	m.Track(testBackendGUID, []string{"o1"})
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Current(testBackendGUID, []string{"o1"}); ok {
		t.Error("устаревший результат принят")
	}
}

func TestSafetyMonitor_Close(t *testing.T) {
	api := newFakeAPI()
	m := NewSafetyMonitor(api, time.Hour, testLogger())

	m.Track(testBackendGUID, []string{"o1"})
	m.Close()
	m.Close()

	if m.Tracked() != 0 {
		t.Errorf("Tracked = %d после Close", m.Tracked())
	}
	m.Track(testBackendGUID, []string{"o2"})
	if m.Tracked() != 0 {
		t.Error("Track после Close запустил опрос")
	}
}
