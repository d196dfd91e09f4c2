// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"visualizer/internal/audio"
)

var testDevices = []audio.Device{
	{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	{ID: 1, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
	{ID: 2, Name: "Interface", MaxInputChannels: 2, DefaultSampleRate: 96000},
}

func press(t *testing.T, m DeviceListModel, keys ...tea.KeyMsg) (DeviceListModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(DeviceListModel)
	}
	return m, cmd
}

func loaded(t *testing.T) DeviceListModel {
	t.Helper()
	m := newDeviceListModel(func() ([]audio.Device, error) { return testDevices, nil })
	msg := m.Init()()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	next, _ = next.(DeviceListModel).Update(msg)
	return next.(DeviceListModel)
}

func TestInitFiltersInputs(t *testing.T) {
	m := loaded(t)
	if len(m.devices) != 2 || m.devices[0].Name != "Mic" {
		t.Fatalf("devices = %+v, want only inputs", m.devices)
	}
	if !strings.Contains(m.View(), "Interface") {
		t.Error("view should list the devices")
	}
	if strings.Contains(m.View(), "Speakers") {
		t.Error("output-only devices should be hidden")
	}
}

func TestSelectDeviceAndRate(t *testing.T) {
	m := loaded(t)
	m, _ = press(t, m,
		tea.KeyMsg{Type: tea.KeyDown},
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if m.activeScreen != ConfigScreen {
		t.Fatal("enter should open the configuration screen")
	}
	if availableSampleRates[m.sampleRateIndex] != 96000 {
		t.Errorf("rate should start at the device default, got %d", availableSampleRates[m.sampleRateIndex])
	}

	m, cmd := press(t, m,
		tea.KeyMsg{Type: tea.KeyUp},
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if cmd == nil {
		t.Fatal("confirming should quit")
	}
	want := Selection{DeviceID: 2, Name: "Interface", SampleRate: 88200}
	if m.Selected() == nil || *m.Selected() != want {
		t.Errorf("Selected = %+v, want %+v", m.Selected(), want)
	}
}

func TestBackAndQuit(t *testing.T) {
	m := loaded(t)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, tea.KeyMsg{Type: tea.KeyEsc})
	if m.activeScreen != ListScreen {
		t.Error("esc should return to the list")
	}
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || m.Selected() != nil {
		t.Error("q should quit without a selection")
	}
}

func TestFetchError(t *testing.T) {
	m := newDeviceListModel(func() ([]audio.Device, error) { return nil, errors.New("no portaudio") })
	next, _ := m.Update(m.Init()())
	if !strings.Contains(next.View(), "no portaudio") {
		t.Errorf("view = %q", next.View())
	}
}

func TestClosestRate(t *testing.T) {
	if got := availableSampleRates[closestRate(47000)]; got != 48000 {
		t.Errorf("closestRate(47000) = %d", got)
	}
	if got := availableSampleRates[closestRate(8000)]; got != 44100 {
		t.Errorf("closestRate(8000) = %d", got)
	}
}
