// Package platform wraps the D-Bus surfaces the agent samples: the focused
// window (GNOME Shell FocusedWindow extension), the Mutter idle monitor, and
// the login1/ScreenSaver power signals. Callers treat every error here as a
// missed sample, never as a fatal condition.
package platform

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/worktrack/agent/internal/types"
)

const (
	focusedWindowDestination = "org.gnome.Shell"
	focusedWindowObjectPath  = "/org/gnome/shell/extensions/FocusedWindow"
	focusedWindowInterface   = "org.gnome.shell.extensions.FocusedWindow"
	focusedWindowMethod      = focusedWindowInterface + ".Get"

	idleMonitorDestination = "org.gnome.Mutter.IdleMonitor"
	idleMonitorObjectPath  = "/org/gnome/Mutter/IdleMonitor/Core"
	idleMonitorInterface   = "org.gnome.Mutter.IdleMonitor"
	idleMonitorMethod      = idleMonitorInterface + ".GetIdletime"

	login1Destination = "org.freedesktop.login1"
	login1ObjectPath  = "/org/freedesktop/login1"
	login1Interface   = "org.freedesktop.login1.Manager"

	screenSaverInterface = "org.gnome.ScreenSaver"
	screenSaverPath      = "/org/gnome/ScreenSaver"
)

// focusedWindow mirrors the JSON emitted by the FocusedWindow extension.
type focusedWindow struct {
	Title           string `json:"title"`
	WmClass         string `json:"wm_class"`
	WmClassInstance string `json:"wm_class_instance"`
	Pid             int32  `json:"pid"`
	Focus           bool   `json:"focus"`
}

// DBusSampler samples window, idle and power state from the session and
// system buses. Connections are opened lazily and reused.
type DBusSampler struct {
	session *dbus.Conn
	system  *dbus.Conn
}

func NewDBusSampler() *DBusSampler {
	return &DBusSampler{}
}

func (s *DBusSampler) sessionBus() (*dbus.Conn, error) {
	if s.session != nil {
		return s.session, nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	s.session = conn
	return conn, nil
}

func (s *DBusSampler) systemBus() (*dbus.Conn, error) {
	if s.system != nil {
		return s.system, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	s.system = conn
	return conn, nil
}

// ActiveWindow returns the currently focused application and window title.
func (s *DBusSampler) ActiveWindow() (types.AppData, error) {
	conn, err := s.sessionBus()
	if err != nil {
		return types.AppData{}, err
	}

	var raw string
	obj := conn.Object(focusedWindowDestination, focusedWindowObjectPath)
	if err := obj.Call(focusedWindowMethod, 0).Store(&raw); err != nil {
		return types.AppData{}, fmt.Errorf("focused window call failed: %w", err)
	}

	var win focusedWindow
	if err := json.Unmarshal([]byte(raw), &win); err != nil {
		return types.AppData{}, fmt.Errorf("failed to parse focused window payload: %w", err)
	}
	return types.AppData{
		App:            win.WmClass,
		Title:          win.Title,
		ExecutablePath: win.WmClassInstance,
	}, nil
}

// IdleTime returns how long the user has been idle according to Mutter.
func (s *DBusSampler) IdleTime() (time.Duration, error) {
	conn, err := s.sessionBus()
	if err != nil {
		return 0, err
	}

	var idleMillis uint64
	obj := conn.Object(idleMonitorDestination, idleMonitorObjectPath)
	if err := obj.Call(idleMonitorMethod, 0).Store(&idleMillis); err != nil {
		return 0, fmt.Errorf("idle monitor call failed: %w", err)
	}
	return time.Duration(idleMillis) * time.Millisecond, nil
}

// PowerSignal is an OS power/session transition the tracker reacts to.
type PowerSignal int

const (
	SignalSuspend PowerSignal = iota
	SignalResume
	SignalLockScreen
	SignalUnlockScreen
)

func (p PowerSignal) String() string {
	switch p {
	case SignalSuspend:
		return "suspend"
	case SignalResume:
		return "resume"
	case SignalLockScreen:
		return "lock-screen"
	case SignalUnlockScreen:
		return "unlock-screen"
	}
	return "unknown"
}

// SubscribePower delivers suspend/resume (login1 PrepareForSleep) and
// lock/unlock (GNOME ScreenSaver ActiveChanged) transitions on the returned
// channel until Close is called on the sampler.
func (s *DBusSampler) SubscribePower() (<-chan PowerSignal, error) {
	system, err := s.systemBus()
	if err != nil {
		return nil, err
	}
	if err := system.AddMatchSignal(
		dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return nil, fmt.Errorf("failed to match PrepareForSleep: %w", err)
	}

	session, err := s.sessionBus()
	if err != nil {
		return nil, err
	}
	if err := session.AddMatchSignal(
		dbus.WithMatchInterface(screenSaverInterface),
		dbus.WithMatchMember("ActiveChanged"),
	); err != nil {
		return nil, fmt.Errorf("failed to match ActiveChanged: %w", err)
	}

	raw := make(chan *dbus.Signal, 16)
	system.Signal(raw)
	session.Signal(raw)

	out := make(chan PowerSignal, 16)
	go func() {
		defer close(out)
		for sig := range raw {
			if len(sig.Body) == 0 {
				continue
			}
			entering, ok := sig.Body[0].(bool)
			if !ok {
				continue
			}
			switch sig.Name {
			case login1Interface + ".PrepareForSleep":
				if entering {
					out <- SignalSuspend
				} else {
					out <- SignalResume
				}
			case screenSaverInterface + ".ActiveChanged":
				if entering {
					out <- SignalLockScreen
				} else {
					out <- SignalUnlockScreen
				}
			}
		}
	}()
	return out, nil
}

// Close releases both bus connections.
func (s *DBusSampler) Close() error {
	var firstErr error
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			firstErr = err
		}
		s.session = nil
	}
	if s.system != nil {
		if err := s.system.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.system = nil
	}
	return firstErr
}
