// Package tunnel rotates the outbound network path through a pool of OpenVPN profiles.
//
// At most one tunnel process is alive per Rotator. Profiles are drawn uniformly at
// random without replacement; once every discovered profile has been used the
// used-set is cleared and the configured directories are rescanned.
package tunnel

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoProfiles is returned when no profile files can be found in the configured directories.
var ErrNoProfiles = errors.New("no tunnel profiles found")

// ProfileExt is the file extension of OpenVPN connection profiles.
const ProfileExt = ".ovpn"

// Process is the handle of a running tunnel process.
type Process interface {
	Kill() error
	Wait() error
}

// StartFunc launches a tunnel process bound to profile.
type StartFunc func(profile, authFile string) (Process, error)

type cmdProcess struct{ cmd *exec.Cmd }

func (p cmdProcess) Kill() error { return p.cmd.Process.Kill() }
func (p cmdProcess) Wait() error { return p.cmd.Wait() }

// StartOpenVPN runs `openvpn --config <profile> --auth-user-pass <authFile>`.
func StartOpenVPN(profile, authFile string) (Process, error) {
	cmd := exec.Command("openvpn", "--config", profile, "--auth-user-pass", authFile) //nolint:gosec // profile paths come from operator-configured directories
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start openvpn: %w", err)
	}
	return cmdProcess{cmd: cmd}, nil
}

// Rotator owns the single active tunnel process and the profile pool.
type Rotator struct {
	dirs     []string
	authFile string
	start    StartFunc
	rnd      *rand.Rand

	mu        sync.Mutex
	profiles  []string
	used      map[string]bool
	proc      Process
	current   string
	connected bool
}

// NewRotator builds a Rotator over the profile directories. start defaults to StartOpenVPN.
func NewRotator(dirs []string, authFile string, start StartFunc) *Rotator {
	if start == nil {
		start = StartOpenVPN
	}
	return &Rotator{
		dirs:     dirs,
		authFile: authFile,
		start:    start,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // profile selection is not security sensitive
		used:     map[string]bool{},
	}
}

// SetRand replaces the random source (tests).
func (r *Rotator) SetRand(rnd *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd = rnd
}

// Discover rescans the configured directories recursively for profile files.
func (r *Rotator) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked()
}

func (r *Rotator) discoverLocked() error {
	var found []string
	for _, dir := range r.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ProfileExt) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan tunnel profiles in %s: %w", dir, err)
		}
	}
	sort.Strings(found)
	r.profiles = found
	slog.Debug("tunnel profiles discovered", slog.Int("count", len(found)), slog.String("component", "tunnel"))
	return nil
}

// Profiles returns the current pool.
func (r *Rotator) Profiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.profiles...)
}

// Connected reports whether a tunnel process is active.
func (r *Rotator) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Current returns the profile of the active tunnel, or "".
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Connect starts a tunnel bound to profile. It is a no-op while already connected.
func (r *Rotator) Connect(profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(profile)
}

func (r *Rotator) connectLocked(profile string) error {
	if r.connected {
		return nil
	}
	slog.Info("tunnel connecting", slog.String("profile", profile), slog.String("component", "tunnel"))
	proc, err := r.start(profile, r.authFile)
	if err != nil {
		return err
	}
	r.proc, r.current, r.connected = proc, profile, true
	return nil
}

// Disconnect terminates the active tunnel process. Safe to call when disconnected.
func (r *Rotator) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		r.connected = false
		return nil
	}
	proc := r.proc
	r.proc, r.current, r.connected = nil, "", false
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill tunnel: %w", err)
	}
	// killed processes report a non-nil wait status; only reaping matters here
	_ = proc.Wait()
	slog.Info("tunnel disconnected", slog.String("component", "tunnel"))
	return nil
}

// ConnectRandom picks an unused profile uniformly at random and connects to it.
// When the pool is exhausted the used-set is cleared and the directories rescanned.
func (r *Rotator) ConnectRandom() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.used) >= len(r.profiles) {
		r.used = map[string]bool{}
		if err := r.discoverLocked(); err != nil {
			return "", err
		}
	}
	candidates := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		if !r.used[p] {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoProfiles
	}
	profile := candidates[r.rnd.Intn(len(candidates))]
	if err := r.connectLocked(profile); err != nil {
		return "", err
	}
	r.used[profile] = true
	return profile, nil
}
