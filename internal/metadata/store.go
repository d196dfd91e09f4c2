// SPDX-License-Identifier: MIT
/*
Package metadata holds the "now playing" state shown by renderers.

Collaborators (pipe sources, websocket clients, MQTT subscribers) push
updates through Store setters from any goroutine. The scheduler takes a
Snapshot once per frame and advances the elapsed time by one frame period.
*/
package metadata

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NowPlaying is an immutable copy of the current track state.
type NowPlaying struct {
	Title   string        `json:"title,omitempty" msgpack:"title,omitempty"`
	Artist  string        `json:"artist,omitempty" msgpack:"artist,omitempty"`
	Album   string        `json:"album,omitempty" msgpack:"album,omitempty"`
	File    string        `json:"file,omitempty" msgpack:"file,omitempty"`
	Message string        `json:"message,omitempty" msgpack:"message,omitempty"`
	Elapsed time.Duration `json:"elapsed" msgpack:"elapsed"`
	Total   time.Duration `json:"total" msgpack:"total"`
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	np NowPlaying
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() NowPlaying {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.np
}

// Set replaces the whole state, typically when a new track starts.
func (s *Store) Set(np NowPlaying) {
	s.mu.Lock()
	s.np = np
	s.mu.Unlock()
}

func (s *Store) SetTitle(v string)   { s.update(func(np *NowPlaying) { np.Title = v }) }
func (s *Store) SetArtist(v string)  { s.update(func(np *NowPlaying) { np.Artist = v }) }
func (s *Store) SetAlbum(v string)   { s.update(func(np *NowPlaying) { np.Album = v }) }
func (s *Store) SetFile(v string)    { s.update(func(np *NowPlaying) { np.File = v }) }
func (s *Store) SetMessage(v string) { s.update(func(np *NowPlaying) { np.Message = v }) }

// SetElapsed resynchronizes the play position, e.g. after a seek.
func (s *Store) SetElapsed(d time.Duration) { s.update(func(np *NowPlaying) { np.Elapsed = d }) }

func (s *Store) SetTotal(d time.Duration) { s.update(func(np *NowPlaying) { np.Total = d }) }

// Advance moves the play position forward by d and returns the new value.
func (s *Store) Advance(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.np.Elapsed += d
	return s.np.Elapsed
}

func (s *Store) update(fn func(np *NowPlaying)) {
	s.mu.Lock()
	fn(&s.np)
	s.mu.Unlock()
}

// Update applies a single "key=value" style field. Durations accept plain
// seconds ("93.5") or Go duration syntax ("1m33s").
func (s *Store) Update(key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "title":
		s.SetTitle(value)
	case "artist":
		s.SetArtist(value)
	case "album":
		s.SetAlbum(value)
	case "file":
		s.SetFile(value)
	case "message":
		s.SetMessage(value)
	case "elapsed":
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		s.SetElapsed(d)
	case "total", "duration":
		d, err := ParseDuration(value)
		if err != nil {
			return err
		}
		s.SetTotal(d)
	default:
		return fmt.Errorf("metadata: unknown field %q", key)
	}
	return nil
}

// ParseDuration parses seconds or Go duration syntax.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("metadata: negative duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("metadata: bad duration %q: %w", v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("metadata: negative duration %q", v)
	}
	return d, nil
}
