package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-classroom/internal/core"
)

// Manager owns the local MediaTrackSet. Nothing else mutates the tracks.
type Manager struct {
	source Source

	mu     sync.RWMutex
	audio  *Track
	video  *Track
	screen *Track
}

func NewManager(source Source) *Manager {
	return &Manager{source: source}
}

// Open asks the source for camera and microphone without installing them.
// The caller owns the returned tracks until Install succeeds.
func (m *Manager) Open(ctx context.Context) (*Track, *Track, error) {
	audio, video, err := m.source.UserMedia(ctx)
	if err != nil {
		log.Warn().Err(err).Str("service", "media").Msg("acquire user media")
		return nil, nil, err
	}
	return audio, video, nil
}

// Install makes audio and video the held tracks. When tracks are already
// held the new ones are stopped and ErrTracksHeld is returned.
func (m *Manager) Install(audio, video *Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio != nil || m.video != nil {
		audio.Stop()
		video.Stop()
		return ErrTracksHeld
	}

	m.audio = audio
	m.video = video

	log.Debug().Str("service", "media").Msg("user media acquired")

	return nil
}

// Release stops every held track; safe to call repeatedly
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range []*Track{m.audio, m.video, m.screen} {
		if t != nil {
			t.Stop()
		}
	}
	m.audio, m.video, m.screen = nil, nil, nil
}

func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.audio != nil || m.video != nil
}

// Toggle flips the enabled flag of the audio or video track and returns the new flag
func (m *Manager) Toggle(kind core.TrackKind) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var t *Track
	switch kind {
	case core.AudioTrack:
		t = m.audio
	case core.VideoTrack:
		t = m.video
	default:
		return false, ErrUnknownKind
	}
	if t == nil {
		return false, ErrNoTrackSet
	}

	return t.Toggle(), nil
}

// Disable forces a track off, used when the host mutes us
func (m *Manager) Disable(kind core.TrackKind) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch kind {
	case core.AudioTrack:
		if m.audio != nil {
			m.audio.SetEnabled(false)
		}
	case core.VideoTrack:
		if m.video != nil {
			m.video.SetEnabled(false)
		}
	}
}

// OpenScreen asks the source for a screen capture without installing it
func (m *Manager) OpenScreen(ctx context.Context) (*Track, error) {
	return m.source.DisplayMedia(ctx)
}

// SetScreen installs a screen capture as the outbound video
func (m *Manager) SetScreen(t *Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio == nil && m.video == nil {
		return ErrNoTrackSet
	}
	if m.screen != nil && m.screen != t {
		m.screen.Stop()
	}
	m.screen = t

	return nil
}

// ClearScreen stops the screen capture and returns the camera track that replaces it
func (m *Manager) ClearScreen() *Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screen != nil {
		m.screen.Stop()
		m.screen = nil
	}

	return m.video
}

func (m *Manager) Screen() *Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.screen
}

func (m *Manager) Audio() *Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.audio
}

// OutboundVideo is the screen capture while sharing, the camera otherwise
func (m *Manager) OutboundVideo() *Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.screen != nil {
		return m.screen
	}
	return m.video
}

// Tracks is the attach point for rendering the local MediaTrackSet
func (m *Manager) Tracks() []*Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracks := make([]*Track, 0, 3)
	for _, t := range []*Track{m.audio, m.video, m.screen} {
		if t != nil {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

func (m *Manager) State() core.MediaState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return core.MediaState{
		Audio:  m.audio != nil && m.audio.Enabled(),
		Video:  m.video != nil && m.video.Enabled(),
		Screen: m.screen != nil,
	}
}
