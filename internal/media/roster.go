package media

import (
	"sync"
	"time"
)

type trackRecord struct {
	PersistentHandle string
	TransientHandle  string
}

type ParticipantRecord struct {
	ParticipantID string
	Online        bool
	LastSeen      time.Time
	Tracks        map[string]trackRecord
}

// Roster tracks room participants and their best-known track handles. A
// stable persistent handle is preferred over the transient per-event handle,
// since the transient handle can be invalidated by renegotiation.
type Roster struct {
	mu   sync.RWMutex
	data map[string]*ParticipantRecord
	ttl  time.Duration
}

func NewRoster(ttl time.Duration) *Roster {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Roster{
		data: make(map[string]*ParticipantRecord),
		ttl:  ttl,
	}
}

func (r *Roster) SetOnline(participantID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreateLocked(participantID)
	rec.Online = online
	rec.LastSeen = time.Now()
}

func (r *Roster) ObserveTrack(participantID, kind, handle string, persistent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreateLocked(participantID)
	rec.Online = true
	rec.LastSeen = time.Now()

	track := rec.Tracks[kind]
	if persistent {
		track.PersistentHandle = handle
	} else {
		track.TransientHandle = handle
	}
	rec.Tracks[kind] = track
}

// BestHandle returns the preferred playable handle for a track kind.
func (r *Roster) BestHandle(participantID, kind string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[participantID]
	if !ok || r.isExpired(rec) {
		return ""
	}
	track, ok := rec.Tracks[kind]
	if !ok {
		return ""
	}
	if track.PersistentHandle != "" {
		return track.PersistentHandle
	}
	return track.TransientHandle
}

func (r *Roster) IsOnline(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[participantID]
	return ok && rec.Online && !r.isExpired(rec)
}

func (r *Roster) Remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, participantID)
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]*ParticipantRecord)
}

func (r *Roster) getOrCreateLocked(participantID string) *ParticipantRecord {
	rec, ok := r.data[participantID]
	if !ok {
		rec = &ParticipantRecord{
			ParticipantID: participantID,
			Tracks:        make(map[string]trackRecord),
		}
		r.data[participantID] = rec
	}
	return rec
}

func (r *Roster) isExpired(rec *ParticipantRecord) bool {
	if r.ttl <= 0 {
		return false
	}
	return time.Since(rec.LastSeen) > r.ttl
}
