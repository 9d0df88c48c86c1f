package playlist

import (
	"errors"
	"strconv"
	"sync"

	"github.com/golang/glog"
)

var ErrVideoManifest = errors.New("ErrVideoManifest")
var ErrNotFound = errors.New("NotFound")

// VariantParams describes one rendition listed in a master manifest.
type VariantParams struct {
	URI        string
	Bandwidth  int64
	Resolution string
	Codecs     string
}

// Manifest is a master playlist keyed by stream ID.
type Manifest struct {
	id      string
	lock    sync.Mutex
	ids     []string
	streams map[string]VariantParams
}

func NewManifest(id string) *Manifest {
	return &Manifest{id: id, streams: make(map[string]VariantParams)}
}

func (m *Manifest) GetManifestID() string { return m.id }

// AddVideoStream lists a rendition under strmID. IDs must be unique, and so
// must the bandwidth and resolution pair.
func (m *Manifest) AddVideoStream(strmID string, v VariantParams) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.streams[strmID]; ok {
		return ErrVideoManifest
	}
	if v.Bandwidth <= 0 || v.URI == "" {
		glog.Errorf("Variant %v needs a URI and a bandwidth, got %q and %v", strmID, v.URI, v.Bandwidth)
		return ErrVideoManifest
	}

	//Check if the same Bandwidth & Resolution already exists
	for _, s := range m.streams {
		if s.Bandwidth == v.Bandwidth && s.Resolution == v.Resolution {
			glog.Errorf("Variant with Bandwidth %v and Resolution %v already exists", v.Bandwidth, v.Resolution)
			return ErrVideoManifest
		}
	}

	m.streams[strmID] = v
	m.ids = append(m.ids, strmID)
	return nil
}

func (m *Manifest) GetVideoStream(strmID string) (VariantParams, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	v, ok := m.streams[strmID]
	if !ok {
		return VariantParams{}, ErrNotFound
	}
	return v, nil
}

func (m *Manifest) DeleteVideoStream(strmID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.streams[strmID]; !ok {
		return ErrNotFound
	}
	delete(m.streams, strmID)
	for i, id := range m.ids {
		if id == strmID {
			m.ids = append(m.ids[:i], m.ids[i+1:]...)
			break
		}
	}
	return nil
}

// GetManifest renders the master playlist with the renditions in the order
// they were added.
func (m *Manifest) GetManifest() *Playlist {
	m.lock.Lock()
	defer m.lock.Unlock()

	pl := New()
	for _, id := range m.ids {
		v := m.streams[id]
		inf := AttrList{
			{Key: "PROGRAM-ID", Value: "1"},
			{Key: "BANDWIDTH", Value: strconv.FormatInt(v.Bandwidth, 10)},
		}
		if v.Resolution != "" {
			inf.Set("RESOLUTION", v.Resolution, false)
		}
		if v.Codecs != "" {
			inf.Set("CODECS", v.Codecs, true)
		}
		pl.PushVariant(&Variant{URI: v.URI, StreamInf: inf})
	}
	return pl
}
