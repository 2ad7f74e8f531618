package snapproxy

import (
	"bytes"
	"math"
	"strconv"
)

// FindValue returns the raw bytes after "key": up to the next ',' or '}'.
// It is enough for the flat settings object snapserver sends and avoids
// decoding the length-prefixed payload.
func FindValue(buf []byte, key string) ([]byte, bool) {
	needle := []byte(`"` + key + `":`)
	pos := bytes.Index(buf, needle)
	if pos < 0 {
		return nil, false
	}
	rest := buf[pos+len(needle):]
	end := bytes.IndexAny(rest, ",}")
	if end < 0 {
		return nil, false
	}
	return bytes.TrimSpace(rest[:end]), true
}

// Settings is what we pick out of a server settings message.
type Settings struct {
	Volume    int
	HasVolume bool
	Muted     bool
}

func ParseSettings(payload []byte) Settings {
	var s Settings
	if v, ok := FindValue(payload, "volume"); ok {
		if n, err := strconv.Atoi(string(v)); err == nil {
			s.Volume, s.HasVolume = n, true
		}
	}
	if m, ok := FindValue(payload, "muted"); ok {
		s.Muted = string(m) == "true"
	}
	return s
}

// VolumeMap compresses the server's 0..100 range into a range that is safe
// for the speakers: (v + Offset) * Scale, rounded.
type VolumeMap struct {
	Offset float64
	Scale  float64
}

var DefaultVolumeMap = VolumeMap{Offset: 34, Scale: 0.6}

func (m VolumeMap) Target(serverVolume int) int {
	return int(math.Round((float64(serverVolume) + m.Offset) * m.Scale))
}
