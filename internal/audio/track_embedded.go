//go:build embed_audio

package audio

import _ "embed"

// Bundled ambient track - populated at build time.
// To build with the track:
//   1. Place ambient.wav in internal/audio/tracks/
//   2. Run: go build -tags embed_audio

//go:embed tracks/ambient.wav
var ambientTrack []byte

// AmbientTrack returns the bundled ambient WAV data
func AmbientTrack() []byte {
	return ambientTrack
}
