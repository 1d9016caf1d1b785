//go:build !embed_audio

package audio

// Stub for builds without a bundled ambient track. The sink treats an empty
// track as a no-op.

// AmbientTrack returns the bundled ambient WAV data, if any
func AmbientTrack() []byte {
	return nil
}
