//go:build !darwin && !linux

package audio

// OpusDecoder is unavailable without dynamic library loading.
func OpusDecoder(Config) (Decoder, error) {
	return nil, ErrOpusUnavailable
}
