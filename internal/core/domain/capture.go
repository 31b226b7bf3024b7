package domain

type VideoConstraints struct {
	Enabled   bool
	Width     int // 0 leaves the dimension to the device
	Height    int
	FrameRate float64
}

type AudioConstraints struct {
	Enabled          bool
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureConstraints describes a camera+microphone request.
type CaptureConstraints struct {
	Audio AudioConstraints
	Video VideoConstraints
}

// PreferredProfile is the first request made when a call needs local media.
func PreferredProfile() CaptureConstraints {
	return CaptureConstraints{
		Audio: AudioConstraints{
			Enabled:          true,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Video: VideoConstraints{
			Enabled:   true,
			Width:     1280,
			Height:    720,
			FrameRate: 30,
		},
	}
}

// MinimalProfile asks for audio and video with no further hints.
func MinimalProfile() CaptureConstraints {
	return CaptureConstraints{
		Audio: AudioConstraints{Enabled: true},
		Video: VideoConstraints{Enabled: true},
	}
}

func (c CaptureConstraints) IsMinimal() bool {
	return c == MinimalProfile()
}
