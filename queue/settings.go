package queue

// Speech engine limits. Values outside these ranges are clamped on merge, the
// same treatment browser speech engines give them.
const (
	MinRate   = 0.1
	MaxRate   = 10.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

// Settings holds the playback and preprocessing preferences that travel with
// the queue.
type Settings struct {
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
	Voice  string  `json:"voice,omitempty"`

	SummaryEnabled     bool   `json:"summaryEnabled"`
	TranslationEnabled bool   `json:"translationEnabled"`
	TargetLanguage     string `json:"targetLanguage,omitempty"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		Rate:           1.0,
		Pitch:          1.0,
		Volume:         1.0,
		TargetLanguage: "en",
	}
}

// SettingsPatch is a partial settings update; nil fields are untouched.
type SettingsPatch struct {
	Rate               *float64 `json:"rate,omitempty"`
	Pitch              *float64 `json:"pitch,omitempty"`
	Volume             *float64 `json:"volume,omitempty"`
	Voice              *string  `json:"voice,omitempty"`
	SummaryEnabled     *bool    `json:"summaryEnabled,omitempty"`
	TranslationEnabled *bool    `json:"translationEnabled,omitempty"`
	TargetLanguage     *string  `json:"targetLanguage,omitempty"`
}

// merged applies the patch on top of s and clamps the result to engine limits.
func (s Settings) merged(patch SettingsPatch) Settings {
	out := s
	if patch.Rate != nil {
		out.Rate = *patch.Rate
	}
	if patch.Pitch != nil {
		out.Pitch = *patch.Pitch
	}
	if patch.Volume != nil {
		out.Volume = *patch.Volume
	}
	if patch.Voice != nil {
		out.Voice = *patch.Voice
	}
	if patch.SummaryEnabled != nil {
		out.SummaryEnabled = *patch.SummaryEnabled
	}
	if patch.TranslationEnabled != nil {
		out.TranslationEnabled = *patch.TranslationEnabled
	}
	if patch.TargetLanguage != nil {
		out.TargetLanguage = *patch.TargetLanguage
	}
	out.clamp()
	return out
}

func (s *Settings) clamp() {
	s.Rate = clampFloat(s.Rate, MinRate, MaxRate)
	s.Pitch = clampFloat(s.Pitch, MinPitch, MaxPitch)
	s.Volume = clampFloat(s.Volume, MinVolume, MaxVolume)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
