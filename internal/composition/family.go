package composition

import "strings"

// Family is the closed set of instrument families a track can use
type Family string

const (
	FamilyPiano         Family = "piano"
	FamilyElectricPiano Family = "electric_piano"
	FamilyOrgan         Family = "organ"
	FamilyStrings       Family = "strings"
	FamilyPad           Family = "pad"
	FamilyLead          Family = "lead"
	FamilyBass          Family = "bass"
	FamilySynthBass     Family = "synth_bass"
	FamilyGuitar        Family = "guitar"
	FamilyPluck         Family = "pluck"
	FamilyBrass         Family = "brass"
	FamilyFlute         Family = "flute"
	FamilyBells         Family = "bells"
	FamilyChoir         Family = "choir"
	FamilyDrums         Family = "drums"
	FamilyKick          Family = "kick"
	FamilySnare         Family = "snare"
	FamilyHihat         Family = "hihat"
	FamilyPercussion    Family = "percussion"

	DefaultFamily = FamilyPiano
)

// FamilyDefaults holds the mix settings a new track starts with
type FamilyDefaults struct {
	Volume    float64
	Reverb    float64
	Sustained bool
	Variants  []string
}

var familyTable = map[Family]FamilyDefaults{
	FamilyPiano:         {Volume: 0.7, Reverb: 0.25, Variants: []string{"acoustic_grand_piano", "bright_acoustic_piano", "honkytonk_piano"}},
	FamilyElectricPiano: {Volume: 0.65, Reverb: 0.2, Variants: []string{"electric_piano_1", "electric_piano_2"}},
	FamilyOrgan:         {Volume: 0.55, Reverb: 0.2, Sustained: true, Variants: []string{"drawbar_organ", "rock_organ", "church_organ"}},
	FamilyStrings:       {Volume: 0.6, Reverb: 0.4, Sustained: true, Variants: []string{"string_ensemble_1", "violin", "cello", "pizzicato_strings"}},
	FamilyPad:           {Volume: 0.5, Reverb: 0.5, Sustained: true, Variants: []string{"pad_2_warm", "pad_1_new_age", "pad_3_polysynth"}},
	FamilyLead:          {Volume: 0.55, Reverb: 0.2, Variants: []string{"lead_1_square", "lead_2_sawtooth"}},
	FamilyBass:          {Volume: 0.75, Reverb: 0.05, Variants: []string{"electric_bass_finger", "acoustic_bass", "fretless_bass"}},
	FamilySynthBass:     {Volume: 0.7, Reverb: 0.05, Variants: []string{"synth_bass_1", "synth_bass_2"}},
	FamilyGuitar:        {Volume: 0.6, Reverb: 0.2, Variants: []string{"acoustic_guitar_nylon", "acoustic_guitar_steel", "electric_guitar_clean", "overdriven_guitar"}},
	FamilyPluck:         {Volume: 0.6, Reverb: 0.3, Variants: []string{"harp", "kalimba", "marimba"}},
	FamilyBrass:         {Volume: 0.55, Reverb: 0.25, Sustained: true, Variants: []string{"brass_section", "trumpet", "french_horn"}},
	FamilyFlute:         {Volume: 0.55, Reverb: 0.3, Sustained: true, Variants: []string{"flute", "pan_flute"}},
	FamilyBells:         {Volume: 0.45, Reverb: 0.45, Variants: []string{"glockenspiel", "music_box", "tubular_bells"}},
	FamilyChoir:         {Volume: 0.5, Reverb: 0.5, Sustained: true, Variants: []string{"choir_aahs", "voice_oohs"}},
	FamilyDrums:         {Volume: 0.8, Reverb: 0.1, Variants: []string{"standard_kit", "electronic_kit"}},
	FamilyKick:          {Volume: 0.85, Reverb: 0.05},
	FamilySnare:         {Volume: 0.7, Reverb: 0.15},
	FamilyHihat:         {Volume: 0.5, Reverb: 0.1},
	FamilyPercussion:    {Volume: 0.6, Reverb: 0.15},
}

var percussionFamilies = map[Family]bool{
	FamilyDrums:      true,
	FamilyKick:       true,
	FamilySnare:      true,
	FamilyHihat:      true,
	FamilyPercussion: true,
}

var familyAliases = map[string]Family{
	"keys":         FamilyElectricPiano,
	"rhodes":       FamilyElectricPiano,
	"epiano":       FamilyElectricPiano,
	"synth":        FamilyLead,
	"synth_lead":   FamilyLead,
	"string":       FamilyStrings,
	"violin":       FamilyStrings,
	"cello":        FamilyStrings,
	"synth_pad":    FamilyPad,
	"bassline":     FamilySynthBass,
	"sub_bass":     FamilySynthBass,
	"drum":         FamilyDrums,
	"drum_kit":     FamilyDrums,
	"hat":          FamilyHihat,
	"hihats":       FamilyHihat,
	"hi_hat":       FamilyHihat,
	"bell":         FamilyBells,
	"glockenspiel": FamilyBells,
	"horn":         FamilyBrass,
	"trumpet":      FamilyBrass,
	"voice":        FamilyChoir,
	"vocals":       FamilyChoir,
	"harp":         FamilyPluck,
	"marimba":      FamilyPluck,
}

// Families lists every family, melodic first
func Families() []Family {
	return []Family{
		FamilyPiano, FamilyElectricPiano, FamilyOrgan, FamilyStrings, FamilyPad,
		FamilyLead, FamilyBass, FamilySynthBass, FamilyGuitar, FamilyPluck,
		FamilyBrass, FamilyFlute, FamilyBells, FamilyChoir,
		FamilyDrums, FamilyKick, FamilySnare, FamilyHihat, FamilyPercussion,
	}
}

// Valid reports whether f is a known family
func (f Family) Valid() bool {
	_, ok := familyTable[f]
	return ok
}

// IsPercussion reports whether the family is unpitched
func (f Family) IsPercussion() bool {
	return percussionFamilies[f]
}

// IsSustained reports whether samples for the family get a longer release tail
func (f Family) IsSustained() bool {
	return familyTable[f].Sustained
}

// DefaultsFor returns the family's defaults, or the default family's when unknown
func DefaultsFor(f Family) FamilyDefaults {
	if d, ok := familyTable[f]; ok {
		return d
	}
	return familyTable[DefaultFamily]
}

// ParseFamily resolves a user-supplied family name. ok is false when the
// name is unknown and the default family was returned instead.
func ParseFamily(name string) (Family, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if f := Family(key); f.Valid() {
		return f, true
	}
	if f, ok := familyAliases[key]; ok {
		return f, true
	}
	return DefaultFamily, false
}

// GuessFamily infers a family from a track name such as "kick" or "lead_synth"
func GuessFamily(trackName string) Family {
	name := strings.ToLower(trackName)
	if f, ok := ParseFamily(name); ok {
		return f
	}
	checks := []struct {
		needle string
		family Family
	}{
		{"kick", FamilyKick},
		{"snare", FamilySnare},
		{"hat", FamilyHihat},
		{"drum", FamilyDrums},
		{"perc", FamilyPercussion},
		{"sub", FamilySynthBass},
		{"bass", FamilyBass},
		{"pad", FamilyPad},
		{"string", FamilyStrings},
		{"lead", FamilyLead},
		{"organ", FamilyOrgan},
		{"guitar", FamilyGuitar},
		{"bell", FamilyBells},
		{"choir", FamilyChoir},
		{"flute", FamilyFlute},
		{"brass", FamilyBrass},
		{"pluck", FamilyPluck},
		{"key", FamilyElectricPiano},
	}
	for _, c := range checks {
		if strings.Contains(name, c.needle) {
			return c.family
		}
	}
	return DefaultFamily
}
