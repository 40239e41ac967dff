package tools

import (
	"context"
	"fmt"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

// Thresholds verify_composition gates completion on. The agent prompt
// depends on these exact values.
const (
	MinNotesPerTrack   = 4
	MinBars            = 8
	RecommendedBars    = 16
	MinTotalNotes      = 20
	MinInKeyPercentage = 80.0
)

var readOnly = Annotations{ReadOnly: true}

func (c *Catalog) getScaleNotes() Definition {
	return Definition{
		Name:        "get_scale_notes",
		Description: "List the notes of a scale. Does not change the composition.",
		Annotations: readOnly,
		Schema: Schema{
			Properties: map[string]*Param{
				"root":  propString("Root note, e.g. C, F#, Bb"),
				"scale": propEnum("Scale name", composition.ScaleNames()...),
			},
			Required: []string{"root", "scale"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			root := args.String("root", "C")
			notes, name, err := composition.ScaleNotes(root, args.String("scale", "major"))
			if err != nil {
				return SoftError(err.Error()), nil
			}
			return Result{"root": root, "scale": name, "notes": notes}, nil
		},
	}
}

func (c *Catalog) getChordNotes() Definition {
	return Definition{
		Name:        "get_chord_notes",
		Description: "Spell a chord as pitches with octaves. Does not change the composition.",
		Annotations: readOnly,
		Schema: Schema{
			Properties: map[string]*Param{
				"root":      propString("Root note, e.g. C, F#, Bb"),
				"chordType": propEnum("Chord quality", composition.ChordTypes()...),
				"octave":    propInteger("Octave of the root (default 4)", 0, 8).withDefault(4.0),
			},
			Required: []string{"root", "chordType"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			root := args.String("root", "C")
			octave, _ := args.Int("octave", 4)
			notes, name, err := composition.ChordNotes(root, args.String("chordType", "major"), octave)
			if err != nil {
				return SoftError(err.Error()), nil
			}
			return Result{"root": root, "chordType": name, "octave": octave, "notes": notes}, nil
		},
	}
}

func (c *Catalog) listInstruments() Definition {
	return Definition{
		Name:        "list_instruments",
		Description: "List instrument families and their variants.",
		Annotations: readOnly,
		Schema:      Schema{Properties: map[string]*Param{}},
		Execute: func(_ context.Context, _ Args) (Result, error) {
			families := make([]map[string]any, 0)
			for _, f := range composition.Families() {
				families = append(families, map[string]any{
					"family":     string(f),
					"percussion": f.IsPercussion(),
					"variants":   composition.DefaultsFor(f).Variants,
				})
			}
			return Result{"families": families, "patterns": PatternNames()}, nil
		},
	}
}

func (c *Catalog) getCompositionState() Definition {
	return Definition{
		Name:        "get_composition_state",
		Description: "Summarize tempo, meter, tracks and note counts.",
		Annotations: readOnly,
		Schema:      Schema{Properties: map[string]*Param{}},
		Execute: func(_ context.Context, _ Args) (Result, error) {
			return StateSummary(c.comp), nil
		},
	}
}

// StateSummary projects a composition into the get_composition_state result
func StateSummary(comp *composition.Composition) Result {
	counts := make(map[string]int)
	for _, n := range comp.Notes {
		counts[n.Track]++
	}

	tracks := make([]map[string]any, 0, len(comp.Tracks))
	for _, name := range comp.TrackNames() {
		t := comp.Tracks[name]
		var effects []string
		if t.Delay != nil {
			effects = append(effects, "delay")
		}
		if t.Distortion != nil {
			effects = append(effects, "distortion")
		}
		if t.LFO != nil {
			effects = append(effects, t.LFO.Type)
		}
		if t.EQ != nil {
			effects = append(effects, "eq")
		}
		if t.Synth != nil {
			effects = append(effects, "custom_synth")
		}
		tracks = append(tracks, map[string]any{
			"name":       name,
			"family":     string(t.Family),
			"variant":    t.Variant,
			"noteCount":  counts[name],
			"volume":     t.Volume,
			"pan":        t.Pan,
			"reverbSend": t.ReverbSend,
			"effects":    effects,
		})
	}

	return Result{
		"bpm":           comp.Tempo,
		"timeSignature": fmt.Sprintf("%d/%d", comp.TimeSignature.Numerator, comp.TimeSignature.Denominator),
		"trackCount":    len(comp.Tracks),
		"tracks":        tracks,
		"noteCount":     len(comp.Notes),
		"totalBeats":    comp.TotalBeats,
		"totalBars":     comp.TotalBars(),
	}
}

func (c *Catalog) verifyComposition() Definition {
	return Definition{
		Name:        "verify_composition",
		Description: "Check whether the composition is finished. ready is true only when no issues remain.",
		Annotations: readOnly,
		Schema:      Schema{Properties: map[string]*Param{}},
		Execute: func(_ context.Context, _ Args) (Result, error) {
			return Verify(c.comp), nil
		},
	}
}

// Verify audits a composition for completeness and key consistency
func Verify(comp *composition.Composition) Result {
	issues := []string{}
	suggestions := []string{}

	counts := make(map[string]int)
	var melodic []int
	for _, n := range comp.Notes {
		counts[n.Track]++
		t, ok := comp.Tracks[n.Track]
		if ok && t.Family.IsPercussion() {
			continue
		}
		if pc, err := composition.PitchClass(n.Pitch); err == nil {
			melodic = append(melodic, pc)
		}
	}

	if len(comp.Tracks) == 0 {
		issues = append(issues, "Composition has no tracks. Create tracks with set_instrument and add notes.")
	}
	for _, name := range comp.TrackNames() {
		switch n := counts[name]; {
		case n == 0:
			issues = append(issues, fmt.Sprintf("Track '%s' is empty. Add notes or clear it.", name))
		case n < MinNotesPerTrack:
			issues = append(issues, fmt.Sprintf("Track '%s' is too sparse (%d notes, need at least %d).", name, n, MinNotesPerTrack))
		}
	}

	bars := comp.TotalBars()
	if bars < MinBars {
		issues = append(issues, fmt.Sprintf("Composition is too short (%d bars, need at least %d).", bars, MinBars))
	} else if bars < RecommendedBars {
		suggestions = append(suggestions, fmt.Sprintf("Consider extending to %d bars or more (currently %d).", RecommendedBars, bars))
	}

	if len(comp.Notes) < MinTotalNotes {
		issues = append(issues, fmt.Sprintf("Too few notes overall (%d, need at least %d).", len(comp.Notes), MinTotalNotes))
	}

	result := Result{
		"stats": map[string]any{
			"tracks":     len(comp.Tracks),
			"notes":      len(comp.Notes),
			"bars":       bars,
			"totalBeats": comp.TotalBeats,
		},
	}

	if len(melodic) > 0 {
		key := composition.DetectKey(melodic)
		result["key"] = key
		if key.MatchPct < MinInKeyPercentage {
			issues = append(issues, fmt.Sprintf("Only %.0f%% of melodic notes fit %s %s (need %.0f%%). Fix out-of-key notes.",
				key.MatchPct, key.Root, key.Scale, MinInKeyPercentage))
		}
	}

	result["issues"] = issues
	result["suggestions"] = suggestions
	result["ready"] = len(issues) == 0
	return result
}
