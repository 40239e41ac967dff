package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

const (
	defaultDuration   = 1.0
	maxPatternBars    = 64
	humanizeDefault   = 0.5
	timingJitterBeats = 0.12
	velocityJitter    = 32.0
	humanizeVelMin    = 40
	maxVelocity       = composition.MaxVelocity
)

// noteSpec is a tool-facing note before normalization; Beat is 1-indexed
type noteSpec struct {
	Pitch    string
	Beat     float64
	Duration float64
	Velocity float64
	HasVel   bool
}

func velocityParam() *Param {
	return propInteger("MIDI velocity 1-127, default 80", 1, maxVelocity)
}

func beatParam() *Param {
	return propNumber("Start beat, 1-indexed (1 is the first beat of bar 1)", 1, composition.MaxBeat+1)
}

func durationParam() *Param {
	return propNumber("Length in beats (minimum 0.0625)", composition.MinDuration, composition.MaxDuration).withDefault(defaultDuration)
}

// place normalizes a note and appends it to the composition
func (c *Catalog) place(track string, spec noteSpec) (composition.Note, bool) {
	pitch, valid := composition.NormalizePitch(spec.Pitch)

	beat := spec.Beat - 1
	if math.IsNaN(beat) || beat < 0 {
		beat = 0
	}
	dur := spec.Duration
	if math.IsNaN(dur) || dur < composition.MinDuration {
		dur = composition.MinDuration
	}
	vel := composition.DefaultVelocity
	if spec.HasVel {
		vel = int(math.Round(clamp(spec.Velocity, 1, maxVelocity)))
	}

	n := c.comp.AddNote(composition.Note{
		Track:     track,
		Pitch:     pitch,
		Beat:      beat,
		Duration:  dur,
		Velocity:  vel,
		CreatedAt: c.now(),
	})
	return n, valid
}

func noteSummary(n composition.Note) map[string]any {
	return map[string]any{
		"id":       n.ID,
		"pitch":    n.Pitch,
		"beat":     n.Beat + 1,
		"duration": n.Duration,
		"velocity": n.Velocity,
	}
}

func (c *Catalog) addNote() Definition {
	return Definition{
		Name:        "add_note",
		Description: "Add a single note to a track. Beats are 1-indexed.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":    trackParam(),
				"pitch":    propString("Pitch like C4, F#3, Bb2"),
				"beat":     beatParam(),
				"duration": durationParam(),
				"velocity": velocityParam(),
			},
			Required: []string{"track", "pitch", "beat", "duration"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			spec := noteSpec{Pitch: args.String("pitch", "")}
			spec.Beat, _ = args.Float("beat", 1)
			spec.Duration, _ = args.Float("duration", defaultDuration)
			spec.Velocity, spec.HasVel = args.Float("velocity", composition.DefaultVelocity)

			n, valid := c.place(name, spec)
			res := Result{
				"track":      name,
				"note":       noteSummary(n),
				"totalBeats": c.comp.TotalBeats,
			}
			if !valid {
				res["warning"] = fmt.Sprintf("invalid pitch %q replaced with %s", spec.Pitch, composition.DefaultPitch)
			}
			return res, nil
		},
	}
}

func (c *Catalog) addNotes() Definition {
	noteItem := propObject(map[string]*Param{
		"pitch":    propString("Pitch like C4"),
		"beat":     beatParam(),
		"duration": durationParam(),
		"velocity": velocityParam(),
	}, "pitch", "beat", "duration")

	return Definition{
		Name:        "add_notes",
		Description: "Add several notes to one track in a single call. Beats are 1-indexed.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track": trackParam(),
				"notes": propArray("Notes to add", noteItem),
			},
			Required: []string{"track", "notes"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			items := args.Array("notes")
			if len(items) == 0 {
				return SoftError("notes must contain at least one note"), nil
			}

			invalid := 0
			for _, item := range items {
				m, _ := item.(map[string]any)
				obj := Args(m)
				spec := noteSpec{Pitch: obj.String("pitch", "")}
				spec.Beat, _ = obj.Float("beat", 1)
				spec.Duration, _ = obj.Float("duration", defaultDuration)
				spec.Velocity, spec.HasVel = obj.Float("velocity", composition.DefaultVelocity)
				if _, valid := c.place(name, spec); !valid {
					invalid++
				}
			}

			res := Result{
				"track":      name,
				"added":      len(items),
				"totalBeats": c.comp.TotalBeats,
			}
			if invalid > 0 {
				res["warning"] = fmt.Sprintf("%d invalid pitches replaced with %s", invalid, composition.DefaultPitch)
			}
			return res, nil
		},
	}
}

func (c *Catalog) addChord() Definition {
	return Definition{
		Name:        "add_chord",
		Description: "Add several pitches starting on the same beat. Use get_chord_notes to spell chords.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":    trackParam(),
				"pitches":  propArray("Pitches like [\"C4\", \"E4\", \"G4\"]", propString("Pitch")),
				"beat":     beatParam(),
				"duration": durationParam(),
				"velocity": velocityParam(),
			},
			Required: []string{"track", "pitches", "beat", "duration"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			pitches := args.Strings("pitches")
			if len(pitches) == 0 {
				return SoftError("pitches must contain at least one pitch"), nil
			}

			beat, _ := args.Float("beat", 1)
			dur, _ := args.Float("duration", defaultDuration)
			vel, hasVel := args.Float("velocity", composition.DefaultVelocity)

			placed := make([]string, 0, len(pitches))
			for _, p := range pitches {
				n, _ := c.place(name, noteSpec{Pitch: p, Beat: beat, Duration: dur, Velocity: vel, HasVel: hasVel})
				placed = append(placed, n.Pitch)
			}
			return Result{
				"track":      name,
				"pitches":    placed,
				"beat":       math.Max(beat, 1),
				"totalBeats": c.comp.TotalBeats,
			}, nil
		},
	}
}

func (c *Catalog) addPercussionBar() Definition {
	return Definition{
		Name:        "add_percussion_bar",
		Description: "Write a named drum pattern into one or more bars (1-indexed) of a percussion track.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":   trackParam(),
				"pattern": propEnum("Pattern name", PatternNames()...),
				"bar":     propInteger("First bar, 1-indexed", 1, 10000).withDefault(1.0),
				"bars":    propInteger("Number of bars to fill", 1, maxPatternBars),
			},
			Required: []string{"track", "pattern", "bar"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			pattern, ok := GetPercussionPattern(args.String("pattern", ""))
			if !ok {
				return SoftError(fmt.Sprintf("unknown pattern; available: %v", PatternNames())), nil
			}
			bar, _ := args.Int("bar", 1)
			bars, _ := args.Int("bars", 1)
			bar = max(1, bar)
			bars = max(1, min(maxPatternBars, bars))

			if _, created := c.comp.EnsureTrack(name, composition.GuessFamily(name)); created {
				if t := c.comp.Tracks[name]; !t.Family.IsPercussion() {
					t.Family = composition.FamilyDrums
					d := composition.DefaultsFor(composition.FamilyDrums)
					t.Volume, t.ReverbSend = d.Volume, d.Reverb
				}
			}

			bpb := c.comp.BeatsPerBar()
			hits := pattern.Expand(bar-1, bars, bpb)
			for _, h := range hits {
				c.comp.AddNote(composition.Note{
					Track:     name,
					Pitch:     h.Pitch,
					Beat:      h.Beat,
					Duration:  h.Duration,
					Velocity:  h.Velocity,
					CreatedAt: c.now(),
				})
			}

			return Result{
				"track":      name,
				"pattern":    pattern.Name,
				"bars":       fmt.Sprintf("%d-%d", bar, bar+bars-1),
				"added":      len(hits),
				"totalBeats": c.comp.TotalBeats,
			}, nil
		},
	}
}

func (c *Catalog) humanizeTrack() Definition {
	return Definition{
		Name:        "humanize_track",
		Description: "Randomly nudge timing and velocity of every note on a track. Repeated calls add more variation.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":          trackParam(),
				"timingAmount":   propNumber("Timing variation 0-1 (default 0.5)", 0, 1),
				"velocityAmount": propNumber("Velocity variation 0-1 (default 0.5)", 0, 1),
			},
			Required: []string{"track"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			idx := c.comp.TrackNotes(name)
			if len(idx) == 0 {
				return SoftError(fmt.Sprintf("track %q has no notes to humanize", name)), nil
			}

			timing, _ := args.Float("timingAmount", humanizeDefault)
			velocity, _ := args.Float("velocityAmount", humanizeDefault)
			timing = clamp(timing, 0, 1) * timingJitterBeats
			velocity = clamp(velocity, 0, 1) * velocityJitter

			for _, i := range idx {
				n := &c.comp.Notes[i]
				n.Beat = math.Max(0, n.Beat+(c.rng.Float64()*2-1)*timing)
				v := float64(n.Velocity) + (c.rng.Float64()*2-1)*velocity
				n.Velocity = int(math.Round(clamp(v, humanizeVelMin, maxVelocity)))
			}
			c.comp.RecomputeTotalBeats()

			return Result{
				"track":         name,
				"notesAffected": len(idx),
				"timingRange":   round3(timing),
				"velocityRange": round3(velocity),
			}, nil
		},
	}
}

func (c *Catalog) clearTrack() Definition {
	return Definition{
		Name:        "clear_track",
		Description: "Remove every note on a track. Set removeTrack to delete the track as well.",
		Schema: Schema{
			Properties: map[string]*Param{
				"track":       trackParam(),
				"removeTrack": propBool("Also delete the track and its settings"),
			},
			Required: []string{"track"},
		},
		Execute: func(_ context.Context, args Args) (Result, error) {
			name, soft := requireTrack(args)
			if soft != nil {
				return soft, nil
			}
			if _, ok := c.comp.Tracks[name]; !ok {
				return SoftError(fmt.Sprintf("track %q does not exist", name)), nil
			}
			removed := c.comp.ClearTrack(name)
			deleted := args.Bool("removeTrack", false)
			if deleted {
				c.comp.RemoveTrack(name)
			}
			return Result{
				"track":        name,
				"removed":      removed,
				"trackDeleted": deleted,
				"totalBeats":   c.comp.TotalBeats,
			}, nil
		},
	}
}
