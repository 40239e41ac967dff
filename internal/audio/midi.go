package audio

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	midiTicksPerQuarter = 960
	drumChannel         = 9
)

// General MIDI programs for the melodic families
var gmPrograms = map[composition.Family]uint8{
	composition.FamilyPiano:         0,
	composition.FamilyElectricPiano: 4,
	composition.FamilyOrgan:         16,
	composition.FamilyGuitar:        25,
	composition.FamilyBass:          33,
	composition.FamilyStrings:       48,
	composition.FamilyChoir:         52,
	composition.FamilyBrass:         61,
	composition.FamilyFlute:         73,
	composition.FamilyLead:          81,
	composition.FamilyPad:           89,
	composition.FamilySynthBass:     38,
	composition.FamilyPluck:         46,
	composition.FamilyBells:         9,
}

type midiEvent struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// ExportMIDI writes a format 1 Standard MIDI File: a conductor track with
// tempo and meter, then one track per composition track. Percussion
// families play on the GM drum channel.
func ExportMIDI(w io.Writer, comp *composition.Composition) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(midiTicksPerQuarter)

	var conductor smf.Track
	conductor.Add(0, smf.MetaTempo(comp.Tempo))
	conductor.Add(0, smf.MetaMeter(uint8(comp.BeatsPerBar()), uint8(comp.TimeSignature.Denominator)))
	conductor.Close(0)
	if err := s.Add(conductor); err != nil {
		return fmt.Errorf("failed to add conductor track: %w", err)
	}

	melodic := uint8(0)
	for _, name := range comp.TrackNames() {
		t := comp.Tracks[name]
		ch := drumChannel
		if !t.Family.IsPercussion() {
			ch = int(melodic)
			melodic++
			if melodic == drumChannel {
				melodic++
			}
			if melodic > 15 {
				melodic = 0
			}
		}

		var events []midiEvent
		for _, idx := range comp.TrackNotes(name) {
			n := comp.Notes[idx]
			key, err := composition.PitchToMIDI(n.Pitch)
			if err != nil || key < 0 || key > 127 {
				continue
			}
			vel := uint8(max(1, min(127, n.Velocity)))
			start := beatsToTicks(n.Beat)
			end := max(start+1, beatsToTicks(n.End()))
			events = append(events,
				midiEvent{tick: start, msg: midi.NoteOn(uint8(ch), uint8(key), vel)},
				midiEvent{tick: end, off: true, msg: midi.NoteOff(uint8(ch), uint8(key))},
			)
		}
		// note-offs first on the same tick so repeated pitches retrigger
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].tick != events[j].tick {
				return events[i].tick < events[j].tick
			}
			return events[i].off && !events[j].off
		})

		var tr smf.Track
		tr.Add(0, smf.MetaTrackSequenceName(name))
		if ch != drumChannel {
			tr.Add(0, midi.ProgramChange(uint8(ch), gmPrograms[t.Family]))
		}
		var last uint32
		for _, ev := range events {
			tr.Add(ev.tick-last, ev.msg)
			last = ev.tick
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("failed to add track %s: %w", name, err)
		}
	}

	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write midi: %w", err)
	}
	return nil
}

func beatsToTicks(beats float64) uint32 {
	return uint32(math.Round(math.Max(0, beats) * midiTicksPerQuarter))
}
