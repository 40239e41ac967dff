package share

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
)

const (
	markerCompressed   = 'c'
	markerUncompressed = 'u'

	// maxDecodedSize bounds inflated codes from untrusted URLs
	maxDecodedSize = 4 << 20
)

var ErrInvalidCode = errors.New("invalid share code")

var encoding = base64.RawURLEncoding

// compactComposition abbreviates field names so codes fit in a URL fragment
type compactComposition struct {
	Tempo  float64                  `json:"b"`
	Meter  [2]int                   `json:"ts"`
	Tracks map[string]*compactTrack `json:"t,omitempty"`
	Notes  []compactNote            `json:"n"`
}

type compactTrack struct {
	Family     composition.Family       `json:"f"`
	Variant    string                   `json:"v,omitempty"`
	Volume     float64                  `json:"vo"`
	Pan        float64                  `json:"p,omitempty"`
	Reverb     float64                  `json:"r,omitempty"`
	Synth      *composition.SynthParams `json:"sp,omitempty"`
	Distortion *composition.Distortion  `json:"di,omitempty"`
	Delay      *composition.Delay       `json:"de,omitempty"`
	LFO        *composition.LFO         `json:"lf,omitempty"`
	EQ         *composition.EQ          `json:"eq,omitempty"`
}

// compactNote is stored as [track, pitch, beat, duration, velocity]
type compactNote struct {
	Track    string
	Pitch    string
	Beat     float64
	Duration float64
	Velocity int
}

func (n compactNote) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{n.Track, n.Pitch, n.Beat, n.Duration, n.Velocity})
}

func (n *compactNote) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 5 {
		return fmt.Errorf("note tuple has %d fields, want 5", len(raw))
	}
	for i, dst := range []any{&n.Track, &n.Pitch, &n.Beat, &n.Duration, &n.Velocity} {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return fmt.Errorf("note field %d: %w", i, err)
		}
	}
	return nil
}

func compact(comp *composition.Composition) compactComposition {
	c := compactComposition{
		Tempo:  comp.Tempo,
		Meter:  [2]int{comp.TimeSignature.Numerator, comp.TimeSignature.Denominator},
		Tracks: make(map[string]*compactTrack, len(comp.Tracks)),
		Notes:  make([]compactNote, 0, len(comp.Notes)),
	}
	for name, t := range comp.Tracks {
		c.Tracks[name] = &compactTrack{
			Family:     t.Family,
			Variant:    t.Variant,
			Volume:     t.Volume,
			Pan:        t.Pan,
			Reverb:     t.ReverbSend,
			Synth:      t.Synth,
			Distortion: t.Distortion,
			Delay:      t.Delay,
			LFO:        t.LFO,
			EQ:         t.EQ,
		}
	}
	for _, n := range comp.SortedNotes() {
		c.Notes = append(c.Notes, compactNote{
			Track:    n.Track,
			Pitch:    n.Pitch,
			Beat:     n.Beat,
			Duration: n.Duration,
			Velocity: n.Velocity,
		})
	}
	return c
}

func (c compactComposition) expand() *composition.Composition {
	comp := composition.New()
	comp.Tempo = c.Tempo
	comp.TimeSignature = composition.TimeSignature{Numerator: c.Meter[0], Denominator: c.Meter[1]}

	names := make([]string, 0, len(c.Tracks))
	for name := range c.Tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := c.Tracks[name]
		if t == nil {
			continue
		}
		comp.Tracks[name] = &composition.Track{
			Name:       name,
			Family:     t.Family,
			Variant:    t.Variant,
			Volume:     t.Volume,
			Pan:        t.Pan,
			ReverbSend: t.Reverb,
			Synth:      t.Synth,
			Distortion: t.Distortion,
			Delay:      t.Delay,
			LFO:        t.LFO,
			EQ:         t.EQ,
		}
	}
	for _, n := range c.Notes {
		comp.AddNote(composition.Note{
			Track:    n.Track,
			Pitch:    n.Pitch,
			Beat:     n.Beat,
			Duration: n.Duration,
			Velocity: n.Velocity,
		})
	}
	comp.Normalize()
	return comp
}

// Encode returns the compressed compact code of comp
func Encode(comp *composition.Composition) (string, error) {
	raw, err := marshalCompact(comp)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("failed to compress composition: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to compress composition: %w", err)
	}
	return string(markerCompressed) + encoding.EncodeToString(buf.Bytes()), nil
}

// EncodeUncompressed returns the plain compact code of comp
func EncodeUncompressed(comp *composition.Composition) (string, error) {
	raw, err := marshalCompact(comp)
	if err != nil {
		return "", err
	}
	return string(markerUncompressed) + encoding.EncodeToString(raw), nil
}

func marshalCompact(comp *composition.Composition) ([]byte, error) {
	if comp == nil {
		return nil, fmt.Errorf("%w: nil composition", ErrInvalidCode)
	}
	raw, err := json.Marshal(compact(comp))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal composition: %w", err)
	}
	return raw, nil
}

// Decode accepts compressed, uncompressed and legacy codes. Legacy codes
// carry no marker and hold the full composition JSON; base64 of a JSON
// object always starts with 'e', so they cannot collide with a marker.
func Decode(code string) (*composition.Composition, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	switch code[0] {
	case markerCompressed:
		data, err := decodeBase64(code[1:])
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(io.LimitReader(flate.NewReader(bytes.NewReader(data)), maxDecodedSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		if len(raw) > maxDecodedSize {
			return nil, fmt.Errorf("%w: too large", ErrInvalidCode)
		}
		return unmarshalCompact(raw)
	case markerUncompressed:
		raw, err := decodeBase64(code[1:])
		if err != nil {
			return nil, err
		}
		return unmarshalCompact(raw)
	default:
		raw, err := decodeBase64(code)
		if err != nil {
			return nil, err
		}
		var comp composition.Composition
		if err := json.Unmarshal(raw, &comp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		// legacy notes may predate note ids
		for i := range comp.Notes {
			if comp.Notes[i].ID == 0 {
				renumber(comp.Notes)
				break
			}
		}
		comp.Normalize()
		return &comp, nil
	}
}

func renumber(notes []composition.Note) {
	for i := range notes {
		notes[i].ID = int64(i + 1)
	}
}

func decodeBase64(s string) ([]byte, error) {
	data, err := encoding.DecodeString(s)
	if err != nil {
		// codes copied from older links may still carry padding
		data, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return data, nil
}

func unmarshalCompact(raw []byte) (*composition.Composition, error) {
	var c compactComposition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	return c.expand(), nil
}
