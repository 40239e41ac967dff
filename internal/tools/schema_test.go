package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSchema() Schema {
	return Schema{
		Properties: map[string]*Param{
			"track":    propString("track"),
			"mode":     propEnum("mode", "soft", "hard"),
			"amount":   propNumber("amount", 0, 1),
			"count":    propInteger("count", 0, 10),
			"enabled":  propBool("enabled"),
			"pitches":  propArray("pitches", propString("pitch")),
			"settings": propObject(map[string]*Param{"q": propNumber("q", 0, 10)}),
			"bars":     propInteger("bars", 1, 4).withDefault(1.0),
		},
		Required: []string{"track", "mode", "count"},
	}
}

func TestCoerceIsIdempotentOnValidArgs(t *testing.T) {
	s := testSchema()
	valid := map[string]any{
		"track":    "bass",
		"mode":     "hard",
		"amount":   0.5,
		"count":    3.0,
		"enabled":  true,
		"pitches":  []any{"C4", "E4"},
		"settings": map[string]any{"q": 2.0},
		"bars":     2.0,
	}

	once := s.Coerce(valid)
	assert.Equal(t, Args(valid), once)

	twice := s.Coerce(once)
	assert.Equal(t, once, twice)
}

func TestCoerceFillsAndDrops(t *testing.T) {
	s := testSchema()
	args := s.Coerce(map[string]any{
		"mode":    "medium",
		"count":   "7.6",
		"amount":  "loud",
		"unknown": 42,
		"pitches": "not an array",
	})

	assert.Equal(t, "", args["track"], "missing required string gets type default")
	assert.Equal(t, "soft", args["mode"], "invalid enum snaps to first value")
	assert.Equal(t, 8.0, args["count"], "integers are rounded")
	assert.NotContains(t, args, "amount", "malformed optional scalar is dropped")
	assert.NotContains(t, args, "unknown")
	assert.Equal(t, []any{}, args["pitches"], "malformed array becomes empty")
	assert.Equal(t, 1.0, args["bars"], "declared default fills missing field")
	assert.NotContains(t, args, "enabled")

	assert.Equal(t, args, s.Coerce(args))
}

func TestCoerceEnumVariants(t *testing.T) {
	s := testSchema()
	args := s.Coerce(map[string]any{"mode": "HARD", "track": "x", "count": 1})
	assert.Equal(t, "hard", args["mode"])
	assert.Equal(t, 1.0, args["count"])
}

func TestCoerceNestedObjects(t *testing.T) {
	s := Schema{
		Properties: map[string]*Param{
			"notes": propArray("notes", propObject(map[string]*Param{
				"pitch": propString("pitch"),
				"beat":  propNumber("beat", 1, 100),
			}, "pitch", "beat")),
		},
	}

	args := s.Coerce(map[string]any{
		"notes": `[{"pitch":"C4","beat":1,"extra":true},{"beat":"2"}]`,
	})

	assert.Equal(t, []any{
		map[string]any{"pitch": "C4", "beat": 1.0},
		map[string]any{"pitch": "", "beat": 2.0},
	}, args["notes"])
}

func TestJSONSchema(t *testing.T) {
	js := testSchema().JSONSchema()
	assert.Equal(t, "object", js["type"])
	props := js["properties"].(map[string]any)
	mode := props["mode"].(map[string]any)
	assert.Equal(t, []string{"soft", "hard"}, mode["enum"])
	assert.Equal(t, []string{"track", "mode", "count"}, js["required"])

	pitches := props["pitches"].(map[string]any)
	assert.Equal(t, "string", pitches["items"].(map[string]any)["type"])
}
