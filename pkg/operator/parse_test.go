package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Action
	}{
		{
			name: "single call",
			text: `click(start_box='[100,200,300,400]')`,
			want: []Action{{Type: "click", Inputs: ActionInputs{StartBox: "[100,200,300,400]"}}},
		},
		{
			name: "thought and action headers",
			text: "Thought: the button is on the left.\nAction: left_double(start_box='(10,20)')",
			want: []Action{{Type: "left_double", Inputs: ActionInputs{StartBox: "(10,20)"}}},
		},
		{
			name: "several actions with escapes",
			text: "hotkey(key='ctrl c')\ntype(content='hello\\n')",
			want: []Action{
				{Type: "hotkey", Inputs: ActionInputs{Key: "ctrl c"}},
				{Type: "type", Inputs: ActionInputs{Content: "hello\n"}},
			},
		},
		{
			name: "argument aliases",
			text: `drag(start_point="(1,2)", end_point="(3,4)")`,
			want: []Action{{Type: "drag", Inputs: ActionInputs{StartBox: "(1,2)", EndBox: "(3,4)"}}},
		},
		{
			name: "bare name",
			text: "wait",
			want: []Action{{Type: "wait"}},
		},
		{
			name: "empty arguments",
			text: "Finished()",
			want: []Action{{Type: "finished"}},
		},
		{
			name: "json object",
			text: `{"type":"Scroll","inputs":{"start_box":"[1,2,3,4]","direction":"up"}}`,
			want: []Action{{Type: "scroll", Inputs: ActionInputs{StartBox: "[1,2,3,4]", Direction: "up"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAction_Invalid(t *testing.T) {
	for _, text := range []string{
		"",
		"Thought: I am not sure yet",
		"click(start_box='[1,2",
		"click(start_box)",
		`{"inputs":{}}`,
	} {
		_, err := ParseAction(text)
		assert.Error(t, err, text)
	}
}

func TestParseBox(t *testing.T) {
	t.Run("should return the midpoint of a box", func(t *testing.T) {
		p, err := ParseBox("[100,200,300,400]")
		require.NoError(t, err)
		assert.Equal(t, Point{X: 200, Y: 300}, p)
	})

	t.Run("should accept points and model markers", func(t *testing.T) {
		p, err := ParseBox("<|box_start|>(10, 20)<|box_end|>")
		require.NoError(t, err)
		assert.Equal(t, Point{X: 10, Y: 20}, p)
	})

	t.Run("should reject other arities", func(t *testing.T) {
		_, err := ParseBox("[1,2,3]")
		assert.ErrorIs(t, err, ErrInvalidBox)
		_, err = ParseBox("nowhere")
		assert.ErrorIs(t, err, ErrInvalidBox)
	})
}

func TestToScreen(t *testing.T) {
	t.Run("should scale virtual points to the logical screen", func(t *testing.T) {
		p := ToScreen(Point{X: 500, Y: 500}, Screen{Width: 1920, Height: 1080, ScaleFactor: 1}, 1000, 1000, false)
		assert.Equal(t, Point{X: 960, Y: 540}, p)
	})

	t.Run("should address physical pixels on hidpi screens", func(t *testing.T) {
		screen := Screen{Width: 3840, Height: 2160, ScaleFactor: 2}
		assert.Equal(t, Point{X: 1920, Y: 1080}, ToScreen(Point{X: 500, Y: 500}, screen, 1000, 1000, true))
		assert.Equal(t, Point{X: 960, Y: 540}, ToScreen(Point{X: 500, Y: 500}, screen, 1000, 1000, false))
	})

	t.Run("should clamp to the screen", func(t *testing.T) {
		screen := Screen{Width: 1920, Height: 1080, ScaleFactor: 1}
		assert.Equal(t, Point{X: 1919, Y: 1079}, ToScreen(Point{X: 1200, Y: 1000}, screen, 1000, 1000, true))
		assert.Equal(t, Point{X: 0, Y: 0}, ToScreen(Point{X: -5, Y: -1}, screen, 1000, 1000, true))
	})
}

func TestNormalizeKeys(t *testing.T) {
	tests := []struct {
		hotkey   string
		platform string
		want     []string
	}{
		{"ctrl+c", "linux", []string{"ctrl", "c"}},
		{"Command C", "linux", []string{"ctrl", "c"}},
		{"ctrl c", "darwin", []string{"cmd", "c"}},
		{"Return", "linux", []string{"enter"}},
		{"  ", "linux", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.hotkey+"/"+tt.platform, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKeys(tt.hotkey, tt.platform))
		})
	}
}
