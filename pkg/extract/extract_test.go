package extract

import (
	"reflect"
	"testing"
)

func TestCodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single python block",
			text: "Sure:\n```python\nprint(1+1)\n```",
			want: []string{"print(1+1)\n"},
		},
		{
			name: "single untagged block",
			text: "```\nx = 1\n```",
			want: []string{"x = 1\n"},
		},
		{
			name: "no blocks",
			text: "Just prose, no code here.",
			want: nil,
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "multiple python blocks in source order",
			text: "first\n```python\na = 1\n```\nthen\n```python\nb = 2\n```\ndone",
			want: []string{"a = 1\n", "b = 2\n"},
		},
		{
			name: "mixed styles extracted once each",
			text: "```python\nprint('tagged')\n```\nmiddle\n```\nprint('plain')\n```",
			want: []string{"print('tagged')\n", "print('plain')\n"},
		},
		{
			name: "other language tags are skipped",
			text: "```bash\necho hi\n```\n\n```python\nprint('ok')\n```",
			want: []string{"print('ok')\n"},
		},
		{
			name: "multiline block",
			text: "```python\nimport math\nprint(math.pi)\n```",
			want: []string{"import math\nprint(math.pi)\n"},
		},
		{
			name: "unclosed fence yields nothing",
			text: "```python\nprint(1)",
			want: nil,
		},
		{
			name: "empty block",
			text: "```python\n```",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CodeBlocks(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CodeBlocks() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeBlocks_CountMatchesWellFormedBlocks(t *testing.T) {
	// N well-formed python blocks and zero untagged blocks must yield
	// exactly N code strings.
	text := ""
	for i := 0; i < 5; i++ {
		text += "```python\nprint(" + string(rune('0'+i)) + ")\n```\nprose\n"
	}

	got := CodeBlocks(text)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5 (blocks: %q)", len(got), got)
	}
	for i, block := range got {
		want := "print(" + string(rune('0'+i)) + ")\n"
		if block != want {
			t.Errorf("block %d = %q, want %q", i, block, want)
		}
	}
}
