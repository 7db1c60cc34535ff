package ffmpeg

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderArgs(t *testing.T) {
	t.Run("globals then inputs then outputs", func(t *testing.T) {
		b := New().
			Option(Flag("y")).
			Input(NewFile("in.mkv")).
			Output(NewFile("out.mp4").WithOption(KV("vcodec", "libx265")))

		expected := []string{"-y", "-i", "in.mkv", "-vcodec", "libx265", "out.mp4"}
		assert.Equal(t, expected, b.Args())
	})

	t.Run("input options precede the input marker", func(t *testing.T) {
		b := New().
			Input(NewFile("in.mkv").WithOption(KV("ss", "10"))).
			Output(NewFile("out.mp4"))

		assert.Equal(t, []string{"-ss", "10", "-i", "in.mkv", "out.mp4"}, b.Args())
	})

	t.Run("multiple inputs and outputs keep order", func(t *testing.T) {
		b := New().
			Option(Flag("nostdin")).
			Option(KV("loglevel", "error")).
			Input(NewFile("a.mkv")).
			Input(NewFile("b.mkv")).
			Output(NewFile("a.mp4")).
			Output(NewFile("b.mp4").WithOption(Flag("an")))

		expected := []string{
			"-nostdin", "-loglevel", "error",
			"-i", "a.mkv", "-i", "b.mkv",
			"a.mp4", "-an", "b.mp4",
		}
		assert.Equal(t, expected, b.Args())
	})

	t.Run("empty flag name renders one empty argument", func(t *testing.T) {
		b := New().Option(Flag(""))
		assert.Equal(t, []string{""}, b.Args())
	})

	t.Run("values pass through unescaped", func(t *testing.T) {
		b := New().Option(KV("vf", `scale=1280:-1, crop="a b"`))
		assert.Equal(t, []string{"-vf", `scale=1280:-1, crop="a b"`}, b.Args())
	})
}

func TestWithOptionDoesNotAliasSiblings(t *testing.T) {
	base := NewFile("out.mp4").WithOption(KV("vcodec", "libx265"))
	first := base.WithOption(KV("crf", "28"))
	second := base.WithOption(KV("crf", "18"))

	require.Len(t, first.Options, 2)
	assert.Equal(t, KV("crf", "28"), first.Options[1])
	require.Len(t, second.Options, 2)
	assert.Equal(t, KV("crf", "18"), second.Options[1])
}

func TestBuilderCommand(t *testing.T) {
	var stderr bytes.Buffer
	b := New().
		Binary("ffmpeg-custom").
		Stderr(&stderr).
		Input(NewFile("in.mkv")).
		Output(NewFile("out.mp4"))

	cmd := b.Command(context.Background())
	require.NotNil(t, cmd)
	assert.Contains(t, cmd.Path, "ffmpeg-custom")
	assert.Equal(t, []string{"ffmpeg-custom", "-i", "in.mkv", "out.mp4"}, cmd.Args)
	assert.Nil(t, cmd.Stdin)
	assert.Nil(t, cmd.Stdout)
	assert.Equal(t, &stderr, cmd.Stderr)
}
