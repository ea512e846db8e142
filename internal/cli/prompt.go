package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrCanceled is returned when the user dismisses the file picker.
var ErrCanceled = errors.New("selection canceled")

// imagePatterns lists the file filters offered by the picker.
var imagePatterns = []string{
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp",
	"*.heic", "*.heif", "*.bmp", "*.tif", "*.tiff",
}

// PickImage opens the native file picker restricted to supported images.
func PickImage() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Choisir une image"),
		zenity.FileFilters{
			{Name: "Images", Patterns: imagePatterns},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrCanceled
		}
		log.Error().Err(err).Msg("File picker failed")
		return "", fmt.Errorf("file picker: %w", err)
	}
	return path, nil
}

// Prompter reads trimmed lines from an interactive input.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter returns a Prompter reading from in and printing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Line prints prompt and returns the next line without surrounding space.
// io.EOF is returned once the input is exhausted and nothing was typed.
func (p *Prompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	input, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
