package board

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ProjectSlugPrefix is prepended to every generated project slug.
const ProjectSlugPrefix = "prj-"

const (
	slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength   = 10
)

// NewProjectSlug returns a short URL-safe project handle such as
// "prj-4k2m9x0qza".
func NewProjectSlug() (string, error) {
	id, err := nanoid.Generate(slugAlphabet, slugLength)
	if err != nil {
		return "", fmt.Errorf("slug: %w", err)
	}
	return ProjectSlugPrefix + id, nil
}
