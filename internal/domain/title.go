package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrEmptyTitle = errors.New("topic title cannot be empty")

// TitleInput is the validated shape of a create/rename request.
type TitleInput struct {
	Title string `validate:"required"`
}

var titleValidator = validator.New(validator.WithRequiredStructEnabled())

// NormalizeTitle trims a topic title and validates it before any I/O happens.
// Any non-empty trimmed title is accepted as is.
func NormalizeTitle(title string) (string, error) {
	input := TitleInput{Title: strings.TrimSpace(title)}
	if err := titleValidator.Struct(input); err != nil {
		return "", ErrEmptyTitle
	}
	return input.Title, nil
}

// IsValidationError reports whether err came from local input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyTitle)
}
