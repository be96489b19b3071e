package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultRoomName = "lobby"

	MaxRoomNameLength  = 64
	MaxRoomTopicLength = 256
)

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = fmt.Errorf("room name must not exceed %d characters", MaxRoomNameLength)
var ErrRoomNameInvalidChars = errors.New("room name must contain only alphanumeric characters, dots, underscores, or hyphens")
var ErrRoomTopicTooLong = fmt.Errorf("room topic must not exceed %d characters", MaxRoomTopicLength)

// Room is a pinned room definition. Pinned rooms come from the rooms file or
// the datastore and survive being empty; rooms created at runtime are never
// stored.
type Room struct {
	Name      string    `json:"name" yaml:"name"`
	Topic     string    `json:"topic,omitempty" yaml:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// ValidateRoomName checks that a room name is 1-64 ASCII alphanumeric, dot,
// underscore, or hyphen characters. Commas are excluded so a room list can be
// carried in a single comma-separated field.
func ValidateRoomName(name string) error {
	if len(name) == 0 {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	for _, r := range name {
		if !isNameRune(r) && r != '.' {
			return ErrRoomNameInvalidChars
		}
	}
	return nil
}

// Validate checks the name and topic of a room definition.
func (r *Room) Validate() error {
	if err := ValidateRoomName(r.Name); err != nil {
		return err
	}
	if strings.ContainsAny(r.Topic, "\n\r") {
		return errors.New("room topic must be a single line")
	}
	if utf8.RuneCountInString(r.Topic) > MaxRoomTopicLength {
		return ErrRoomTopicTooLong
	}
	return nil
}
