package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ClientIDRegex validates client connection ID format
	ClientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ColorRegex validates a CSS hex color
	ColorRegex = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateClientID validates a relay-assigned client connection ID
func ValidateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if len(clientID) > 100 {
		return fmt.Errorf("client ID is too long (max 100 characters)")
	}
	if !ClientIDRegex.MatchString(clientID) {
		return fmt.Errorf("invalid client ID format")
	}
	return nil
}

// ValidateDisplayName validates a collaborator display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("display name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return nil
}

// ValidateDisplayColor validates a collaborator cursor color
func ValidateDisplayColor(color string) error {
	if color == "" {
		return fmt.Errorf("display color is required")
	}
	if !ColorRegex.MatchString(color) {
		return fmt.Errorf("display color must be a hex color like #3b82f6")
	}
	return nil
}

// ValidateFileName validates a file name within a room
func ValidateFileName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	if len(name) > 255 {
		return fmt.Errorf("file name is too long (max 255 characters)")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("file name must not contain path separators")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("file name contains invalid characters")
	}
	return nil
}
