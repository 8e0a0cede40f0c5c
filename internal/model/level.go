package model

import "fmt"

// Level is a folder permission level. Levels are totally ordered: a grant at
// some level implies every lower level, so holding LevelAll permits
// everything and LevelNone permits nothing.
type Level int8

const (
	LevelNone Level = iota
	LevelView
	LevelDownload
	LevelUpload
	LevelEdit
	LevelDelete
	LevelDeleteFolder
	LevelCreateFolder
	LevelAll
)

var levelNames = map[Level]string{
	LevelNone:         "none",
	LevelView:         "view",
	LevelDownload:     "download",
	LevelUpload:       "upload",
	LevelEdit:         "edit",
	LevelDelete:       "delete",
	LevelDeleteFolder: "delete_folder",
	LevelCreateFolder: "create_folder",
	LevelAll:          "all",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int8(l))
}

// Permits reports whether a grant at level l satisfies a requirement of
// level required.
func (l Level) Permits(required Level) bool {
	return l >= required
}

// ParseLevel maps a level name, as written in configuration, to its Level.
func ParseLevel(name string) (Level, error) {
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown permission level: %q", name)
}
