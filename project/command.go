package project

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CMD_AUTOLEVEL      = "autolevel"
	CMD_REAPPLY        = "autolevel_reapply"
	CMD_APPLY_MESH     = "autolevel_apply_mesh"
	CMD_APPLY_SKEW     = "autolevel_apply_skew"
	CMD_SKEW           = "autolevel_skew"
	CMD_SKEW_MEASURE   = "autolevel_skew_measure"
	CMD_CLEAR_MESH     = "autolevel_clear_mesh"
	CMD_GET_MESH       = "autolevel_get_mesh"
	CMD_STOP           = "autolevel_stop"
	CMD_FETCH_SETTINGS = "autolevel_fetch_settings"
	CMD_SAVE_SETTINGS  = "autolevel_save_settings"
	CMD_UNLOAD         = "autolevel_unload"
)

var knownCommands = map[string]bool{
	CMD_AUTOLEVEL:      true,
	CMD_REAPPLY:        true,
	CMD_APPLY_MESH:     true,
	CMD_APPLY_SKEW:     true,
	CMD_SKEW:           true,
	CMD_SKEW_MEASURE:   true,
	CMD_CLEAR_MESH:     true,
	CMD_GET_MESH:       true,
	CMD_STOP:           true,
	CMD_FETCH_SETTINGS: true,
	CMD_SAVE_SETTINGS:  true,
	CMD_UNLOAD:         true,
}

// Command is an operator request such as "(autolevel D10 H2 GRID5)".
// Args are keyed by their upper case letter prefix.
type Command struct {
	Name    string
	Args    map[string]float64
	Payload string
}

func (c Command) Has(key string) bool {
	_, ok := c.Args[key]
	return ok
}

// Get returns the argument or def when it is absent.
func (c Command) Get(key string, def float64) float64 {
	if v, ok := c.Args[key]; ok {
		return v
	}
	return def
}

// ParseCommand recognises a command line, with or without the enclosing
// parentheses. ok is false for anything that is not a command, so plain
// G-code can be forwarded.
func ParseCommand(line string) (Command, bool, error) {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "(") {
		s = strings.TrimSpace(strings.TrimSuffix(s[1:], ")"))
	}
	name, rest, _ := strings.Cut(s, " ")
	name = strings.ToLower(name)
	if !knownCommands[name] {
		return Command{}, false, nil
	}
	cmd := Command{Name: name, Args: map[string]float64{}}
	rest = strings.TrimSpace(rest)
	if name == CMD_SAVE_SETTINGS {
		cmd.Payload = rest
		return cmd, true, nil
	}
	for _, field := range strings.Fields(rest) {
		i := 0
		for i < len(field) && isLetter(field[i]) {
			i++
		}
		if i == 0 || i == len(field) {
			return cmd, true, fmt.Errorf("%s: bad argument %q", name, field)
		}
		v, err := strconv.ParseFloat(field[i:], 64)
		if err != nil || !isFinite(v) {
			return cmd, true, fmt.Errorf("%s: bad argument %q", name, field)
		}
		cmd.Args[strings.ToUpper(field[:i])] = v
	}
	return cmd, true, nil
}
