package domain

import "strings"

// Mode selects which broadcasters the supervisor composes.
type Mode string

const (
	ModeConsole           Mode = "console"
	ModeNetwork           Mode = "network"
	ModeNetworkAndConsole Mode = "network+console"
)

// modeAliases maps legacy mode names onto their canonical form.
var modeAliases = map[string]Mode{
	"print":           ModeConsole,
	"telnet":          ModeNetwork,
	"telnet+print":    ModeNetworkAndConsole,
	"console+network": ModeNetworkAndConsole,
}

// ParseMode normalises a mode selector. Unknown values yield a ConfigurationError.
func ParseMode(s string) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch m := Mode(normalized); m {
	case ModeConsole, ModeNetwork, ModeNetworkAndConsole:
		return m, nil
	}
	if m, ok := modeAliases[normalized]; ok {
		return m, nil
	}
	return "", &ConfigurationError{Field: "mode", Value: s, Reason: "unsupported mode"}
}

// UsesConsole reports whether the mode includes the console broadcaster.
func (m Mode) UsesConsole() bool {
	return m == ModeConsole || m == ModeNetworkAndConsole
}

// UsesNetwork reports whether the mode includes the connection server.
func (m Mode) UsesNetwork() bool {
	return m == ModeNetwork || m == ModeNetworkAndConsole
}
