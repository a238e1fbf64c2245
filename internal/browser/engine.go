package browser

import "fmt"

// Engine identifies which browser engine implementation to launch.
type Engine string

const (
	Chromium Engine = "chromium"
	Firefox  Engine = "firefox"
	WebKit   Engine = "webkit"
)

// Engines lists every supported engine in a stable order.
var Engines = []Engine{Chromium, Firefox, WebKit}

// ParseEngine maps a case-sensitive engine name. An empty name yields def.
func ParseEngine(name string, def Engine) (Engine, error) {
	if name == "" {
		return def, nil
	}
	switch e := Engine(name); e {
	case Chromium, Firefox, WebKit:
		return e, nil
	}
	return "", fmt.Errorf("%w: unsupported browser %q (want chromium, firefox or webkit)", ErrMalformedPayload, name)
}

func (e Engine) String() string {
	return string(e)
}
